package app

import (
	"context"

	"github.com/rorycl/d365cli/apiclients/d365"
)

// renewingService is the web.CustomerService used when serving. A server
// outlives the token acquired at start-up, so each call first asks the
// Authenticator for a token, which is only fetched again once the cached one
// has expired. Calls are serialised by the web server.
type renewingService struct {
	auth   *d365.Authenticator
	client *d365.Client
}

func (rs *renewingService) renew(ctx context.Context) error {
	tok, err := rs.auth.Token(ctx)
	if err != nil {
		return err
	}
	rs.client.SetToken(tok)
	return nil
}

// GetCustomers fetches customers with a current token.
func (rs *renewingService) GetCustomers(ctx context.Context, crossCompany bool, maxRecords int) ([]d365.Record, error) {
	if err := rs.renew(ctx); err != nil {
		return nil, err
	}
	return rs.client.GetCustomers(ctx, crossCompany, maxRecords)
}

// CreateCustomer creates a customer with a current token.
func (rs *renewingService) CreateCustomer(ctx context.Context, n d365.NewCustomer) (d365.Record, error) {
	if err := rs.renew(ctx); err != nil {
		return nil, err
	}
	return rs.client.CreateCustomer(ctx, n)
}
