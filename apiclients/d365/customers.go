package d365

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CustomersEntity is the customer data entity.
const CustomersEntity = "CustomersV2"

// DefaultCurrency is the sales currency given to new customers when none is
// specified.
const DefaultCurrency = "USD"

// CustomerFields are the CustomersV2 fields selected when listing customers.
var CustomerFields = []string{
	"CustomerAccount",
	"CustomerGroupId",
	"OrganizationName",
	"NameAlias",
	"SalesCurrencyCode",
	"PaymentTermsName",
	"InvoiceAccount",
	"PrimaryContactEmail",
	"PrimaryContactPhone",
	"AddressDescription",
	"DataAreaId",
}

// NewCustomer holds the fields needed to create a customer.
type NewCustomer struct {
	Account  string
	Name     string
	Group    string
	Currency string
}

// payload validates the customer and returns the CustomersV2 request body.
func (n NewCustomer) payload() (Record, error) {
	var missing []string
	if strings.TrimSpace(n.Account) == "" {
		missing = append(missing, "account")
	}
	if strings.TrimSpace(n.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(n.Group) == "" {
		missing = append(missing, "group")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("new customer is missing: %s", strings.Join(missing, ", "))
	}
	currency := strings.TrimSpace(n.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	return Record{
		"CustomerAccount":   strings.TrimSpace(n.Account),
		"OrganizationName":  strings.TrimSpace(n.Name),
		"CustomerGroupId":   strings.TrimSpace(n.Group),
		"SalesCurrencyCode": currency,
	}, nil
}

// GetCustomers retrieves customers, optionally across all legal entities and
// capped at maxRecords (zero for no cap).
func (c *Client) GetCustomers(ctx context.Context, crossCompany bool, maxRecords int) ([]Record, error) {
	c.log.Info(fmt.Sprintf("GetCustomers: retrieving customers from %s", CustomersEntity))
	c.log.Debug(fmt.Sprintf("GetCustomers: fields %s", strings.Join(CustomerFields, ", ")))
	c.log.Debug(fmt.Sprintf("GetCustomers: cross-company %t", crossCompany))

	records, err := c.FetchAll(ctx, Query{
		Entity:       CustomersEntity,
		Select:       CustomerFields,
		CrossCompany: crossCompany,
		MaxRecords:   maxRecords,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info(fmt.Sprintf("GetCustomers: total customers retrieved: %d", len(records)))
	return records, nil
}

// CreateCustomer creates a customer and returns the record as stored by the
// server.
func (c *Client) CreateCustomer(ctx context.Context, n NewCustomer) (Record, error) {
	payload, err := n.payload()
	if err != nil {
		return nil, err
	}
	c.log.Info(fmt.Sprintf("CreateCustomer: creating customer %s in %s", payload["CustomerAccount"], CustomersEntity))

	created, err := c.Create(ctx, CustomersEntity, payload)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errors.New("create response did not contain a customer")
	}
	c.log.Info(fmt.Sprintf("CreateCustomer: customer created: %s", created.String("CustomerAccount")))
	return created, nil
}
