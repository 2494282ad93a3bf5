package web

/* view types for the web server */

import (
	"time"

	"github.com/rorycl/d365cli/apiclients/d365"
)

// page is the data shared by every page rendered through base.html.
type page struct {
	PageTitle   string
	CurrentPage string
	Served      bool // show the navigation, only useful when served
	Flash       string
}

type dashboardData struct {
	page
	Stats Stats
}

// customerRow is a flattened view of a customer record for listings.
type customerRow struct {
	Account  string
	Name     string
	Group    string
	Currency string
	Email    string
	Company  string
}

// newCustomerRows maps customer records to their display rows.
func newCustomerRows(records []d365.Record) []customerRow {
	rows := make([]customerRow, len(records))
	for i, r := range records {
		rows[i] = customerRow{
			Account:  r.String("CustomerAccount"),
			Name:     r.String("OrganizationName"),
			Group:    r.String("CustomerGroupId"),
			Currency: r.String("SalesCurrencyCode"),
			Email:    r.String("PrimaryContactEmail"),
			Company:  r.String("DataAreaId"),
		}
	}
	return rows
}

type customersData struct {
	page
	Customers  []customerRow
	Total      int
	Matched    int
	FetchedAt  time.Time
	Form       *ListForm
	Validator  *Validator
	Pagination *Pagination
}

type customerNewData struct {
	page
	Form      *CustomerForm
	Validator *Validator
	Error     string
}

// customersJSON is the body of /customers.json.
type customersJSON struct {
	FetchedAt time.Time     `json:"fetched_at"`
	Count     int           `json:"count"`
	Value     []d365.Record `json:"value"`
}
