// Package display renders customer records as terminal tables.
package display

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/rorycl/d365cli/apiclients/d365"
)

// maxCellWidth truncates long values so wide tables stay readable.
const maxCellWidth = 30

// Headers and Columns define the default customer table.
var (
	Headers = []string{"Account", "Name", "Group", "Currency", "Email", "Company"}
	Columns = []string{
		"CustomerAccount",
		"OrganizationName",
		"CustomerGroupId",
		"SalesCurrencyCode",
		"PrimaryContactEmail",
		"DataAreaId",
	}
)

// priorityFields lead the created customer table.
var priorityFields = []string{
	"CustomerAccount",
	"OrganizationName",
	"CustomerGroupId",
	"SalesCurrencyCode",
	"DataAreaId",
}

const rule = "================================================================================"

// Customers writes customers as a table. With allColumns every field is shown,
// otherwise only the default columns.
func Customers(w io.Writer, customers []d365.Record, allColumns bool) error {
	if len(customers) == 0 {
		_, err := fmt.Fprintln(w, "\nNo customers found.")
		return err
	}

	headers, columns := Headers, Columns
	if allColumns {
		columns = fieldNames(customers)
		headers = columns
	}

	fmt.Fprintf(w, "\n%s\n  D365 F&O CUSTOMERS - %d records\n%s\n\n", rule, len(customers), rule)

	var opts []tablewriter.Option
	if allColumns {
		// field names are shown as the API spells them
		opts = append(opts, tablewriter.WithHeaderAutoFormat(tw.Off))
	}
	table := tablewriter.NewTable(w, opts...)
	table.Header(toAny(headers)...)
	for _, c := range customers {
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = truncate(c.String(col), maxCellWidth)
		}
		if err := table.Append(row...); err != nil {
			return fmt.Errorf("table append error: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("table render error: %w", err)
	}

	_, err := fmt.Fprintf(w, "\n  Total: %d customers\n\n", len(customers))
	return err
}

// CreatedCustomer writes a Field/Value table for a newly created customer.
// Identifying fields come first; OData annotations are skipped.
func CreatedCustomer(w io.Writer, customer d365.Record) error {
	if len(customer) == 0 {
		_, err := fmt.Fprintln(w, "\nNo customer data returned from API.")
		return err
	}

	fmt.Fprintf(w, "\n%s\n  CUSTOMER CREATED SUCCESSFULLY\n%s\n\n", rule[:60], rule[:60])

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	shown := map[string]bool{}
	for _, f := range priorityFields {
		if _, ok := customer[f]; ok {
			if err := table.Append(f, truncate(customer.String(f), 50)); err != nil {
				return fmt.Errorf("table append error: %w", err)
			}
			shown[f] = true
		}
	}
	rest := make([]string, 0, len(customer))
	for k := range customer {
		if !shown[k] && !strings.HasPrefix(k, "@") {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if err := table.Append(k, truncate(customer.String(k), 50)); err != nil {
			return fmt.Errorf("table append error: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("table render error: %w", err)
	}
	_, err := fmt.Fprintln(w)
	return err
}

// fieldNames returns the fields of the first record in the selected field
// order, followed by any other fields alphabetically. Annotations are left out.
func fieldNames(customers []d365.Record) []string {
	first := customers[0]
	var names []string
	for _, f := range d365.CustomerFields {
		if _, ok := first[f]; ok {
			names = append(names, f)
		}
	}
	var extra []string
	for k := range first {
		if !slices.Contains(names, k) && !strings.HasPrefix(k, "@") {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
