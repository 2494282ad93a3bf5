package web

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"time"

	"github.com/rorycl/d365cli/apiclients/d365"
)

// breakdownLimit is the number of rows shown per breakdown.
const breakdownLimit = 10

// Count is one row of a breakdown.
type Count struct {
	Label   string
	Count   int
	Percent float64
}

// Breakdown ranks the values of one customer field.
type Breakdown struct {
	Title    string
	Rows     []Count
	Distinct int
	More     int // distinct values not shown
}

// Coverage reports how many customers have a contact channel filled in.
type Coverage struct {
	Channel string
	Count   int
	Total   int
	Percent float64
}

// Stats summarises a set of customers for the dashboard.
type Stats struct {
	Generated     time.Time
	Total         int
	Groups        int
	Currencies    int
	Companies     int
	EmailCoverage float64
	Breakdowns    []Breakdown
	Coverage      []Coverage
}

// Summarise computes the dashboard metrics for customers.
func Summarise(customers []d365.Record, now time.Time) Stats {
	total := len(customers)
	groups := breakdown("By Customer Group", "CustomerGroupId", customers)
	currencies := breakdown("By Currency", "SalesCurrencyCode", customers)
	companies := breakdown("By Company", "DataAreaId", customers)

	var email, phone int
	for _, c := range customers {
		if c.String("PrimaryContactEmail") != "" {
			email++
		}
		if c.String("PrimaryContactPhone") != "" {
			phone++
		}
	}

	return Stats{
		Generated:     now,
		Total:         total,
		Groups:        groups.Distinct,
		Currencies:    currencies.Distinct,
		Companies:     companies.Distinct,
		EmailCoverage: percent(email, total),
		Breakdowns:    []Breakdown{groups, currencies, companies},
		Coverage: []Coverage{
			{"Email", email, total, percent(email, total)},
			{"Phone", phone, total, percent(phone, total)},
		},
	}
}

// breakdown counts field values, most common first. Ties are ordered by label.
func breakdown(title, field string, customers []d365.Record) Breakdown {
	counts := map[string]int{}
	for _, c := range customers {
		counts[c.String(field)]++
	}
	rows := make([]Count, 0, len(counts))
	for label, n := range counts {
		rows = append(rows, Count{Label: label, Count: n, Percent: percent(n, len(customers))})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Label < rows[j].Label
	})

	b := Breakdown{Title: title, Distinct: len(rows)}
	if len(rows) > breakdownLimit {
		b.More = len(rows) - breakdownLimit
		rows = rows[:breakdownLimit]
	}
	b.Rows = rows
	return b
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// WriteDashboard renders a standalone dashboard page for customers to w using
// the templates in templateFS.
func WriteDashboard(w io.Writer, templateFS fs.FS, customers []d365.Record, now time.Time) error {
	ts, err := newTemplateSet(templateFS)
	if err != nil {
		return err
	}
	tpl, err := ts.get(dashboardPage)
	if err != nil {
		return err
	}
	data := dashboardData{
		page:  page{PageTitle: "Customer Dashboard"},
		Stats: Summarise(customers, now),
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, dashboardPage, data); err != nil {
		return fmt.Errorf("template %q rendering error: %w", dashboardPage, err)
	}
	_, err = buf.WriteTo(w)
	return err
}
