package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rorycl/d365cli/apiclients/d365"
)

// Customer is a row of the customers snapshot table.
type Customer struct {
	DataAreaID string    `db:"data_area_id"`
	Account    string    `db:"customer_account"`
	Name       string    `db:"organization_name"`
	Group      string    `db:"customer_group_id"`
	Currency   string    `db:"sales_currency_code"`
	Email      string    `db:"primary_contact_email"`
	Phone      string    `db:"primary_contact_phone"`
	FetchedAt  time.Time `db:"fetched_at"`
}

// Export records one snapshot run.
type Export struct {
	ID          int64     `db:"id"`
	Environment string    `db:"environment"`
	RecordCount int       `db:"record_count"`
	ExportedAt  time.Time `db:"exported_at"`
}

// ExportCustomers upserts records keyed on company and account and records the
// export, all in one transaction. Records without an account are rejected.
func (db *DB) ExportCustomers(ctx context.Context, environment string, records []d365.Record, at time.Time) (*Export, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := tx.NamedStmtContext(ctx, db.customerUpsertStmt.NamedStmt)
	for i, r := range records {
		if r.String("CustomerAccount") == "" {
			return nil, fmt.Errorf("record %d has no CustomerAccount", i)
		}
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("record %d marshal error: %w", i, err)
		}
		args := map[string]any{
			"DataAreaId":          r.String("DataAreaId"),
			"CustomerAccount":     r.String("CustomerAccount"),
			"OrganizationName":    r.String("OrganizationName"),
			"CustomerGroupId":     r.String("CustomerGroupId"),
			"SalesCurrencyCode":   r.String("SalesCurrencyCode"),
			"PrimaryContactEmail": r.String("PrimaryContactEmail"),
			"PrimaryContactPhone": r.String("PrimaryContactPhone"),
			"Raw":                 string(raw),
			"FetchedAt":           at.UTC(),
		}
		if err := db.customerUpsertStmt.verifyArgs(args); err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, args); err != nil {
			return nil, fmt.Errorf("customer %s upsert error: %w", r.String("CustomerAccount"), err)
		}
	}

	export := &Export{
		Environment: environment,
		RecordCount: len(records),
		ExportedAt:  at.UTC(),
	}
	res, err := tx.NamedExecContext(ctx,
		`INSERT INTO exports (environment, record_count, exported_at)
		 VALUES (:environment, :record_count, :exported_at)`,
		export,
	)
	if err != nil {
		return nil, fmt.Errorf("export insert error: %w", err)
	}
	if export.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("export commit error: %w", err)
	}
	db.log.Info(fmt.Sprintf("ExportCustomers: %d customers saved (export %d)", len(records), export.ID))
	return export, nil
}

// Customers returns the snapshot, limited to company if it is not empty.
func (db *DB) Customers(ctx context.Context, company string) ([]Customer, error) {
	args := map[string]any{"Company": company}
	if err := db.customersGetStmt.verifyArgs(args); err != nil {
		return nil, err
	}
	var customers []Customer
	if err := db.customersGetStmt.SelectContext(ctx, &customers, args); err != nil {
		return nil, fmt.Errorf("customers query error: %w", err)
	}
	return customers, nil
}

// LastExport returns the most recent export.
func (db *DB) LastExport(ctx context.Context) (*Export, error) {
	var e Export
	err := db.GetContext(ctx, &e, `SELECT id, environment, record_count, exported_at FROM exports ORDER BY id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoExports
		}
		return nil, err
	}
	return &e, nil
}

// ErrNoExports is returned by LastExport on an empty database.
var ErrNoExports = errors.New("no exports recorded")
