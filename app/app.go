// Package app coordinates configuration, authentication, the d365 client and
// the outputs (terminal tables, the dashboard and the snapshot database) for
// each command.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rorycl/d365cli/apiclients/d365"
	"github.com/rorycl/d365cli/config"
	"github.com/rorycl/d365cli/db"
	"github.com/rorycl/d365cli/display"
	"github.com/rorycl/d365cli/internal/mounts"
	"github.com/rorycl/d365cli/web"
)

// Globals are the settings shared by every command.
type Globals struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool
}

// RetrieveOptions control the retrieve command.
type RetrieveOptions struct {
	CrossCompany bool
	MaxRecords   int
	AllColumns   bool
	DryRun       bool // authenticate only
}

// DashboardOptions control the dashboard command. With Serve or Listen set
// the dashboard is served rather than written to Output. Listen overrides the
// configured address.
type DashboardOptions struct {
	CrossCompany bool
	MaxRecords   int
	Output       string
	Serve        bool
	Listen       string
}

// ExportOptions control the export command.
type ExportOptions struct {
	CrossCompany bool
	MaxRecords   int
	DBPath       string
}

// App is the central orchestrator for the application's business logic.
type App struct {
	out    io.Writer // command results
	errOut io.Writer // terminal logging
	now    func() time.Time
}

// New creates an App writing results to out and logs to errOut.
func New(out, errOut io.Writer) *App {
	return &App{out: out, errOut: errOut, now: time.Now}
}

// session is an authenticated connection to an environment.
type session struct {
	cfg      *config.Config
	log      *slog.Logger
	auth     *d365.Authenticator
	client   *d365.Client
	closeLog func() error
}

func (s *session) close() {
	_ = s.closeLog()
}

// connect loads the configuration, sets up logging and acquires a token. The
// caller must close the returned session.
func (a *App) connect(ctx context.Context, g Globals) (*session, error) {
	cfg, err := config.Load(g.ConfigPath, g.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	logger, closeLog, err := newLogger(a.errOut, g.Verbose, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: logger, closeLog: closeLog}

	s.auth, err = d365.NewAuthenticator(
		cfg.Credentials(),
		d365.WithAuthorityHost(cfg.D365.AuthorityHost),
		d365.WithAuthLogger(logger),
	)
	if err != nil {
		s.close()
		return nil, err
	}
	token, err := s.auth.Token(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	fmt.Fprintf(a.out, "Authenticated to %s\n", s.auth.EnvironmentURL())

	opts := []d365.ClientOption{d365.WithLogger(logger)}
	if cfg.D365.ReauthOnUnauthorized {
		opts = append(opts, d365.WithReauthenticator(s.auth))
	}
	s.client, err = d365.NewClient(cfg.D365.EnvironmentURL, token, cfg.RetryPolicy(), opts...)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// Retrieve lists customers as a table.
func (a *App) Retrieve(ctx context.Context, g Globals, o RetrieveOptions) error {
	s, err := a.connect(ctx, g)
	if err != nil {
		return err
	}
	defer s.close()

	if o.DryRun {
		fmt.Fprintln(a.out, "Dry run: authentication succeeded, no data requested.")
		return nil
	}

	start := a.now()
	customers, err := s.client.GetCustomers(ctx, o.CrossCompany, o.MaxRecords)
	if err != nil {
		return err
	}
	if err := display.Customers(a.out, customers, o.AllColumns); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Completed in %.2fs\n", a.now().Sub(start).Seconds())
	return nil
}

// Create creates a customer and shows the record returned by the server.
func (a *App) Create(ctx context.Context, g Globals, n d365.NewCustomer) error {
	s, err := a.connect(ctx, g)
	if err != nil {
		return err
	}
	defer s.close()

	created, err := s.client.CreateCustomer(ctx, n)
	if err != nil {
		return err
	}
	return display.CreatedCustomer(a.out, created)
}

// templates mounts the built-in templates, or the configured templates
// directory.
func templates(cfg *config.Config) (*mounts.FileMount, error) {
	fm, err := mounts.NewFileMount("templates", web.TemplatesEmbeddedFS, cfg.Web.TemplatesPath, web.TemplateFiles()...)
	if err != nil {
		return nil, fmt.Errorf("templates error: %w", err)
	}
	return fm, nil
}

// Dashboard writes the customer dashboard to a file or serves it until
// interrupted.
func (a *App) Dashboard(ctx context.Context, g Globals, o DashboardOptions) error {
	s, err := a.connect(ctx, g)
	if err != nil {
		return err
	}
	defer s.close()

	tpls, err := templates(s.cfg)
	if err != nil {
		return err
	}

	if o.Serve || o.Listen != "" {
		addr := o.Listen
		if addr == "" {
			addr = s.cfg.Web.ListenAddress
		}
		svc := &renewingService{auth: s.auth, client: s.client}
		webApp, err := web.New(s.log, svc, tpls.FS, web.Options{
			ListenAddress: addr,
			TemplatesDir:  tpls.Dir,
			CrossCompany:  o.CrossCompany,
			MaxRecords:    o.MaxRecords,
		})
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Fprintf(a.out, "Serving dashboard at http://%s (interrupt to stop)\n", addr)
		return webApp.StartServer(ctx)
	}

	customers, err := s.client.GetCustomers(ctx, o.CrossCompany, o.MaxRecords)
	if err != nil {
		return err
	}
	output := o.Output
	if output == "" {
		output = s.cfg.Web.DashboardFile
	}
	var buf bytes.Buffer
	if err := web.WriteDashboard(&buf, tpls.FS, customers, a.now()); err != nil {
		return err
	}
	if err := os.WriteFile(output, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("could not write dashboard: %w", err)
	}
	fmt.Fprintf(a.out, "Dashboard for %d customers written to %s\n", len(customers), output)
	return nil
}

// Export saves a customer snapshot to the sqlite database.
func (a *App) Export(ctx context.Context, g Globals, o ExportOptions) error {
	s, err := a.connect(ctx, g)
	if err != nil {
		return err
	}
	defer s.close()

	dbPath := o.DBPath
	if dbPath == "" {
		dbPath = s.cfg.DatabasePath
	}
	if dbPath == "" {
		return errors.New("no database path: use --db or set database_path")
	}

	customers, err := s.client.GetCustomers(ctx, o.CrossCompany, o.MaxRecords)
	if err != nil {
		return err
	}

	conn, err := db.NewConnection(ctx, dbPath, s.log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	previous, err := conn.LastExport(ctx)
	if err != nil && !errors.Is(err, db.ErrNoExports) {
		return fmt.Errorf("failed to read exports: %w", err)
	}
	export, err := conn.ExportCustomers(ctx, s.cfg.D365.EnvironmentURL, customers, a.now())
	if err != nil {
		return fmt.Errorf("failed to save customers: %w", err)
	}
	fmt.Fprintf(a.out, "Saved %d customers to %s (export %d)\n", export.RecordCount, dbPath, export.ID)
	if previous != nil {
		fmt.Fprintf(a.out, "Previous export: %d customers at %s\n", previous.RecordCount, previous.ExportedAt.Format(time.DateTime))
	}
	return nil
}

// ExportTemplates writes the built-in dashboard templates to a "templates"
// directory under dir for customisation.
func (a *App) ExportTemplates(_ context.Context, dir string) error {
	fm, err := mounts.NewFileMount("templates", web.TemplatesEmbeddedFS, "")
	if err != nil {
		return err
	}
	out, err := fm.Materialize(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Templates written to %s\nSet web.templates_path to %q to use them.\n", out, out)
	return nil
}
