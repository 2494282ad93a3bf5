package main

import (
	"context"
	"errors"

	"github.com/rorycl/d365cli/apiclients/d365"
	"github.com/rorycl/d365cli/app"
	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Retrieve(ctx context.Context, g app.Globals, o app.RetrieveOptions) error
	Create(ctx context.Context, g app.Globals, n d365.NewCustomer) error
	Dashboard(ctx context.Context, g app.Globals, o app.DashboardOptions) error
	Export(ctx context.Context, g app.Globals, o app.ExportOptions) error
	ExportTemplates(ctx context.Context, dir string) error
}

// globals reads the root flags.
func globals(c *cli.Command) app.Globals {
	return app.Globals{
		ConfigPath: c.String("config"),
		EnvFile:    c.String("env-file"),
		Verbose:    c.Bool("verbose"),
	}
}

// maxRecords reads the --max flag, which cannot be negative.
func maxRecords(c *cli.Command) (int, error) {
	n := int(c.Int("max"))
	if n < 0 {
		return 0, errors.New("--max cannot be negative")
	}
	return n, nil
}

// BuildCLI creates the full CLI command structure for the application.
// Running with no command retrieves customers.
func BuildCLI(a Applicator) *cli.Command {

	crossCompanyFlag := &cli.BoolFlag{
		Name:  "cross-company",
		Usage: "include customers from all legal entities",
	}

	maxFlag := &cli.IntFlag{
		Name:  "max",
		Usage: "stop after this many customers (0 for all)",
	}

	// retrieveFlags are also accepted by the root command, which retrieves
	// by default. Those on the root are local so they do not clash with the
	// subcommands' own.
	retrieveFlags := func(local bool) []cli.Flag {
		return []cli.Flag{
			&cli.BoolFlag{Name: "cross-company", Usage: crossCompanyFlag.Usage, Local: local},
			&cli.IntFlag{Name: "max", Usage: maxFlag.Usage, Local: local},
			&cli.BoolFlag{Name: "all-columns", Usage: "show every field rather than the summary columns", Local: local},
			&cli.BoolFlag{Name: "dry-run", Usage: "authenticate only, without requesting data", Local: local},
		}
	}

	retrieve := func(ctx context.Context, c *cli.Command) error {
		limit, err := maxRecords(c)
		if err != nil {
			return err
		}
		return a.Retrieve(ctx, globals(c), app.RetrieveOptions{
			CrossCompany: c.Bool("cross-company"),
			MaxRecords:   limit,
			AllColumns:   c.Bool("all-columns"),
			DryRun:       c.Bool("dry-run"),
		})
	}

	retrieveCmd := &cli.Command{
		Name:   "retrieve",
		Usage:  "List customers (the default command)",
		Flags:  retrieveFlags(false),
		Action: retrieve,
	}

	createCmd := &cli.Command{
		Name:  "create",
		Usage: "Create a customer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "the customer account number", Required: true},
			&cli.StringFlag{Name: "name", Usage: "the organization name", Required: true},
			&cli.StringFlag{Name: "group", Usage: "the customer group", Required: true},
			&cli.StringFlag{Name: "currency", Usage: "the sales currency", Value: d365.DefaultCurrency},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.Create(ctx, globals(c), d365.NewCustomer{
				Account:  c.String("account"),
				Name:     c.String("name"),
				Group:    c.String("group"),
				Currency: c.String("currency"),
			})
		},
	}

	dashboardCmd := &cli.Command{
		Name:  "dashboard",
		Usage: "Write an HTML customer dashboard, or serve it with --serve",
		Flags: []cli.Flag{
			crossCompanyFlag,
			maxFlag,
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "dashboard file (default from config)"},
			&cli.BoolFlag{Name: "serve", Aliases: []string{"s"}, Usage: "serve the dashboard on the configured address"},
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "serve the dashboard on this address, such as 127.0.0.1:8080"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			serving := c.Bool("serve") || c.String("listen") != ""
			if c.String("output") != "" && serving {
				return errors.New("--output cannot be used when serving the dashboard")
			}
			limit, err := maxRecords(c)
			if err != nil {
				return err
			}
			return a.Dashboard(ctx, globals(c), app.DashboardOptions{
				CrossCompany: c.Bool("cross-company"),
				MaxRecords:   limit,
				Output:       c.String("output"),
				Serve:        c.Bool("serve"),
				Listen:       c.String("listen"),
			})
		},
	}

	exportCmd := &cli.Command{
		Name:  "export",
		Usage: "Save a customer snapshot to a SQLite database",
		Flags: []cli.Flag{
			crossCompanyFlag,
			maxFlag,
			&cli.StringFlag{Name: "db", Usage: "database path (default from config)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			limit, err := maxRecords(c)
			if err != nil {
				return err
			}
			return a.Export(ctx, globals(c), app.ExportOptions{
				CrossCompany: c.Bool("cross-company"),
				MaxRecords:   limit,
				DBPath:       c.String("db"),
			})
		},
	}

	templatesCmd := &cli.Command{
		Name:  "templates",
		Usage: "Write the built-in dashboard templates to a directory for editing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Value: ".", Usage: "directory to write the templates directory in"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return a.ExportTemplates(ctx, c.String("dir"))
		},
	}

	rootCmd := &cli.Command{
		Name:  "d365cli",
		Usage: "Retrieve and create Dynamics 365 Finance & Operations customers",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to an optional configuration file"},
			&cli.StringFlag{Name: "env-file", Usage: "path to a .env file (default .env if present)"},
		}, retrieveFlags(true)...),
		Commands: []*cli.Command{retrieveCmd, createCmd, dashboardCmd, exportCmd, templatesCmd},
		Action:   retrieve,
	}

	return rootCmd
}
