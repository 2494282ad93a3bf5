package main

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rorycl/d365cli/apiclients/d365"
	"github.com/rorycl/d365cli/app"
)

// fakeApp records the calls made by the CLI.
type fakeApp struct {
	called    string
	globals   app.Globals
	retrieve  app.RetrieveOptions
	customer  d365.NewCustomer
	dashboard app.DashboardOptions
	export    app.ExportOptions
	dir       string
}

func (f *fakeApp) Retrieve(_ context.Context, g app.Globals, o app.RetrieveOptions) error {
	f.called, f.globals, f.retrieve = "retrieve", g, o
	return nil
}

func (f *fakeApp) Create(_ context.Context, g app.Globals, n d365.NewCustomer) error {
	f.called, f.globals, f.customer = "create", g, n
	return nil
}

func (f *fakeApp) Dashboard(_ context.Context, g app.Globals, o app.DashboardOptions) error {
	f.called, f.globals, f.dashboard = "dashboard", g, o
	return nil
}

func (f *fakeApp) Export(_ context.Context, g app.Globals, o app.ExportOptions) error {
	f.called, f.globals, f.export = "export", g, o
	return nil
}

func (f *fakeApp) ExportTemplates(_ context.Context, dir string) error {
	f.called, f.dir = "templates", dir
	return nil
}

func run(t *testing.T, args ...string) (*fakeApp, error) {
	t.Helper()
	f := &fakeApp{}
	cmd := BuildCLI(f)
	cmd.Writer = io.Discard
	cmd.ErrWriter = io.Discard
	err := cmd.Run(context.Background(), append([]string{"d365cli"}, args...))
	return f, err
}

func TestCLI(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want *fakeApp
	}{
		{
			name: "default retrieve",
			args: nil,
			want: &fakeApp{called: "retrieve"},
		},
		{
			name: "default retrieve with flags",
			args: []string{"-v", "--cross-company", "--max", "10", "--all-columns"},
			want: &fakeApp{
				called:   "retrieve",
				globals:  app.Globals{Verbose: true},
				retrieve: app.RetrieveOptions{CrossCompany: true, MaxRecords: 10, AllColumns: true},
			},
		},
		{
			name: "retrieve dry run",
			args: []string{"-c", "d365.yaml", "--env-file", "prod.env", "retrieve", "--dry-run"},
			want: &fakeApp{
				called:   "retrieve",
				globals:  app.Globals{ConfigPath: "d365.yaml", EnvFile: "prod.env"},
				retrieve: app.RetrieveOptions{DryRun: true},
			},
		},
		{
			name: "create with default currency",
			args: []string{"create", "--account", "US-100", "--name", "Northwind Traders", "--group", "30"},
			want: &fakeApp{
				called:   "create",
				customer: d365.NewCustomer{Account: "US-100", Name: "Northwind Traders", Group: "30", Currency: "USD"},
			},
		},
		{
			name: "create with currency",
			args: []string{"create", "--account", "DE-100", "--name", "Fabrikam", "--group", "10", "--currency", "EUR"},
			want: &fakeApp{
				called:   "create",
				customer: d365.NewCustomer{Account: "DE-100", Name: "Fabrikam", Group: "10", Currency: "EUR"},
			},
		},
		{
			name: "dashboard file",
			args: []string{"dashboard", "-o", "out.html", "--max", "50"},
			want: &fakeApp{
				called:    "dashboard",
				dashboard: app.DashboardOptions{Output: "out.html", MaxRecords: 50},
			},
		},
		{
			name: "dashboard server",
			args: []string{"dashboard", "--listen", "127.0.0.1:8080", "--cross-company"},
			want: &fakeApp{
				called:    "dashboard",
				dashboard: app.DashboardOptions{Listen: "127.0.0.1:8080", CrossCompany: true},
			},
		},
		{
			name: "dashboard server on configured address",
			args: []string{"dashboard", "--serve"},
			want: &fakeApp{
				called:    "dashboard",
				dashboard: app.DashboardOptions{Serve: true},
			},
		},
		{
			name: "export",
			args: []string{"export", "--db", "snapshot.db"},
			want: &fakeApp{
				called: "export",
				export: app.ExportOptions{DBPath: "snapshot.db"},
			},
		},
		{
			name: "templates",
			args: []string{"templates", "--dir", "/tmp/d365"},
			want: &fakeApp{called: "templates", dir: "/tmp/d365"},
		},
		{
			name: "templates default dir",
			args: []string{"templates"},
			want: &fakeApp{called: "templates", dir: "."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(fakeApp{})); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCLIErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"create missing group", []string{"create", "--account", "US-100", "--name", "Northwind"}, "group"},
		{"negative max", []string{"--max=-1"}, "--max cannot be negative"},
		{"dashboard output and listen", []string{"dashboard", "-o", "x.html", "-l", ":8080"}, "--output cannot be used"},
		{"dashboard output and serve", []string{"dashboard", "-o", "x.html", "--serve"}, "--output cannot be used"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := run(t, tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
			if f.called != "" {
				t.Errorf("%s should not have been called", f.called)
			}
		})
	}
}

