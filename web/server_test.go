package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rorycl/d365cli/apiclients/d365"
)

// fakeService is a CustomerService returning canned results.
type fakeService struct {
	customers []d365.Record
	getErr    error
	createErr error
	gets      int
	created   []d365.NewCustomer
}

func (f *fakeService) GetCustomers(_ context.Context, _ bool, _ int) ([]d365.Record, error) {
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.customers, nil
}

func (f *fakeService) CreateCustomer(_ context.Context, n d365.NewCustomer) (d365.Record, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, n)
	return d365.Record{
		"@odata.etag":      `W/"1"`,
		"CustomerAccount":  n.Account,
		"OrganizationName": n.Name,
	}, nil
}

// setup starts a test server for a WebApp using svc, returning the app, the
// server url, a cookie-aware client and a teardown func.
func setup(t *testing.T, svc *fakeService) (*WebApp, string, *http.Client, func()) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := New(logger, svc, templatesFS(t), Options{ListenAddress: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}
	app.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	server := httptest.NewServer(app.routes())
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Jar: jar, Timeout: 5 * time.Second}
	return app, server.URL, client, server.Close
}

// get returns the status and body of a GET request.
func get(t *testing.T, client *http.Client, u string) (int, string) {
	t.Helper()
	resp, err := client.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

// post submits a form from the same origin as the server.
func post(t *testing.T, client *http.Client, baseURL, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest("POST", baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", baseURL)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil, templatesFS(t), Options{}); err == nil {
		t.Error("expected an error without a service")
	}
	if _, err := New(nil, &fakeService{}, templatesFSWithout(t, "base.html"), Options{}); err == nil {
		t.Error("expected a template error")
	}
}

func TestDashboardPage(t *testing.T) {
	svc := &fakeService{customers: testCustomers}
	_, baseURL, client, teardown := setup(t, svc)
	defer teardown()

	status, body := get(t, client, baseURL+"/")
	if status != http.StatusOK {
		t.Fatalf("got status %d want 200:\n%s", status, body)
	}
	for _, want := range []string{"Total Customers", "<nav>", "By Company", "Generated 2026-03-01 09:30:00"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard does not contain %q", want)
		}
	}

	// cached
	_, _ = get(t, client, baseURL+"/")
	if got, want := svc.gets, 1; got != want {
		t.Errorf("got %d fetches want %d", got, want)
	}

	_, _ = get(t, client, baseURL+"/?refresh=1")
	if got, want := svc.gets, 2; got != want {
		t.Errorf("got %d fetches after refresh want %d", got, want)
	}
}

func TestServiceError(t *testing.T) {
	svc := &fakeService{getErr: &d365.FatalError{Op: "fetch", Entity: d365.CustomersEntity, Class: d365.Unauthorized, StatusCode: 401}}
	_, baseURL, client, teardown := setup(t, svc)
	defer teardown()

	for _, path := range []string{"/", "/customers", "/customers.json"} {
		status, body := get(t, client, baseURL+path)
		if status != http.StatusInternalServerError {
			t.Errorf("%s: got status %d want 500", path, status)
		}
		if strings.Contains(body, "unauthorized") {
			t.Errorf("%s: error detail should not be sent to the browser", path)
		}
	}
}

func TestCustomersPage(t *testing.T) {
	var many []d365.Record
	for i := range 30 {
		many = append(many, customer(fmt.Sprintf("US-%03d", i), "30", "USD", "usmf", ""))
	}
	many = append(many, customer("DE-001", "10", "EUR", "demf", "info@fabrikam.de"))

	svc := &fakeService{customers: many}
	_, baseURL, client, teardown := setup(t, svc)
	defer teardown()

	tests := []struct {
		name     string
		query    string
		status   int
		contains []string
		excludes []string
	}{
		{
			name:     "first page",
			query:    "",
			status:   http.StatusOK,
			contains: []string{"31 of 31 customers", "page 1 of 2", "US-000", "US-024", `href="?page=2"`},
			excludes: []string{"US-025", "previous"},
		},
		{
			name:     "second page",
			query:    "?page=2",
			status:   http.StatusOK,
			contains: []string{"page 2 of 2", "US-025", "DE-001", `href="?page=1"`},
			excludes: []string{"US-024", ">next<"},
		},
		{
			name:     "company filter",
			query:    "?company=DEMF",
			status:   http.StatusOK,
			contains: []string{"1 of 31 customers", "DE-001", "info@fabrikam.de"},
			excludes: []string{"US-000"},
		},
		{
			name:     "no matches",
			query:    "?search=nobody",
			status:   http.StatusOK,
			contains: []string{"No customers found."},
		},
		{
			name:     "invalid company",
			query:    "?company=not+valid",
			status:   http.StatusUnprocessableEntity,
			contains: []string{"Company should be a legal entity code"},
		},
		{
			name:   "page out of range",
			query:  "?page=9",
			status: http.StatusNotFound,
		},
		{
			name:   "bad page",
			query:  "?page=nine",
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, client, baseURL+"/customers"+tt.query)
			if status != tt.status {
				t.Fatalf("got status %d want %d:\n%s", status, tt.status, body)
			}
			for _, want := range tt.contains {
				if !strings.Contains(body, want) {
					t.Errorf("page does not contain %q", want)
				}
			}
			for _, notWant := range tt.excludes {
				if strings.Contains(body, notWant) {
					t.Errorf("page unexpectedly contains %q", notWant)
				}
			}
		})
	}
	if got, want := svc.gets, 1; got != want {
		t.Errorf("got %d fetches want %d", got, want)
	}
}

func TestCustomersJSON(t *testing.T) {
	svc := &fakeService{customers: testCustomers}
	_, baseURL, client, teardown := setup(t, svc)
	defer teardown()

	resp, err := client.Get(baseURL + "/customers.json")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if got, want := resp.Header.Get("Content-Type"), "application/json"; got != want {
		t.Errorf("got content type %q want %q", got, want)
	}
	var got customersJSON
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Count != 4 || len(got.Value) != 4 {
		t.Fatalf("got count %d and %d records, want 4", got.Count, len(got.Value))
	}
	if diff := cmp.Diff(testCustomers[0].String("CustomerAccount"), got.Value[0].String("CustomerAccount")); diff != "" {
		t.Errorf("first record mismatch (-want +got):\n%s", diff)
	}
}

func TestCustomerCreate(t *testing.T) {
	svc := &fakeService{customers: testCustomers}
	app, baseURL, client, teardown := setup(t, svc)
	defer teardown()

	status, body := get(t, client, baseURL+"/customers/new")
	if status != http.StatusOK || !strings.Contains(body, `action="/customers"`) {
		t.Fatalf("new customer form not served: %d", status)
	}

	// Load the cache so that the created customer is appended.
	_, _ = get(t, client, baseURL+"/")

	resp, body := post(t, client, baseURL, "/customers", url.Values{
		"account":  {"US-100"},
		"name":     {"Northwind Traders"},
		"group":    {"30"},
		"currency": {"usd"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d want 200 after redirect:\n%s", resp.StatusCode, body)
	}
	if got, want := resp.Request.URL.Path, "/"; got != want {
		t.Errorf("redirected to %q want %q", got, want)
	}
	if !strings.Contains(body, "Customer US-100 created.") {
		t.Error("flash message not shown after create")
	}

	want := []d365.NewCustomer{{Account: "US-100", Name: "Northwind Traders", Group: "30", Currency: "USD"}}
	if diff := cmp.Diff(want, svc.created); diff != "" {
		t.Errorf("created mismatch (-want +got):\n%s", diff)
	}
	app.mu.Lock()
	cached := len(app.customers)
	app.mu.Unlock()
	if got, want := cached, len(testCustomers)+1; got != want {
		t.Errorf("got %d cached customers want %d", got, want)
	}

	// The flash is only shown once.
	_, body = get(t, client, baseURL+"/")
	if strings.Contains(body, "Customer US-100 created.") {
		t.Error("flash message shown twice")
	}
}

func TestCustomerCreateInvalid(t *testing.T) {
	svc := &fakeService{}
	_, baseURL, client, teardown := setup(t, svc)
	defer teardown()

	resp, body := post(t, client, baseURL, "/customers", url.Values{"name": {"Northwind Traders"}})
	if got, want := resp.StatusCode, http.StatusUnprocessableEntity; got != want {
		t.Fatalf("got status %d want %d", got, want)
	}
	for _, want := range []string{"An account is required.", "A customer group is required.", `value="Northwind Traders"`} {
		if !strings.Contains(body, want) {
			t.Errorf("form does not contain %q", want)
		}
	}
	if len(svc.created) != 0 {
		t.Error("create should not be called for an invalid form")
	}
}

func TestCustomerCreateRejected(t *testing.T) {
	svc := &fakeService{createErr: &d365.FatalError{
		Op:           "create",
		Entity:       d365.CustomersEntity,
		Class:        d365.ClientError,
		StatusCode:   409,
		InnerMessage: "Duplicate key",
	}}
	_, baseURL, client, teardown := setup(t, svc)
	defer teardown()

	resp, body := post(t, client, baseURL, "/customers", url.Values{
		"account": {"US-001"},
		"name":    {"Contoso"},
		"group":   {"30"},
	})
	if got, want := resp.StatusCode, http.StatusUnprocessableEntity; got != want {
		t.Fatalf("got status %d want %d", got, want)
	}
	if !strings.Contains(body, "Customer not created: Duplicate key") {
		t.Errorf("rejection not shown:\n%s", body)
	}

	svc.createErr = errors.New("connection refused")
	resp, _ = post(t, client, baseURL, "/customers", url.Values{
		"account": {"US-001"},
		"name":    {"Contoso"},
		"group":   {"30"},
	})
	if got, want := resp.StatusCode, http.StatusInternalServerError; got != want {
		t.Errorf("got status %d want %d", got, want)
	}
}

func TestCustomerCreateCrossOrigin(t *testing.T) {
	svc := &fakeService{}
	_, baseURL, client, teardown := setup(t, svc)
	defer teardown()

	form := url.Values{"account": {"US-100"}, "name": {"X"}, "group": {"30"}}
	req, err := http.NewRequest("POST", baseURL+"/customers", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://attacker.example")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if got, want := resp.StatusCode, http.StatusForbidden; got != want {
		t.Errorf("got status %d want %d", got, want)
	}
	if len(svc.created) != 0 {
		t.Error("create should not be called for a cross origin request")
	}
}

func TestStartServerShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := New(logger, &fakeService{}, templatesFS(t), Options{
		ListenAddress: "127.0.0.1:0",
		TemplatesDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.StartServer(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
