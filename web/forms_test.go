package web

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rorycl/d365cli/apiclients/d365"
)

func newRequest(t *testing.T, urlString string) *http.Request {
	t.Helper()
	r, err := http.NewRequest("GET", urlString, nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestListForm(t *testing.T) {

	tests := []struct {
		name           string
		inputURL       string
		listForm       *ListForm
		validationErrs map[string]string
	}{
		{
			name:           "default",
			inputURL:       "http://127.0.0.1:8080/customers",
			listForm:       &ListForm{Page: 1},
			validationErrs: map[string]string{},
		},
		{
			name:           "all fields",
			inputURL:       "http://127.0.0.1:8080/customers?company=usmf&search=+contoso+&page=3&refresh=true",
			listForm:       &ListForm{Company: "usmf", Search: "contoso", Page: 3, Refresh: true},
			validationErrs: map[string]string{},
		},
		{
			name:           "unknown keys ignored and page floored",
			inputURL:       "http://127.0.0.1:8080/customers?utm=x&page=-2",
			listForm:       &ListForm{Page: 1},
			validationErrs: map[string]string{},
		},
		{
			name:     "invalid company",
			inputURL: "http://127.0.0.1:8080/customers?company=not+a+company",
			listForm: &ListForm{Company: "not a company", Page: 1},
			validationErrs: map[string]string{
				"company": "Company should be a legal entity code such as USMF.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := NewListForm()
			if err := DecodeURLParams(newRequest(t, tt.inputURL), form); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			v := NewValidator()
			form.Validate(v)
			if diff := cmp.Diff(tt.listForm, form); diff != "" {
				t.Errorf("form mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.validationErrs, v.Errors); diff != "" {
				t.Errorf("validation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListFormDecodeError(t *testing.T) {
	form := NewListForm()
	if err := DecodeURLParams(newRequest(t, "http://127.0.0.1:8080/customers?page=two"), form); err == nil {
		t.Error("expected a decoding error for a non-numeric page")
	}
}

func TestListFormFilter(t *testing.T) {
	rows := []customerRow{
		{Account: "US-001", Name: "Contoso Retail", Email: "sales@contoso.com", Company: "usmf"},
		{Account: "US-002", Name: "Adventure Works", Email: "info@adventure-works.com", Company: "usmf"},
		{Account: "DE-001", Name: "Fabrikam GmbH", Company: "demf"},
	}

	tests := []struct {
		name     string
		form     ListForm
		accounts []string
	}{
		{"no filters", ListForm{}, []string{"US-001", "US-002", "DE-001"}},
		{"company case insensitive", ListForm{Company: "USMF"}, []string{"US-001", "US-002"}},
		{"search name", ListForm{Search: "fabrikam"}, []string{"DE-001"}},
		{"search email", ListForm{Search: "adventure-works.com"}, []string{"US-002"}},
		{"search account in company", ListForm{Company: "demf", Search: "us-"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, r := range tt.form.Filter(rows) {
				got = append(got, r.Account)
			}
			if diff := cmp.Diff(tt.accounts, got); diff != "" {
				t.Errorf("filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCustomerForm(t *testing.T) {

	tests := []struct {
		name           string
		postData       url.Values
		customer       d365.NewCustomer
		validationErrs map[string]string
	}{
		{
			name: "valid with currency",
			postData: url.Values{
				"account":  {" US-100 "},
				"name":     {"Northwind Traders"},
				"group":    {"30"},
				"currency": {"eur"},
			},
			customer:       d365.NewCustomer{Account: "US-100", Name: "Northwind Traders", Group: "30", Currency: "EUR"},
			validationErrs: map[string]string{},
		},
		{
			name: "valid without currency",
			postData: url.Values{
				"account": {"US-101"},
				"name":    {"Tailspin Toys"},
				"group":   {"10"},
			},
			customer:       d365.NewCustomer{Account: "US-101", Name: "Tailspin Toys", Group: "10"},
			validationErrs: map[string]string{},
		},
		{
			name:     "all missing",
			postData: url.Values{"account": {"  "}},
			customer: d365.NewCustomer{},
			validationErrs: map[string]string{
				"account": "An account is required.",
				"name":    "An organization name is required.",
				"group":   "A customer group is required.",
			},
		},
		{
			name: "invalid account and currency",
			postData: url.Values{
				"account":  {"US 100!"},
				"name":     {"Northwind Traders"},
				"group":    {"30"},
				"currency": {"EURO"},
			},
			customer: d365.NewCustomer{Account: "US 100!", Name: "Northwind Traders", Group: "30", Currency: "EURO"},
			validationErrs: map[string]string{
				"account":  "Accounts are up to 20 letters, digits, dashes or underscores.",
				"currency": "Currencies are three letter codes such as USD.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := http.NewRequest("POST", "http://127.0.0.1:8080/customers", strings.NewReader(tt.postData.Encode()))
			if err != nil {
				t.Fatal(err)
			}
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			form := &CustomerForm{}
			if err := DecodePostForm(r, form); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			v := NewValidator()
			form.Validate(v)
			if diff := cmp.Diff(tt.customer, form.NewCustomer()); diff != "" {
				t.Errorf("customer mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.validationErrs, v.Errors); diff != "" {
				t.Errorf("validation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	v.Check(true, "a", "not recorded")
	v.Check(false, "b", "first")
	v.AddError("b", "second")
	if v.Valid() {
		t.Error("expected validator to be invalid")
	}
	if v.FieldError("a") {
		t.Error("unexpected error for field a")
	}
	if got, want := v.Errors["b"], "first"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
