package web

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/schema"
	"github.com/rorycl/d365cli/apiclients/d365"
)

// ------------------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------------------

// Validator holds a map of validation errors, keyed by the form field name.
type Validator struct {
	Errors map[string]string
}

// NewValidator creates a new, initialized Validator.
func NewValidator() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid returns true if the Errors map is empty.
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError adds an error message to the map for a given field if one
// doesn't already exist for that field.
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// Check is a helper for conditional validation. If `ok` is false, it
// calls AddError with the provided key and message.
func (v *Validator) Check(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// FieldError reports whether the specified field has triggered an error.
func (v *Validator) FieldError(field string) bool {
	_, ok := v.Errors[field]
	return ok
}

// ------------------------------------------------------------------------------
// Forms
// ------------------------------------------------------------------------------

var (
	companyRegexp  = regexp.MustCompile(`^[A-Za-z0-9]{0,8}$`)
	accountRegexp  = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,20}$`)
	currencyRegexp = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// ListForm holds the customer listing filters. The url tags are used to build
// the pagination links.
type ListForm struct {
	Company string `schema:"company" url:"company,omitempty"`
	Search  string `schema:"search" url:"search,omitempty"`
	Page    int    `schema:"page" url:"page,omitempty"`
	Refresh bool   `schema:"refresh" url:"-"`
}

// NewListForm creates a ListForm with defaults.
func NewListForm() *ListForm {
	return &ListForm{Page: 1} // 1-based pagination.
}

// Validate checks ListForm fields and populates Validator with any errors.
func (f *ListForm) Validate(v *Validator) {
	f.Company = strings.TrimSpace(f.Company)
	f.Search = strings.TrimSpace(f.Search)
	v.Check(companyRegexp.MatchString(f.Company), "company", "Company should be a legal entity code such as USMF.")
	if f.Page < 1 {
		f.Page = 1
	}
}

// Offset calculates the slice offset for (1-based) pagination.
func (f *ListForm) Offset() int {
	return (f.Page - 1) * pageLen
}

// Filter returns the rows matching the company (case insensitive) and the
// search string, which is matched against the account, name and email.
func (f *ListForm) Filter(rows []customerRow) []customerRow {
	search := strings.ToLower(f.Search)
	var matched []customerRow
	for _, r := range rows {
		if f.Company != "" && !strings.EqualFold(r.Company, f.Company) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(r.Account), search) &&
			!strings.Contains(strings.ToLower(r.Name), search) &&
			!strings.Contains(strings.ToLower(r.Email), search) {
			continue
		}
		matched = append(matched, r)
	}
	return matched
}

// CustomerForm is the create customer form.
type CustomerForm struct {
	Account  string `schema:"account"`
	Name     string `schema:"name"`
	Group    string `schema:"group"`
	Currency string `schema:"currency"`
}

// Validate checks the CustomerForm. The currency is optional.
func (f *CustomerForm) Validate(v *Validator) {
	f.Account = strings.TrimSpace(f.Account)
	f.Name = strings.TrimSpace(f.Name)
	f.Group = strings.TrimSpace(f.Group)
	f.Currency = strings.ToUpper(strings.TrimSpace(f.Currency))

	v.Check(f.Account != "", "account", "An account is required.")
	if f.Account != "" {
		v.Check(accountRegexp.MatchString(f.Account), "account", "Accounts are up to 20 letters, digits, dashes or underscores.")
	}
	v.Check(f.Name != "", "name", "An organization name is required.")
	v.Check(len(f.Name) <= 100, "name", "The organization name is too long.")
	v.Check(f.Group != "", "group", "A customer group is required.")
	if f.Currency != "" {
		v.Check(currencyRegexp.MatchString(f.Currency), "currency", "Currencies are three letter codes such as USD.")
	}
}

// NewCustomer converts the form for the d365 client.
func (f *CustomerForm) NewCustomer() d365.NewCustomer {
	return d365.NewCustomer{
		Account:  f.Account,
		Name:     f.Name,
		Group:    f.Group,
		Currency: f.Currency,
	}
}

// ------------------------------------------------------------------------------
// General decoding funcs
// ------------------------------------------------------------------------------

// newSchemaDecoder creates a new schema.Decoder instance. Unknown keys are
// ignored so that cache busting or tracking parameters don't fail a page.
func newSchemaDecoder() *schema.Decoder {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return decoder
}

// DecodeURLParams is helper that decodes URL query parameters from a request
// into a destination struct (dst).
func DecodeURLParams(r *http.Request, dst any) error {
	decoder := newSchemaDecoder()
	if err := decoder.Decode(dst, r.URL.Query()); err != nil {
		return fmt.Errorf("url parameter decoding error: %v", err)
	}
	return nil
}

// DecodePostForm decodes the posted form from a request into dst.
func DecodePostForm(r *http.Request, dst any) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid POST request: %v", err)
	}
	decoder := newSchemaDecoder()
	if err := decoder.Decode(dst, r.PostForm); err != nil {
		return fmt.Errorf("post data decoding error: %v", err)
	}
	return nil
}
