package web

// This file describes the dashboard web server.
//
// Modules called by this server should provide self-describing errors since
// these are sent directly to an internal server error func:
//
//	web.ServerError(w, r, err)
//
// Each endpoint handler is set out as a HandlerFunc constructor, following Mat
// Ryer's post at
//
//	https://grafana.com/blog/how-i-write-http-services-in-go-after-13-years/
//
// The d365 client is not safe for concurrent use, so every call to the
// CustomerService is made holding WebApp.mu. Retrieved customers are held in
// memory until a page asks for a refresh or a customer is created.
//
// Helper functions, such as `ServerError` and `clientError` are at the end of the file.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rorycl/d365cli/apiclients/d365"
	"golang.org/x/sync/errgroup"
)

// pageLen is the number of items to show in a page listing.
const pageLen = 25

// flashKey is the session key for one-off messages shown after a redirect.
const flashKey = "flash"

// shutdownTimeout is the time allowed for in-flight requests on shutdown.
const shutdownTimeout = 5 * time.Second

// CustomerService is the part of the d365 client used by the server.
type CustomerService interface {
	GetCustomers(ctx context.Context, crossCompany bool, maxRecords int) ([]d365.Record, error)
	CreateCustomer(ctx context.Context, n d365.NewCustomer) (d365.Record, error)
}

// Options configure a WebApp.
type Options struct {
	ListenAddress string
	TemplatesDir  string // an on-disk templates directory to watch for changes
	CrossCompany  bool
	MaxRecords    int
}

// WebApp is the configuration object for the web server.
type WebApp struct {
	log       *slog.Logger
	svc       CustomerService
	opts      Options
	templates *templateSet
	sessions  *scs.SessionManager
	now       func() time.Time
	server    *http.Server

	mu        sync.Mutex // guards svc calls and the fields below
	customers []d365.Record
	fetchedAt time.Time
}

// New initialises a WebApp, parsing the page templates from templateFS.
func New(logger *slog.Logger, svc CustomerService, templateFS fs.FS, opts Options) (*WebApp, error) {
	if svc == nil {
		return nil, errors.New("a customer service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	templates, err := newTemplateSet(templateFS)
	if err != nil {
		return nil, err
	}

	sessions := scs.New()
	sessions.Lifetime = 1 * time.Hour
	sessions.Cookie.Name = "d365cli_session"

	server := &http.Server{
		Addr:              opts.ListenAddress,
		ReadHeaderTimeout: 30 * time.Second,
		// Writes wait on the customer service, which may retry for minutes.
		WriteTimeout:   10 * time.Minute,
		MaxHeaderBytes: 1 << 19,
	}

	return &WebApp{
		log:       logger,
		svc:       svc,
		opts:      opts,
		templates: templates,
		sessions:  sessions,
		now:       time.Now,
		server:    server,
	}, nil
}

// StartServer serves until ctx is cancelled, then shuts down gracefully. If a
// templates directory is configured the templates are reloaded when they
// change.
func (web *WebApp) StartServer(ctx context.Context) error {
	web.server.Handler = web.routes()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		web.log.Info(fmt.Sprintf("Starting server on %s", web.opts.ListenAddress))
		err := web.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		web.log.Info("Shutting down server")
		return web.server.Shutdown(shutdownCtx)
	})
	if web.opts.TemplatesDir != "" {
		g.Go(func() error {
			return web.watchTemplates(ctx)
		})
	}
	return g.Wait()
}

// watchTemplates reloads the templates when files in the templates directory
// change. A template with errors is logged and the previous version kept.
func (web *WebApp) watchTemplates(ctx context.Context) error {
	dw, err := newDirWatcher(web.opts.TemplatesDir, ".html")
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- dw.Watch(ctx)
	}()
	for range dw.Update() {
		if err := web.templates.load(); err != nil {
			web.log.Error(fmt.Sprintf("template reload error: %v", err))
			continue
		}
		web.log.Info(fmt.Sprintf("templates reloaded from %s", web.opts.TemplatesDir))
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("template watcher error: %w", err)
	}
	return nil
}

// routes connects all of the endpoints and provides middleware.
func (web *WebApp) routes() http.Handler {

	r := mux.NewRouter()

	r.Handle("/", web.handleDashboard()).Methods("GET")
	r.Handle("/customers", web.handleCustomers()).Methods("GET")
	r.Handle("/customers", web.handleCustomerCreate()).Methods("POST")
	r.Handle("/customers.json", web.handleCustomersJSON()).Methods("GET")
	r.Handle("/customers/new", web.handleCustomerNew()).Methods("GET")

	var h http.Handler = web.sessions.LoadAndSave(r)
	h = enforceCSRF(web.log, h)
	return handlers.LoggingHandler(accessLog{web.log}, h)
}

// loadCustomers returns the cached customers, fetching them on first use or
// when refresh is set.
func (web *WebApp) loadCustomers(ctx context.Context, refresh bool) ([]d365.Record, time.Time, error) {
	web.mu.Lock()
	defer web.mu.Unlock()
	if web.customers != nil && !refresh {
		return web.customers, web.fetchedAt, nil
	}
	customers, err := web.svc.GetCustomers(ctx, web.opts.CrossCompany, web.opts.MaxRecords)
	if err != nil {
		return nil, time.Time{}, err
	}
	if customers == nil {
		customers = []d365.Record{}
	}
	web.customers = customers
	web.fetchedAt = web.now()
	return web.customers, web.fetchedAt, nil
}

// createCustomer creates a customer and adds it to the cache.
func (web *WebApp) createCustomer(ctx context.Context, n d365.NewCustomer) (d365.Record, error) {
	web.mu.Lock()
	defer web.mu.Unlock()
	created, err := web.svc.CreateCustomer(ctx, n)
	if err != nil {
		return nil, err
	}
	if web.customers != nil {
		web.customers = append(web.customers, created)
	}
	return created, nil
}

func refreshRequested(r *http.Request) bool {
	return r.URL.Query().Get("refresh") != ""
}

// handleDashboard serves the dashboard at "/".
func (web *WebApp) handleDashboard() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customers, _, err := web.loadCustomers(r.Context(), refreshRequested(r))
		if err != nil {
			web.ServerError(w, r, err)
			return
		}
		data := dashboardData{
			page: page{
				PageTitle:   "Customer Dashboard",
				CurrentPage: "dashboard",
				Served:      true,
				Flash:       web.sessions.PopString(r.Context(), flashKey),
			},
			Stats: Summarise(customers, web.now()),
		}
		web.render(w, r, dashboardPage, http.StatusOK, data)
	})
}

// handleCustomers serves the filtered and paginated /customers list.
func (web *WebApp) handleCustomers() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		form := NewListForm()
		if err := DecodeURLParams(r, form); err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}
		validator := NewValidator()
		form.Validate(validator)

		data := customersData{
			page: page{
				PageTitle:   "Customers",
				CurrentPage: "customers",
				Served:      true,
				Flash:       web.sessions.PopString(r.Context(), flashKey),
			},
			Form:      form,
			Validator: validator,
		}

		// Render template with errors and return if the form is invalid.
		if !validator.Valid() {
			web.render(w, r, customersPage, http.StatusUnprocessableEntity, data)
			return
		}

		customers, fetchedAt, err := web.loadCustomers(r.Context(), form.Refresh)
		if err != nil {
			web.ServerError(w, r, err)
			return
		}
		matched := form.Filter(newCustomerRows(customers))

		data.Pagination, err = NewPagination(pageLen, len(matched), form.Page, form)
		if err != nil {
			var pageErr ErrInvalidPageNo
			if errors.As(err, &pageErr) {
				web.notFound(w, r, pageErr.Error())
				return
			}
			web.ServerError(w, r, err)
			return
		}
		start, end := data.Pagination.Window(len(matched))
		data.Customers = matched[start:end]
		data.Total = len(customers)
		data.Matched = len(matched)
		data.FetchedAt = fetchedAt

		web.render(w, r, customersPage, http.StatusOK, data)
	})
}

// handleCustomersJSON serves the customer records as json.
func (web *WebApp) handleCustomersJSON() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		customers, fetchedAt, err := web.loadCustomers(r.Context(), refreshRequested(r))
		if err != nil {
			web.ServerError(w, r, err)
			return
		}
		body, err := json.Marshal(customersJSON{
			FetchedAt: fetchedAt,
			Count:     len(customers),
			Value:     customers,
		})
		if err != nil {
			web.ServerError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}

// handleCustomerNew serves the create customer form.
func (web *WebApp) handleCustomerNew() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := customerNewData{
			page: page{
				PageTitle:   "New Customer",
				CurrentPage: "new",
				Served:      true,
			},
			Form:      &CustomerForm{},
			Validator: NewValidator(),
		}
		web.render(w, r, customerNewPage, http.StatusOK, data)
	})
}

// handleCustomerCreate creates a customer from the posted form, redirecting to
// the dashboard on success.
func (web *WebApp) handleCustomerCreate() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		form := &CustomerForm{}
		if err := DecodePostForm(r, form); err != nil {
			web.clientError(w, err.Error(), http.StatusBadRequest)
			return
		}
		validator := NewValidator()
		form.Validate(validator)

		data := customerNewData{
			page: page{
				PageTitle:   "New Customer",
				CurrentPage: "new",
				Served:      true,
			},
			Form:      form,
			Validator: validator,
		}
		if !validator.Valid() {
			web.render(w, r, customerNewPage, http.StatusUnprocessableEntity, data)
			return
		}

		created, err := web.createCustomer(r.Context(), form.NewCustomer())
		if err != nil {
			// Server side rejections, such as duplicate keys, are shown on
			// the form.
			var fatal *d365.FatalError
			if errors.As(err, &fatal) && fatal.Class == d365.ClientError {
				web.log.Warn(fmt.Sprintf("create customer rejected: %v", err))
				data.Error = fmt.Sprintf("Customer not created: %s", fatal.Detail())
				web.render(w, r, customerNewPage, http.StatusUnprocessableEntity, data)
				return
			}
			web.ServerError(w, r, err)
			return
		}

		account := created.String("CustomerAccount")
		if account == "" {
			account = form.Account
		}
		web.log.Info(fmt.Sprintf("customer %s created", account))
		web.sessions.Put(r.Context(), flashKey, fmt.Sprintf("Customer %s created.", account))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}

/* -------------------------------------------------------------------------- */
// Helpers
/* -------------------------------------------------------------------------- */

// render renders the named page template with the given status.
func (web *WebApp) render(w http.ResponseWriter, r *http.Request, name string, status int, data any) {
	tpl, err := web.templates.get(name)
	if err != nil {
		web.ServerError(w, r, err)
		return
	}
	buf := new(bytes.Buffer)
	if err := tpl.ExecuteTemplate(buf, name, data); err != nil {
		web.ServerError(w, r, fmt.Errorf("template %q rendering error: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// ServerError logs and return an internal server error. The error should contain the
// information needed for logging.
func (web *WebApp) ServerError(w http.ResponseWriter, r *http.Request, errs ...error) {
	err := errors.Join(errs...)
	web.log.Error(err.Error(), "method", r.Method, "uri", r.URL.RequestURI())
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// clientError returns a client error.
func (web *WebApp) clientError(w http.ResponseWriter, message string, status int) {
	if message == "" {
		message = http.StatusText(status)
	}
	http.Error(w, message, status)
}

// notFound raises a 404 clientError.
func (web *WebApp) notFound(w http.ResponseWriter, _ *http.Request, message string) {
	web.clientError(w, message, http.StatusNotFound)
}

// accessLog sends gorilla's combined log lines to slog.
type accessLog struct {
	log *slog.Logger
}

func (a accessLog) Write(p []byte) (int, error) {
	a.log.Info(strings.TrimSpace(string(p)))
	return len(p), nil
}
