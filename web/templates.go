package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// TemplatesEmbeddedFS holds the built-in templates under "templates".
//
//go:embed templates
var TemplatesEmbeddedFS embed.FS

const (
	dashboardPage   = "dashboard.html"
	customersPage   = "customers.html"
	customerNewPage = "customer_new.html"
)

// pageTemplates lists the files parsed for each page.
var pageTemplates = map[string][]string{
	dashboardPage:   {"base.html", "partial-breakdown.html", "dashboard.html"},
	customersPage:   {"base.html", "customers.html"},
	customerNewPage: {"base.html", "customer_new.html"},
}

// TemplateFiles lists every file the pages need, for checking a templates
// directory before use.
func TemplateFiles() []string {
	seen := map[string]bool{}
	var files []string
	for _, page := range pageTemplates {
		for _, f := range page {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	sort.Strings(files)
	return files
}

var templateFuncs = template.FuncMap{
	"comma": func(n int) string { return humanize.Comma(int64(n)) },
	"pct":   func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
	"pct0":  func(f float64) string { return fmt.Sprintf("%.0f%%", f) },
	"stamp": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
}

// templateSet holds the parsed page templates. It can be reloaded while the
// server is running.
type templateSet struct {
	fs    fs.FS
	mu    sync.RWMutex
	pages map[string]*template.Template
}

func newTemplateSet(fsys fs.FS) (*templateSet, error) {
	ts := &templateSet{fs: fsys}
	if err := ts.load(); err != nil {
		return nil, err
	}
	return ts, nil
}

// load parses every page. The current pages are only replaced if all parse.
func (ts *templateSet) load() error {
	pages := make(map[string]*template.Template, len(pageTemplates))
	for name, files := range pageTemplates {
		tpl, err := template.New(name).Funcs(templateFuncs).ParseFS(ts.fs, files...)
		if err != nil {
			return fmt.Errorf("template %q parse error: %w", name, err)
		}
		pages[name] = tpl
	}
	ts.mu.Lock()
	ts.pages = pages
	ts.mu.Unlock()
	return nil
}

func (ts *templateSet) get(name string) (*template.Template, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	tpl, ok := ts.pages[name]
	if !ok {
		return nil, fmt.Errorf("template %q not found", name)
	}
	return tpl, nil
}
