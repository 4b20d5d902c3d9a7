// Package site serves synced records over HTTP for preview and renders them
// into a static site.
package site

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/russross/blackfriday/v2"

	"amber-go/internal/amber"
)

//go:embed templates/*.html
var templateFS embed.FS

// stylesheetName is linked from every page when present in the static
// directory.
const stylesheetName = "site.css"

// Options configures the preview server.
type Options struct {
	// StaticDir is served under StaticURL.
	StaticDir string
	StaticURL string

	// Metrics exposes /metrics.
	Metrics bool
}

// Server renders records from a repository as HTML pages.
type Server struct {
	registry   *amber.Registry
	repo       amber.Repository
	logger     amber.Logger
	opts       Options
	pages      map[string]*template.Template
	stylesheet string
}

// NewServer parses the page templates and prepares a server.
func NewServer(registry *amber.Registry, repo amber.Repository, logger amber.Logger, opts Options) (*Server, error) {
	if opts.StaticURL == "" {
		opts.StaticURL = "/static/"
	}
	if !strings.HasSuffix(opts.StaticURL, "/") {
		opts.StaticURL += "/"
	}

	s := &Server{
		registry: registry,
		repo:     repo,
		logger:   logger,
		opts:     opts,
		pages:    make(map[string]*template.Template),
	}
	for _, name := range []string{"index", "list", "record"} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		s.pages[name] = t
	}

	if opts.StaticDir != "" {
		if _, err := os.Stat(filepath.Join(opts.StaticDir, stylesheetName)); err == nil {
			s.stylesheet = opts.StaticURL + stylesheetName
		}
	}
	return s, nil
}

// Handler returns the router serving the site.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	if s.opts.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.opts.StaticDir))
		r.Handle(s.opts.StaticURL+"*", http.StripPrefix(s.opts.StaticURL, fs))
	}
	if s.opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/", s.indexHandler)
	r.Get("/{model}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
	})
	r.Get("/{model}/*", s.modelHandler)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request served", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

type pageData struct {
	Title      string
	Stylesheet string
}

type modelLink struct {
	ID    string
	URL   string
	Count int
}

type recordLink struct {
	Key string
	URL string
}

type fieldRow struct {
	Name  string
	Value string
}

type relationRow struct {
	Name  string
	Links []recordLink
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	var models []modelLink
	for _, m := range s.registry.Models() {
		records, err := s.repo.List(r.Context(), m.ID())
		if err != nil {
			s.serverError(w, fmt.Errorf("listing %s: %w", m.ID(), err))
			return
		}
		models = append(models, modelLink{ID: m.ID(), URL: ModelURL(m.ID()), Count: len(records)})
	}

	s.render(w, "index", struct {
		pageData
		Models []modelLink
	}{s.page("Models"), models})
}

// modelHandler serves /{model}/ and /{model}/{key...}/.
func (s *Server) modelHandler(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Model(chi.URLParam(r, "model"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	prefix := "/" + url.PathEscape(chi.URLParam(r, "model")) + "/"
	rest, ok := strings.CutPrefix(r.URL.EscapedPath(), prefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if rest == "" {
		s.listHandler(w, r, m)
		return
	}
	if !strings.HasSuffix(rest, "/") {
		http.Redirect(w, r, r.URL.EscapedPath()+"/", http.StatusMovedPermanently)
		return
	}
	key, err := unescapeKey(strings.TrimSuffix(rest, "/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.recordHandler(w, r, m, key)
}

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request, m *amber.Model) {
	records, err := s.repo.List(r.Context(), m.ID())
	if err != nil {
		s.serverError(w, fmt.Errorf("listing %s: %w", m.ID(), err))
		return
	}

	links := make([]recordLink, len(records))
	for i, rec := range records {
		links[i] = recordLink{Key: rec.Key, URL: RecordURL(m.ID(), rec.Key)}
	}

	s.render(w, "list", struct {
		pageData
		Records []recordLink
	}{s.page(m.ID()), links})
}

func (s *Server) recordHandler(w http.ResponseWriter, r *http.Request, m *amber.Model, key string) {
	rec, err := s.repo.GetByKey(r.Context(), m.ID(), key)
	if err != nil {
		s.serverError(w, fmt.Errorf("finding %s %q: %w", m.ID(), key, err))
		return
	}
	if rec == nil {
		http.NotFound(w, r)
		return
	}

	var (
		fields    []fieldRow
		relations []relationRow
	)
	for _, f := range m.Fields() {
		if f.Kind.IsRelation() {
			row := relationRow{Name: f.Name}
			for _, nk := range rec.Relations[f.Name] {
				k, err := nk.Key()
				if err != nil {
					continue
				}
				row.Links = append(row.Links, recordLink{Key: k, URL: RecordURL(f.Target, k)})
			}
			if len(row.Links) > 0 {
				relations = append(relations, row)
			}
			continue
		}
		if v, ok := rec.Fields[f.Name]; ok && v != nil {
			fields = append(fields, fieldRow{Name: f.Name, Value: fmt.Sprint(v)})
		}
	}

	html, text := renderContent(rec)
	s.render(w, "record", struct {
		pageData
		Model     string
		ModelURL  string
		Fields    []fieldRow
		Relations []relationRow
		HTML      template.HTML
		Text      string
	}{s.page(rec.Key), m.ID(), ModelURL(m.ID()), fields, relations, html, text})
}

// renderContent turns record content into HTML for markdown and HTML
// formats, and leaves anything else as preformatted text.
func renderContent(rec *amber.Record) (template.HTML, string) {
	if rec.Content == "" {
		return "", ""
	}
	switch strings.ToLower(rec.ContentFormat) {
	case "md", "markdown":
		return template.HTML(blackfriday.Run([]byte(rec.Content))), ""
	case "html", "htm":
		return template.HTML(rec.Content), ""
	}
	return "", rec.Content
}

func (s *Server) page(title string) pageData {
	return pageData{Title: title, Stylesheet: s.stylesheet}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages[name].ExecuteTemplate(w, "layout", data); err != nil {
		s.logger.Error("rendering page failed", "page", name, "error", err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// ModelURL is the path of a model's record list.
func ModelURL(model string) string {
	return "/" + url.PathEscape(model) + "/"
}

// RecordURL is the path of a record's page. Each slash-separated part of
// the key becomes a path segment.
func RecordURL(model, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return ModelURL(model) + strings.Join(parts, "/") + "/"
}

func unescapeKey(escaped string) (string, error) {
	parts := strings.Split(escaped, "/")
	for i, p := range parts {
		u, err := url.PathUnescape(p)
		if err != nil {
			return "", err
		}
		parts[i] = u
	}
	return strings.Join(parts, "/"), nil
}
