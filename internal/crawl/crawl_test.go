package crawl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	"github.com/google/go-cmp/cmp"

	"amber-go/internal/amber"
)

func newSite(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch path.Ext(r.URL.Path) {
		case ".css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
		case ".png":
			w.Header().Set("Content-Type", "image/png")
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		w.Write([]byte(body))
	})
	mux.HandleFunc("/old/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/about/", http.StatusMovedPermanently)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func crawlPaths(t *testing.T, base string) ([]string, error) {
	t.Helper()

	c, err := New(base, nil, amber.NewNopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var paths []string
	err = c.Crawl(context.Background(), func(p *Page) error {
		paths = append(paths, p.Path)
		return nil
	})
	return paths, err
}

func TestCrawler_Crawl(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/": `<html><head><link rel="stylesheet" href="/static/site.css"></head>
<body>
<a href="/about/">About</a>
<a href="about/#team">About again</a>
<a href="/blog/?page=2">Blog</a>
<a href="https://example.com/elsewhere">External</a>
<a href="mailto:me@example.com">Mail</a>
<a href="/old/">Moved</a>
<img src="/static/logo.png">
</body></html>`,
		"/about/":           `<a href="../">Home</a><div style="background: url('/static/bg.png')"></div>`,
		"/blog/":            `<style>@import "/static/print.css";</style><p>posts</p>`,
		"/static/site.css":  `body { background: url(/static/bg.png); } .x { background: url("data:image/png;base64,AAAA"); }`,
		"/static/print.css": `h1 { background: url('../static/h1.png'); }`,
		"/static/logo.png":  "png",
		"/static/bg.png":    "png",
		"/static/h1.png":    "png",
	})

	got, err := crawlPaths(t, srv.URL+"/")
	if err != nil {
		t.Fatalf("Crawl() error = %v", err)
	}

	want := []string{
		"/",
		"/static/site.css",
		"/about/",
		"/blog/",
		"/static/logo.png",
		"/static/bg.png",
		"/static/print.css",
		"/static/h1.png",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Crawl() paths mismatch (-want +got):\n%s", diff)
	}
}

func TestCrawler_CrawlStatusError(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/": `<a href="/missing/">broken</a>`,
	})

	_, err := crawlPaths(t, srv.URL)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Crawl() error = %v, want StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", se.StatusCode)
	}
}

func TestCrawler_VisitErrorStops(t *testing.T) {
	srv := newSite(t, map[string]string{
		"/":       `<a href="/about/">About</a>`,
		"/about/": `about`,
	})

	c, err := New(srv.URL, nil, amber.NewNopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stop := errors.New("stop")
	visits := 0
	err = c.Crawl(context.Background(), func(p *Page) error {
		visits++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Crawl() error = %v, want %v", err, stop)
	}
	if visits != 1 {
		t.Errorf("visits = %d, want 1", visits)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("ftp://example.com/", nil, amber.NewNopLogger()); err == nil {
		t.Error("New() expected error for ftp url")
	}
	if _, err := New("http://127.0.0.1:8000", nil, amber.NewNopLogger()); err != nil {
		t.Errorf("New() error = %v", err)
	}
}

func TestLinks(t *testing.T) {
	tests := []struct {
		name string
		page *Page
		want []string
	}{
		{
			name: "html attributes",
			page: &Page{ContentType: "text/html; charset=utf-8", Body: []byte(
				`<a href="/a/">a</a><a>no href</a><script src="/app.js"></script><link href="/s.css"><img src="/i.png"/>`)},
			want: []string{"/a/", "/app.js", "/s.css", "/i.png"},
		},
		{
			name: "css",
			page: &Page{ContentType: "text/css", Body: []byte(`@import 'base.css'; a { background: url( "x.png" ) }`)},
			want: []string{"x.png", "base.css"},
		},
		{
			name: "other types are opaque",
			page: &Page{ContentType: "image/png", Body: []byte(`url(/x.png)`)},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Links(tt.page)); diff != "" {
				t.Errorf("Links() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
