package site

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"amber-go/internal/amber"
	"amber-go/internal/crawl"
)

// BuildOptions configures a static build.
type BuildOptions struct {
	// OutputDir is emptied and refilled.
	OutputDir string

	// CNAME, when set, is written to <OutputDir>/CNAME.
	CNAME string
}

// Build serves handler on a free loopback port, crawls it from the root and
// writes every page to the output directory. It returns the number of pages
// written. Any non-2xx response aborts the build.
func Build(ctx context.Context, handler http.Handler, opts BuildOptions, logger amber.Logger) (int, error) {
	if opts.OutputDir == "" {
		return 0, fmt.Errorf("output directory is required")
	}

	running, err := Start(handler, "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := running.Shutdown(shutdownCtx); err != nil {
			logger.Warn("stopping build server failed", "error", err)
		}
	}()

	if err := WaitReady(ctx, nil, running.URL()); err != nil {
		return 0, err
	}

	if err := os.RemoveAll(opts.OutputDir); err != nil {
		return 0, fmt.Errorf("clearing output directory: %w", err)
	}

	crawler, err := crawl.New(running.URL(), nil, logger)
	if err != nil {
		return 0, err
	}

	count := 0
	err = crawler.Crawl(ctx, func(p *crawl.Page) error {
		dest := filepath.Join(opts.OutputDir, OutputPath(p.Path))
		if err := writeFile(dest, p.Body); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("crawling: %w", err)
	}

	if opts.CNAME != "" {
		if err := writeFile(filepath.Join(opts.OutputDir, "CNAME"), []byte(opts.CNAME)); err != nil {
			return count, err
		}
	}

	logger.Info("build complete", "pages", count, "output", opts.OutputDir)
	return count, nil
}

// OutputPath maps a URL path to a file path relative to the output
// directory: "/" is index.html, a last segment containing a dot is a file,
// and anything else is a directory holding index.html.
func OutputPath(urlPath string) string {
	segments := strings.Split(strings.TrimPrefix(urlPath, "/"), "/")
	last := segments[len(segments)-1]

	switch {
	case last == "":
		segments[len(segments)-1] = "index.html"
	case strings.Contains(last, "."):
	default:
		segments = append(segments, "index.html")
	}
	return filepath.Join(segments...)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
