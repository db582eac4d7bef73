package api

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
)

// UIOptions points the router at a built single-page frontend.
type UIOptions struct {
	Enabled bool
	Dir     string
	Index   string
	BaseURL string
	Title   string
}

// WithUI serves the frontend bundle from opts.Dir for every non-API path.
func WithUI(opts UIOptions) RouterOption {
	return func(ro *routerOptions) {
		ro.ui = opts
	}
}

const noStore = "no-cache, no-store, must-revalidate"

// frontend serves static assets and falls back to the index page for client routes.
type frontend struct {
	logger  *slog.Logger
	files   fs.FS
	assets  http.Handler
	index   string
	baseURL string
	title   string

	once sync.Once
	page []byte
	err  error
}

func newFrontend(logger *slog.Logger, opts UIOptions) (*frontend, error) {
	if !opts.Enabled {
		return nil, errors.New("ui disabled")
	}
	if opts.Dir == "" {
		return nil, errors.New("ui dir is required")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat ui dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ui dir is not a directory: %s", opts.Dir)
	}
	files := os.DirFS(opts.Dir)
	f := &frontend{
		logger:  logger,
		files:   files,
		assets:  http.FileServerFS(files),
		index:   cmp.Or(strings.TrimSpace(opts.Index), "index.html"),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		title:   cmp.Or(strings.TrimSpace(opts.Title), "VEO3.pk"),
	}
	return f, nil
}

func (f *frontend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	switch {
	case name == "" || name == f.index:
		f.serveIndex(w, r)
	case name == "settings.js":
		f.serveSettings(w, r)
	case !fs.ValidPath(name):
		http.NotFound(w, r)
	case f.isFile(name):
		f.assets.ServeHTTP(w, r)
	case path.Ext(name) != "":
		// A missing asset is a real 404, not a client route.
		http.NotFound(w, r)
	default:
		f.serveIndex(w, r)
	}
}

func (f *frontend) isFile(name string) bool {
	info, err := fs.Stat(f.files, name)
	return err == nil && !info.IsDir()
}

func (f *frontend) settingsJSON(r *http.Request) []byte {
	data, _ := json.Marshal(map[string]string{
		"base_url": f.origin(r),
		"title":    f.title,
	})
	return data
}

// serveIndex injects window.settings right after <head> so it runs before the bundle.
func (f *frontend) serveIndex(w http.ResponseWriter, r *http.Request) {
	f.once.Do(func() { f.page, f.err = fs.ReadFile(f.files, f.index) })
	if f.err != nil {
		f.logger.Error("load ui index", "error", f.err)
		http.Error(w, "ui unavailable", http.StatusInternalServerError)
		return
	}
	script := []byte("<head>\n    <script>window.settings = " + string(f.settingsJSON(r)) + ";</script>")
	page := bytes.Replace(f.page, []byte("<head>"), script, 1)
	f.write(w, r, "text/html; charset=utf-8", page)
}

func (f *frontend) serveSettings(w http.ResponseWriter, r *http.Request) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "window.settings = Object.assign({}, window.settings || {}, %s);\n", f.settingsJSON(r))
	b.WriteString("document.title = window.settings.title || document.title;\n")
	f.write(w, r, "application/javascript; charset=utf-8", b.Bytes())
}

func (f *frontend) write(w http.ResponseWriter, r *http.Request, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", noStore)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

// origin prefers the configured base URL, then the proxy-reported scheme and host.
func (f *frontend) origin(r *http.Request) string {
	if f.baseURL != "" {
		return f.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ","); strings.TrimSpace(proto) != "" {
		scheme = strings.TrimSpace(proto)
	}
	return scheme + "://" + cmp.Or(r.Host, "localhost")
}
