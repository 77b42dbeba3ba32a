// Package static serves the static directory on the auxiliary port.
package static

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// NotFoundBody is written for missing files.
const NotFoundBody = "404: Not Found\n\n"

// Responder serves files below root under a URL prefix. Directories map to
// their index.html and are never listed. Every request is logged.
type Responder struct {
	root   string
	prefix string
	files  http.Handler
	logger *zap.Logger
}

// NewResponder creates a responder for root mounted at urlPrefix.
func NewResponder(root, urlPrefix string, logger *zap.Logger) *Responder {
	prefix := "/" + strings.Trim(urlPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	return &Responder{
		root:   root,
		prefix: prefix,
		files:  http.StripPrefix(prefix, http.FileServer(http.Dir(root))),
		logger: logger,
	}
}

// Pattern returns the ServeMux pattern the responder should be mounted at.
func (r *Responder) Pattern() string {
	return r.prefix + "/"
}

func (r *Responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	rec := &recorder{ResponseWriter: w, status: http.StatusOK}
	r.serve(rec, req)
	r.logRequest(req, rec)
}

func (r *Responder) serve(w http.ResponseWriter, req *http.Request) {
	name := path.Clean("/" + strings.TrimPrefix(req.URL.Path, r.prefix))
	full := filepath.Join(r.root, filepath.FromSlash(name))

	info, err := os.Stat(full)
	if err != nil {
		notFound(w)
		return
	}
	if !info.IsDir() {
		r.files.ServeHTTP(w, req)
		return
	}

	index := filepath.Join(full, "index.html")
	f, err := os.Open(index)
	if err != nil {
		notFound(w)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		notFound(w)
		return
	}
	// ServeContent rather than the file server, which would redirect
	// index.html requests back to the directory
	http.ServeContent(w, req, "index.html", st.ModTime(), f)
}

func (r *Responder) logRequest(req *http.Request, rec *recorder) {
	line := fmt.Sprintf(" > %s %s %d %s", req.Method, req.URL.Path, rec.status, FormatSize(rec.size))
	if rec.status == http.StatusOK || rec.status == http.StatusNotModified {
		r.logger.Info(line)
		return
	}
	r.logger.Warn(line)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(NotFoundBody))
}

// FormatSize renders a byte count as "123B" or "1.2KB".
func FormatSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%0.0fB", float64(n))
	}
	return fmt.Sprintf("%0.1fKB", float64(n)/1024)
}

// recorder captures status and body size.
type recorder struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(p)
	r.size += int64(n)
	return n, err
}
