// Package inject adds the live-reload script tag to HTML pages served by an
// application running under devreload.
//
// Wrap the application's handler once:
//
//	http.ListenAndServe(":"+os.Getenv("PORT"), inject.Middleware(mux))
//
// Outside devreload the snippet variable is unset and the middleware passes
// responses through untouched.
package inject

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// EnvSnippet holds the script tag devreload wants in every HTML page.
const EnvSnippet = "DEVRELOAD_SNIPPET"

// Snippet returns the script tag loading livereload.js from the aux port.
func Snippet(auxPort int) string {
	return fmt.Sprintf("\n<script src=\"http://localhost:%d/livereload.js\"></script>\n", auxPort)
}

// Middleware appends the snippet from EnvSnippet to text/html responses.
func Middleware(next http.Handler) http.Handler {
	return MiddlewareWithSnippet(next, os.Getenv(EnvSnippet))
}

// MiddlewareWithSnippet appends snippet to text/html responses.
// An empty snippet returns next unchanged.
func MiddlewareWithSnippet(next http.Handler, snippet string) http.Handler {
	if snippet == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		iw := &injectWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(iw, r)
		iw.finish(snippet)
	})
}

// injectWriter buffers HTML bodies so the snippet can be appended and the
// length fixed up. Other content types stream straight through.
type injectWriter struct {
	http.ResponseWriter
	status  int
	decided bool
	html    bool
	buf     bytes.Buffer
}

func (w *injectWriter) decide() {
	if w.decided {
		return
	}
	w.decided = true
	w.html = strings.Contains(w.Header().Get("Content-Type"), "text/html")
	if !w.html {
		w.ResponseWriter.WriteHeader(w.status)
	}
}

func (w *injectWriter) WriteHeader(status int) {
	if w.decided {
		return
	}
	w.status = status
	w.decide()
}

func (w *injectWriter) Write(p []byte) (int, error) {
	if !w.decided {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType(p))
		}
		w.decide()
	}
	if w.html {
		return w.buf.Write(p)
	}
	return w.ResponseWriter.Write(p)
}

func (w *injectWriter) finish(snippet string) {
	if !w.decided {
		w.decide()
	}
	if !w.html {
		return
	}
	if w.status != http.StatusNotModified && w.status != http.StatusNoContent {
		w.buf.WriteString(snippet)
	}
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(w.status)
	_, _ = w.ResponseWriter.Write(w.buf.Bytes())
}
