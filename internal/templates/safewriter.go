package templates

import "net/http"

// SafeWriter sets the HTML page headers exactly once before the first write
type SafeWriter struct {
	w          http.ResponseWriter
	statusCode int
	headerSent bool
}

// NewSafeWriter wraps w
func (t *Templates) NewSafeWriter(w http.ResponseWriter) *SafeWriter {
	return &SafeWriter{w: w, statusCode: http.StatusOK}
}

// SetStatusCode sets the status used by the first Write
func (sw *SafeWriter) SetStatusCode(code int) {
	sw.statusCode = code
}

// WriteHeader sends the headers. Later calls are ignored.
func (sw *SafeWriter) WriteHeader(code int) {
	if sw.headerSent {
		return
	}
	h := sw.w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	sw.w.WriteHeader(code)
	sw.headerSent = true
}

// Write implements io.Writer
func (sw *SafeWriter) Write(b []byte) (int, error) {
	sw.WriteHeader(sw.statusCode)
	return sw.w.Write(b)
}
