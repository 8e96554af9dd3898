package mw

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// recorder captures what a handler sent. Voice upgrades hijack the
// connection, so the hijack variant is only handed out when the underlying
// writer supports it. Unwrap lets http.ResponseController reach the rest.
type recorder struct {
	http.ResponseWriter
	status   int
	bytes    int64
	hijacked bool
}

func (w *recorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *recorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *recorder) statusCode() int {
	switch {
	case w.hijacked:
		return http.StatusSwitchingProtocols
	case w.status == 0:
		return http.StatusOK
	default:
		return w.status
	}
}

type hijackRecorder struct{ *recorder }

func (w hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := w.ResponseWriter.(http.Hijacker).Hijack()
	if err == nil {
		w.hijacked = true
	}
	return conn, rw, err
}

func record(w http.ResponseWriter) (http.ResponseWriter, *recorder) {
	rec := &recorder{ResponseWriter: w}
	if _, ok := w.(http.Hijacker); ok {
		return hijackRecorder{rec}, rec
	}
	return rec, rec
}

// AccessLog writes one line per request. Server errors log at error level
// and client errors at warn.
func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, rec := record(w)
		next.ServeHTTP(wrapped, r)

		status := rec.statusCode()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		reqID, _ := RequestIDFrom(r.Context())
		attrs := []slog.Attr{
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int64("bytes", rec.bytes),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if rec.hijacked {
			attrs = append(attrs, slog.Bool("upgraded", true))
		}
		logger.LogAttrs(r.Context(), level, "request", attrs...)
	})
}
