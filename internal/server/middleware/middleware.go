// Package middleware wraps the rtdbuild router with access logging and
// panic recovery.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// Chain applies access logging outside panic recovery, so recovered
// requests are logged with the 500 they produced.
func Chain(logger *slog.Logger, adapter *errors.HTTPErrorAdapter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return accessLog(logger, recoverer(logger, adapter, next))
	}
}

// accessLog writes one line per request. Successful page reads are the
// bulk of the traffic and go to debug.
func accessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.LogAttrs(r.Context(), accessLevel(r, status), "HTTP request",
			logfields.Method(r.Method),
			logfields.Host(r.Host),
			logfields.Path(r.URL.Path),
			logfields.Status(status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			logfields.UserAgent(r.UserAgent()),
			logfields.RemoteAddr(r.RemoteAddr),
			logfields.RequestID(chimw.GetReqID(r.Context())))
	})
}

func accessLevel(r *http.Request, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelWarn
	case strings.HasPrefix(r.URL.Path, "/api/"):
		return slog.LevelInfo
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// recoverer turns a handler panic into a 500 JSON response.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func recoverer(logger *slog.Logger, adapter *errors.HTTPErrorAdapter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
				panic(rec)
			}
			logger.Error("HTTP handler panic",
				slog.String("panic", fmt.Sprint(rec)),
				logfields.Method(r.Method),
				logfields.Path(r.URL.Path),
				logfields.RequestID(chimw.GetReqID(r.Context())))
			adapter.WriteErrorResponse(w, r, errors.InternalError("internal server error").
				WithContext("path", r.URL.Path).
				Build())
		}()
		next.ServeHTTP(w, r)
	})
}
