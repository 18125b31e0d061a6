package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// lockRetryAfter is advertised to clients that hit a locked project.
const lockRetryAfter = 30

// HTTPErrorAdapter writes classified errors as JSON responses.
type HTTPErrorAdapter struct {
	logger *slog.Logger
}

// NewHTTPErrorAdapter returns an adapter logging to logger, or to the
// default logger when nil.
func NewHTTPErrorAdapter(logger *slog.Logger) *HTTPErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPErrorAdapter{logger: logger}
}

// HTTPErrorResponse is the JSON error payload.
type HTTPErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// StatusCodeFor maps err's category to a status code. Unclassified errors
// are 500.
func (a *HTTPErrorAdapter) StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return outcomeFor(err).status
}

// WriteErrorResponse writes err as JSON. Client errors are logged at debug
// level since misses and unauthenticated requests are routine when serving
// documentation.
func (a *HTTPErrorAdapter) WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	status := a.StatusCodeFor(err)
	body := HTTPErrorResponse{Error: err.Error()}
	level := slog.LevelError
	attrs := []slog.Attr{logfields.Method(r.Method), logfields.Path(r.URL.Path), logfields.Status(status)}

	if c, ok := AsClassified(err); ok {
		body = HTTPErrorResponse{
			Error:     c.Message(),
			Code:      string(c.Category()),
			Retryable: c.CanRetry(),
		}
		if len(c.context) > 0 {
			body.Details = c.context
		}
		level = levelFor(c.Severity())
		attrs = append(attrs, slog.String("category", string(c.Category())))
		attrs = append(attrs, c.Context().attrs()...)
		if c.cause != nil {
			attrs = append(attrs, logfields.Error(c.cause))
		}
		if c.IsCategory(CategoryLock) && c.CanRetry() {
			w.Header().Set("Retry-After", strconv.Itoa(lockRetryAfter))
		}
	}
	if status < http.StatusInternalServerError {
		level = slog.LevelDebug
	}

	payload, jerr := json.Marshal(body)
	if jerr != nil {
		payload = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(payload)
	}

	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	a.logger.LogAttrs(r.Context(), level, msg, attrs...)
}
