package errors

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
)

// ErrorCategory names the part of the build pipeline an error came from.
type ErrorCategory string

const (
	CategoryConfig        ErrorCategory = "config"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryAlreadyExists ErrorCategory = "already_exists"

	CategoryNetwork ErrorCategory = "network"
	// CategoryVCS covers best-effort repository steps such as submodule
	// updates and branch listing.
	CategoryVCS ErrorCategory = "vcs"
	// CategoryImport marks a required VCS step (clone, checkout) that exited nonzero.
	CategoryImport ErrorCategory = "import"

	CategoryBuild      ErrorCategory = "build"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryStore      ErrorCategory = "store"
	CategoryLock       ErrorCategory = "lock"

	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how far an error propagates.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
)

// RetryStrategy tells the build queue whether a failed job may be requeued.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryBackoff    RetryStrategy = "backoff"
	RetryUserAction RetryStrategy = "user"
)

// outcome is how a category surfaces at the process and HTTP boundaries.
type outcome struct {
	status   int
	exitCode int
}

var outcomes = map[ErrorCategory]outcome{
	CategoryValidation:    {http.StatusBadRequest, 2},
	CategoryNotFound:      {http.StatusNotFound, 4},
	CategoryAuth:          {http.StatusUnauthorized, 5},
	CategoryAlreadyExists: {http.StatusConflict, 6},
	CategoryConfig:        {http.StatusBadRequest, 7},
	CategoryNetwork:       {http.StatusBadGateway, 8},
	CategoryVCS:           {http.StatusBadGateway, 8},
	CategoryImport:        {http.StatusBadGateway, 9},
	CategoryInternal:      {http.StatusInternalServerError, 10},
	CategoryBuild:         {http.StatusUnprocessableEntity, 11},
	CategoryFileSystem:    {http.StatusInternalServerError, 11},
	CategoryStore:         {http.StatusInternalServerError, 12},
	CategoryRuntime:       {http.StatusServiceUnavailable, 12},
	CategoryLock:          {http.StatusLocked, 75}, // EX_TEMPFAIL
}

func outcomeFor(err error) outcome {
	if c, ok := AsClassified(err); ok {
		if o, known := outcomes[c.Category()]; known {
			return o
		}
	}
	return outcome{status: http.StatusInternalServerError, exitCode: 1}
}

func levelFor(s ErrorSeverity) slog.Level {
	if s == SeverityWarning {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// ErrorContext carries the identifiers an error relates to, such as the
// project, version, build id or the exit code of a failed command.
type ErrorContext map[string]any

// Set adds or updates a context value, allocating the map when needed.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

func (c ErrorContext) Get(key string) (any, bool) {
	value, ok := c[key]
	return value, ok
}

func (c ErrorContext) GetString(key string) (string, bool) {
	value, ok := c[key].(string)
	return value, ok
}

func (c ErrorContext) keys() []string {
	return slices.Sorted(maps.Keys(c))
}

// attrs renders the context as log attributes in key order.
func (c ErrorContext) attrs() []slog.Attr {
	out := make([]slog.Attr, 0, len(c))
	for _, k := range c.keys() {
		out = append(out, slog.Any(k, c[k]))
	}
	return out
}

// String renders the context as "k=v" pairs in key order.
func (c ErrorContext) String() string {
	parts := make([]string, 0, len(c))
	for _, k := range c.keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c[k]))
	}
	return strings.Join(parts, " ")
}
