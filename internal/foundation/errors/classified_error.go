package errors

import (
	stderrors "errors"
	"maps"
)

// ClassifiedError is an error with a category, a severity, a retry
// strategy and structured context.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

func (e *ClassifiedError) Error() string {
	s := "[" + string(e.category) + ":" + string(e.severity) + "] " + e.message
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

func (e *ClassifiedError) Category() ErrorCategory      { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity      { return e.severity }
func (e *ClassifiedError) RetryStrategy() RetryStrategy { return e.retry }

// Message returns the message without the cause.
func (e *ClassifiedError) Message() string { return e.message }

// Context is never nil.
func (e *ClassifiedError) Context() ErrorContext {
	if e.context == nil {
		return ErrorContext{}
	}
	return e.context
}

// WithContext returns a copy of e with key set. e is left unchanged.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	cp := *e
	cp.context = cloneContext(e.context).Set(key, value)
	return &cp
}

// Is matches another ClassifiedError with the same category and message,
// so sentinel values built once can be compared with errors.Is.
func (e *ClassifiedError) Is(target error) bool {
	other, ok := target.(*ClassifiedError)
	return ok && e.category == other.category && e.message == other.message
}

func (e *ClassifiedError) IsCategory(category ErrorCategory) bool {
	return e.category == category
}

// CanRetry reports whether the queue may retry without user intervention.
func (e *ClassifiedError) CanRetry() bool {
	return e.retry == RetryBackoff
}

func cloneContext(c ErrorContext) ErrorContext {
	if len(c) == 0 {
		return nil
	}
	return maps.Clone(c)
}

// AsClassified finds the first ClassifiedError in err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// HasCategory reports whether err's chain holds a ClassifiedError of category.
func HasCategory(err error, category ErrorCategory) bool {
	c, ok := AsClassified(err)
	return ok && c.IsCategory(category)
}

func IsRetryable(err error) bool {
	c, ok := AsClassified(err)
	return ok && c.CanRetry()
}
