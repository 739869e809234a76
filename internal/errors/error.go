package errors

import "fmt"

// Category represents the type of error.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryNetwork  Category = "network"
	CategoryProtocol Category = "protocol"
	CategoryBridge   Category = "bridge"
	CategoryCLI      Category = "cli"
)

// CLIError is a structured error with a category, detail, and a fix
// suggestion for terminal display.
type CLIError struct {
	// Category is the error type (config, network, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Wrapped
}

// WithDetail adds a detailed explanation to the error.
func (e *CLIError) WithDetail(d string) *CLIError {
	e.Detail = d
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *CLIError) WithSuggestion(s string) *CLIError {
	e.Suggestion = s
	return e
}

// Wrap wraps another error. The wrapped error's text becomes the
// detail when no detail was set explicitly.
func (e *CLIError) Wrap(err error) *CLIError {
	e.Wrapped = err
	if e.Detail == "" && err != nil {
		e.Detail = err.Error()
	}
	return e
}

// New creates a CLIError with the given category and message.
func New(category Category, message string) *CLIError {
	return &CLIError{
		Category: category,
		Message:  message,
	}
}

// Newf creates a CLIError with a formatted message.
func Newf(category Category, format string, args ...any) *CLIError {
	return &CLIError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a CLIError. CLIErrors pass
// through unchanged.
func FromError(err error, category Category) *CLIError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CLIError); ok {
		return ce
	}
	return &CLIError{
		Category: category,
		Message:  err.Error(),
		Wrapped:  err,
	}
}
