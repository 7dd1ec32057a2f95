package errors

import (
	stderrors "errors"
	"fmt"
)

// AmanError carries a stable code plus what the code implies: category,
// severity and whether retrying can help.
type AmanError struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Retryable  bool
	Details    map[string]string
	Suggestion string
	Cause      error
}

func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AmanError) Unwrap() error { return e.Cause }

// Is compares codes, so New(code, "", nil) works as a sentinel.
func (e *AmanError) Is(target error) bool {
	t, ok := target.(*AmanError)
	return ok && t.Code == e.Code
}

// WithDetail attaches a key-value pair, e.g. the failing branch.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string, 1)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion attaches a hint for the user.
func (e *AmanError) WithSuggestion(s string) *AmanError {
	e.Suggestion = s
	return e
}

// New builds an AmanError; everything but the message derives from code.
func New(code, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Retryable: isRetryableCode(code),
		Cause:     cause,
	}
}

// Wrap uses err's text as the message. A nil err yields nil.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

func StorageError(message string, cause error) *AmanError {
	return New(ErrCodeStorageFailed, message, cause)
}

// ProviderError is a retryable embedding provider failure.
func ProviderError(message string, cause error) *AmanError {
	return New(ErrCodeEmbeddingProvider, message, cause)
}

// BranchUnavailable marks a lexical or semantic branch that produced no
// usable candidates for this query.
func BranchUnavailable(branch string, cause error) *AmanError {
	return New(ErrCodeBranchUnavailable, branch+" branch unavailable", cause).
		WithDetail("branch", branch)
}

func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// find returns the outermost AmanError in err's chain.
func find(err error) (*AmanError, bool) {
	var ae *AmanError
	ok := stderrors.As(err, &ae)
	return ae, ok
}

// IsRetryable reports whether the outermost AmanError is retryable.
func IsRetryable(err error) bool {
	ae, ok := find(err)
	return ok && ae.Retryable
}

// IsFatal reports whether the outermost AmanError is fatal.
func IsFatal(err error) bool {
	ae, ok := find(err)
	return ok && ae.Severity == SeverityFatal
}

// HasCode reports whether any error in the chain carries code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, &AmanError{Code: code})
}

// GetCode returns the outermost code, or "".
func GetCode(err error) string {
	if ae, ok := find(err); ok {
		return ae.Code
	}
	return ""
}

// GetCategory returns the outermost category, or "".
func GetCategory(err error) Category {
	if ae, ok := find(err); ok {
		return ae.Category
	}
	return ""
}

// ExitCode maps an error to a process exit status: 0 for nil, 2 for bad
// input or configuration, 3 for a missing or corrupt index, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case HasCode(err, ErrCodeIndexNotFound), HasCode(err, ErrCodeCorruptIndex):
		return 3
	}
	switch GetCategory(err) {
	case CategoryValidation, CategoryConfig:
		return 2
	}
	return 1
}
