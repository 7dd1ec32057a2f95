package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// normalize returns err's AmanError, wrapping plain errors as internal.
func normalize(err error) *AmanError {
	if ae, ok := find(err); ok {
		return ae
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForCLI renders err for stderr: the message, then cause, hint and
// code on indented lines.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	ae := normalize(err)

	lines := []string{"Error: " + ae.Message}
	if ae.Cause != nil && ae.Cause.Error() != ae.Message {
		lines = append(lines, "  Cause: "+ae.Cause.Error())
	}
	if ae.Suggestion != "" {
		lines = append(lines, "  Hint: "+ae.Suggestion)
	}
	lines = append(lines, fmt.Sprintf("  Code: %s", ae.Code))
	return strings.Join(lines, "\n") + "\n"
}

// JSONError is the error body of the HTTP API.
type JSONError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// ToJSONError converts err, wrapping plain errors as internal.
func ToJSONError(err error) JSONError {
	if err == nil {
		return JSONError{}
	}
	ae := normalize(err)
	out := JSONError{
		Code:       ae.Code,
		Message:    ae.Message,
		Category:   string(ae.Category),
		Details:    ae.Details,
		Suggestion: ae.Suggestion,
		Retryable:  ae.Retryable,
	}
	if ae.Cause != nil {
		out.Cause = ae.Cause.Error()
	}
	return out
}

// FormatJSON marshals ToJSONError(err); nil encodes as null.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return []byte("null"), nil
	}
	return json.Marshal(ToJSONError(err))
}
