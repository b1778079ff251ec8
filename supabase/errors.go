package supabase

import (
	"encoding/json"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// TextCodeInvalidResponse marks a response body that could not be decoded.
const TextCodeInvalidResponse = "SUPABASE_INVALID_RESPONSE"

// ErrInvalidResponse is returned when the remote body is not what the
// endpoint documents.
var ErrInvalidResponse = goerrors.New("invalid response from auth service", goerrors.CategoryInternal).
	WithTextCode(TextCodeInvalidResponse).
	WithCode(goerrors.CodeInternal)

// APIError is a non 2xx answer from the auth or REST API. Error returns the
// remote message so callers can classify and display it.
type APIError struct {
	Operation string
	Status    int
	Code      string
	Message   string
	Raw       map[string]any
}

func (e *APIError) Error() string {
	if e == nil {
		return "supabase error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("%s failed with status %d", e.Operation, e.Status)
}

// Metadata mirrors social.ProviderError for structured logging.
func (e *APIError) Metadata() map[string]any {
	if e == nil {
		return nil
	}
	meta := map[string]any{"operation": e.Operation, "status": e.Status}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Message != "" {
		meta["message"] = e.Message
	}
	return meta
}

type apiErrorBody struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Code             any    `json:"code"`
	Hint             string `json:"hint"`
}

func parseAPIError(operation string, status int, body []byte) *APIError {
	apiErr := &APIError{Operation: operation, Status: status}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	_ = json.Unmarshal(body, &apiErr.Raw)

	for _, candidate := range []string{parsed.Msg, parsed.ErrorDescription, parsed.Message, parsed.Error} {
		if candidate != "" {
			apiErr.Message = candidate
			break
		}
	}

	switch {
	case parsed.ErrorCode != "":
		apiErr.Code = parsed.ErrorCode
	case parsed.Error != "" && parsed.Error != apiErr.Message:
		apiErr.Code = parsed.Error
	default:
		if s, ok := parsed.Code.(string); ok {
			apiErr.Code = s
		}
	}
	return apiErr
}

func invalidResponse(operation string, err error) error {
	clone := ErrInvalidResponse.Clone()
	if clone == nil {
		clone = ErrInvalidResponse
	}
	if err != nil {
		clone.Source = err
	}
	clone.WithMetadata(map[string]any{"operation": operation})
	return clone
}
