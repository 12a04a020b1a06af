package integrations

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/fitglue/workoutsync/pkg/types"
)

var (
	// ErrAuthRequired is returned by ExchangeCode when no local user is supplied.
	ErrAuthRequired = errors.New("integrations: authenticated user required")
	// ErrIntegrationDisabled means client id or redirect URI are not configured.
	ErrIntegrationDisabled = errors.New("integrations: integration not configured")
	// ErrDataShape wraps vendor payloads that do not match the expected JSON.
	ErrDataShape = errors.New("integrations: unexpected vendor response")
)

// VendorAuthError is a vendor rejecting a code, refresh token or access token.
// Message carries the vendor's own explanation.
type VendorAuthError struct {
	Provider   types.Provider
	StatusCode int
	Message    string
}

func (e *VendorAuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected the credentials (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s rejected the credentials (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// TransientVendorError is a network failure or 5xx from the vendor.
type TransientVendorError struct {
	Provider   types.Provider
	StatusCode int
	Err        error
}

func (e *TransientVendorError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s unreachable: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s unavailable (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *TransientVendorError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	var te *TransientVendorError
	return errors.As(err, &te)
}

// FromOAuthError classifies an error returned by golang.org/x/oauth2.
func FromOAuthError(provider types.Provider, err error) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return &TransientVendorError{Provider: provider, Err: err}
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	if status >= http.StatusInternalServerError {
		return &TransientVendorError{Provider: provider, StatusCode: status, Err: err}
	}

	msg := re.ErrorDescription
	if msg == "" {
		msg = VendorMessage(re.Body)
	}
	if msg == "" {
		msg = re.ErrorCode
	}
	return &VendorAuthError{Provider: provider, StatusCode: status, Message: msg}
}

// VendorMessage extracts a human readable message from a vendor error body.
func VendorMessage(body []byte) string {
	var payload struct {
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            any    `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.ErrorDescription != "":
			return payload.ErrorDescription
		case payload.Message != "":
			return payload.Message
		case payload.Error != nil:
			return fmt.Sprint(payload.Error)
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
