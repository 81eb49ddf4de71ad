package protocol

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an account that cannot be started as configured
// (missing token or URL). It is not retried.
type ConfigurationError struct {
	AccountID string
	Field     string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("huddle account %q: %s: %s", e.AccountID, e.Field, e.Reason)
}

// AuthenticationError reports a rejected bot token (HTTP 401/403 or an auth_error event).
type AuthenticationError struct {
	Status  int // HTTP status, 0 when raised by the realtime transport
	Message string
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unauthorized"
	}
	if e.Status != 0 {
		return fmt.Sprintf("huddle: authentication failed (HTTP %d): %s; check that the bot token is valid and has not been revoked", e.Status, msg)
	}
	return fmt.Sprintf("huddle: authentication failed: %s; check that the bot token is valid and has not been revoked", msg)
}

// TransportError reports a realtime connection failure after the transport's own retries.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("huddle transport %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("huddle transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeliveryError reports a failed outbound send, edit or upload.
type DeliveryError struct {
	Op        string
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("huddle %s to %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// DiscoveryError reports a failed metadata lookup (channel listing, channel type).
// Callers degrade to a safe default instead of failing.
type DiscoveryError struct {
	Op  string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("huddle discovery %s: %v", e.Op, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// APIError is a non-auth REST failure.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("huddle api: HTTP %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("huddle api: HTTP %d: %s", e.Status, e.Message)
}

// IsAuthError reports whether err is, or wraps, an AuthenticationError.
func IsAuthError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsConfigError reports whether err is, or wraps, a ConfigurationError.
func IsConfigError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a 404 from the REST API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == 404
}
