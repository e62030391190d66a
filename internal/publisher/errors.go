package publisher

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/postpilothq/postpilot/internal/models"
)

// ErrorKind classifies an adapter failure. The orchestrator and the API
// surface treat kinds differently: configuration errors mean "reconnect
// the platform", transient errors leave the post eligible for retry,
// validation errors fail before any network call.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindTransient     ErrorKind = "transient"
	KindTimeout       ErrorKind = "timeout"
	KindValidation    ErrorKind = "validation"
)

// PublishError is always attributed to a single platform.
type PublishError struct {
	Platform models.Platform
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Platform, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Message)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func NewConfigurationError(platform models.Platform, message string) *PublishError {
	return &PublishError{Platform: platform, Kind: KindConfiguration, Message: message}
}

func NewTransientError(platform models.Platform, message string, err error) *PublishError {
	return &PublishError{Platform: platform, Kind: KindTransient, Message: message, Err: err}
}

func NewTimeoutError(platform models.Platform, message string) *PublishError {
	return &PublishError{Platform: platform, Kind: KindTimeout, Message: message}
}

func NewValidationError(platform models.Platform, message string) *PublishError {
	return &PublishError{Platform: platform, Kind: KindValidation, Message: message}
}

// ClassifyHTTP maps a platform API status code onto the taxonomy:
// auth failures are configuration, rate limits and 5xx are transient,
// anything else 4xx is validation.
func ClassifyHTTP(platform models.Platform, statusCode int, message string) *PublishError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &PublishError{Platform: platform, Kind: KindConfiguration, Message: message}
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return &PublishError{Platform: platform, Kind: KindTransient, Message: message}
	default:
		return &PublishError{Platform: platform, Kind: KindValidation, Message: message}
	}
}

// AsPublishError normalizes any adapter error into a PublishError so the
// recorded per-platform result always carries an attributed kind.
func AsPublishError(platform models.Platform, err error) *PublishError {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe
	}
	return NewTransientError(platform, "publish failed", err)
}

// AggregateError means every targeted platform failed.
type AggregateError struct {
	Failures []*PublishError
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("all platforms failed: %s", strings.Join(parts, "; "))
}
