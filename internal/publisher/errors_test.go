package publisher

import (
	"errors"
	"net/http"
	"testing"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantKind   ErrorKind
	}{
		{"unauthorized is configuration", http.StatusUnauthorized, KindConfiguration},
		{"forbidden is configuration", http.StatusForbidden, KindConfiguration},
		{"rate limit is transient", http.StatusTooManyRequests, KindTransient},
		{"server error is transient", http.StatusInternalServerError, KindTransient},
		{"bad gateway is transient", http.StatusBadGateway, KindTransient},
		{"bad request is validation", http.StatusBadRequest, KindValidation},
		{"not found is validation", http.StatusNotFound, KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyHTTP(models.PlatformTwitter, tt.statusCode, "boom")
			assert.Equal(t, tt.wantKind, err.Kind)
			assert.Equal(t, models.PlatformTwitter, err.Platform)
		})
	}
}

func TestAsPublishErrorKeepsClassifiedErrors(t *testing.T) {
	orig := NewTimeoutError(models.PlatformTiktok, "publish never reached a terminal state")

	got := AsPublishError(models.PlatformTiktok, orig)
	assert.Equal(t, KindTimeout, got.Kind)
	assert.Equal(t, models.PlatformTiktok, got.Platform)
}

func TestAsPublishErrorWrapsUnclassifiedErrors(t *testing.T) {
	got := AsPublishError(models.PlatformYoutube, errors.New("connection reset"))

	assert.Equal(t, KindTransient, got.Kind)
	assert.Equal(t, models.PlatformYoutube, got.Platform)
	assert.Contains(t, got.Error(), "connection reset")
}

func TestPublishErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := NewTransientError(models.PlatformInstagram, "outer", inner)

	assert.ErrorIs(t, err, inner)
}

func TestAggregateErrorMessageListsAllPlatforms(t *testing.T) {
	agg := &AggregateError{Failures: []*PublishError{
		NewConfigurationError(models.PlatformInstagram, "token revoked"),
		NewTransientError(models.PlatformTiktok, "upload failed", nil),
	}}

	msg := agg.Error()
	assert.Contains(t, msg, "all platforms failed")
	assert.Contains(t, msg, "instagram")
	assert.Contains(t, msg, "tiktok")
}
