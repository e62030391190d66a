// Package publisher contains the per-platform publish adapters. Every
// platform, whatever its upload protocol looks like, sits behind the same
// Publisher contract; the orchestrator never branches on platform names.
package publisher

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/postpilothq/postpilot/internal/models"
)

// MediaFile is an adapter-consumable media descriptor resolved from a
// stored media asset. URL must be publicly fetchable.
type MediaFile struct {
	URL          string
	Type         string // "image" or "video"
	ThumbnailURL string
}

// PublishRequest carries everything an adapter needs for one attempt.
// AccessToken is already decrypted and guaranteed fresh by the caller.
type PublishRequest struct {
	Connection  *models.PlatformConnection
	AccessToken string
	Title       string
	Caption     string
	Hashtags    []string
	Media       []MediaFile
	Settings    map[string]any
}

type PublishResult struct {
	Platform    models.Platform
	PostID      string
	URL         string
	PublishedAt time.Time
}

type Publisher interface {
	Platform() models.Platform
	Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error)
}

// Registry maps platform names to their adapters. Adding a platform means
// registering an adapter, not editing dispatch code.
type Registry struct {
	publishers map[models.Platform]Publisher
}

func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[models.Platform]Publisher, len(publishers))}
	for _, p := range publishers {
		r.publishers[p.Platform()] = p
	}
	return r
}

func (r *Registry) Lookup(platform models.Platform) (Publisher, bool) {
	p, ok := r.publishers[platform]
	return p, ok
}

// validateRequest is the shared pre-flight check: no adapter touches the
// network without a connection and a usable access token.
func validateRequest(platform models.Platform, req *PublishRequest) error {
	if req == nil || req.Connection == nil {
		return NewConfigurationError(platform, "no platform connection")
	}
	if req.AccessToken == "" {
		return NewConfigurationError(platform, "access token is empty")
	}
	return nil
}

func firstVideo(media []MediaFile) *MediaFile {
	for i := range media {
		if media[i].Type == "video" {
			return &media[i]
		}
	}
	return nil
}

// truncate cuts s to max characters, not bytes, so multi-byte captions
// are never split mid-rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
