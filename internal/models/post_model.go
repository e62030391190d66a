package models

import "time"

type Platform string

const (
	PlatformYoutube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTiktok    Platform = "tiktok"
	PlatformTwitter   Platform = "twitter"
)

func ValidPlatforms() []Platform {
	return []Platform{PlatformYoutube, PlatformInstagram, PlatformTiktok, PlatformTwitter}
}

func IsValidPlatform(p string) bool {
	for _, valid := range ValidPlatforms() {
		if string(valid) == p {
			return true
		}
	}
	return false
}

type ScheduledPost struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Title       string    `db:"title" json:"title"`
	Caption     string    `db:"caption" json:"caption"`
	Hashtags    []string  `db:"hashtags" json:"hashtags"`
	ScheduledAt time.Time `db:"scheduled_at" json:"scheduled_at"`
	Status      string    `db:"status" json:"status"`
	Attempts    int       `db:"attempts" json:"attempts"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// PostTarget is one platform a post should go out to, carrying optional
// per-platform overrides and, once attempted, the recorded result.
type PostTarget struct {
	ID              int64             `db:"id" json:"id"`
	PostID          int64             `db:"post_id" json:"post_id"`
	Platform        Platform          `db:"platform" json:"platform"`
	TitleOverride   string            `db:"title_override" json:"title_override,omitempty"`
	CaptionOverride string            `db:"caption_override" json:"caption_override,omitempty"`
	HashtagOverride []string          `db:"hashtag_override" json:"hashtag_override,omitempty"`
	Settings        map[string]any    `db:"settings" json:"settings,omitempty"`
	Result          *PublishOutcome   `json:"result,omitempty"`
}

// PublishOutcome is the persisted per-platform attempt record.
type PublishOutcome struct {
	Success        bool      `db:"success" json:"success"`
	ExternalPostID string    `db:"external_post_id" json:"external_post_id,omitempty"`
	ExternalURL    string    `db:"external_url" json:"external_url,omitempty"`
	ErrorMessage   string    `db:"error_message" json:"error_message,omitempty"`
	PublishedAt    time.Time `db:"published_at" json:"published_at"`
}

type MediaAsset struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	FileName     string    `db:"file_name"`
	FileType     string    `db:"file_type"`
	FileSize     int64     `db:"file_size"`
	FileURL      string    `db:"file_url"`
	ThumbnailURL string    `db:"thumbnail_url"`
	CreatedAt    time.Time `db:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}

const (
	PostStatusScheduled  = "scheduled"
	PostStatusProcessing = "processing"
	PostStatusPublished  = "published"
	PostStatusFailed     = "failed"
	PostStatusCancelled  = "cancelled"
)
