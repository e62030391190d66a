package transfer

import "github.com/golang-jwt/jwt/v5"

// TargetSpec is one requested platform in a post creation call, with
// optional per-platform overrides and a free-form settings bag.
type TargetSpec struct {
	Platform        string         `json:"platform"`
	TitleOverride   string         `json:"title_override,omitempty"`
	CaptionOverride string         `json:"caption_override,omitempty"`
	HashtagOverride []string       `json:"hashtag_override,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
}

type PostCreation struct {
	Title         string
	Caption       string
	Hashtags      string // JSON array
	ScheduledTime string
	Targets       string // JSON array of TargetSpec
}

type PostUpdate struct {
	Title         string   `json:"title"`
	Caption       string   `json:"caption"`
	Hashtags      []string `json:"hashtags"`
	ScheduledTime string   `json:"scheduled_time"`
}

type GoogleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
