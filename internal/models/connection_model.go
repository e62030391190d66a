package models

import (
	"time"
)

const (
	ConnectionStatusActive  = "active"
	ConnectionStatusRevoked = "revoked"
	ConnectionStatusExpired = "expired"
)

// PlatformConnection holds one user's credentials for one platform.
// Tokens are stored AES-GCM encrypted; the orchestrator decrypts just
// before handing them to an adapter.
type PlatformConnection struct {
	ID               int64     `db:"id" json:"id"`
	UserID           int64     `db:"user_id" json:"user_id"`
	Platform         Platform  `db:"platform" json:"platform"`
	PlatformUserID   string    `db:"platform_user_id" json:"platform_user_id"`
	PlatformUsername string    `db:"platform_username" json:"platform_username"`
	ProfilePicture   string    `db:"profile_picture_url" json:"profile_picture"`
	AccessToken      string    `db:"access_token" json:"-"`
	RefreshToken     string    `db:"refresh_token" json:"-"`
	TokenExpiresAt   time.Time `db:"token_expires_at" json:"token_expires_at"`
	Status           string    `db:"status" json:"status"`
	PostCount        int64     `db:"post_count" json:"post_count"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// NeedsRefresh reports whether the access token is missing or expires
// within the safety margin.
func (c *PlatformConnection) NeedsRefresh(margin time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.TokenExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Before(c.TokenExpiresAt.Add(-margin))
}
