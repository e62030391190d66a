package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/publisher"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/postpilothq/postpilot/internal/transfer"
	"github.com/postpilothq/postpilot/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultTiktokTokenURL      = "https://open.tiktokapis.com/v2/oauth/token/"
	defaultTwitterTokenURL     = "https://api.twitter.com/2/oauth2/token"
	defaultInstagramRefreshURL = "https://graph.instagram.com/refresh_access_token"
)

type ConnectionService interface {
	// Resolve returns the active connection for (user, platform) with a
	// fresh, decrypted access token, refreshing it first when needed.
	Resolve(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, string, error)
	Refresh(ctx context.Context, conn *models.PlatformConnection) error
	RecordPublish(ctx context.Context, connectionID int64) error
}

type connectionService struct {
	cfg config.Config
	pc  repository.PlatformConnectionRepository

	// endpoints and client are fields so tests can point refreshes at
	// fake servers, same as the adapter base URLs
	client              *http.Client
	tiktokTokenURL      string
	twitterTokenURL     string
	instagramRefreshURL string
	googleEndpoint      oauth2.Endpoint

	// one lock per connection so the refresh-check-then-use sequence is
	// exclusive across concurrent post dispatches
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewConnectionService(cfg config.Config, pc repository.PlatformConnectionRepository) ConnectionService {
	return &connectionService{
		cfg:                 cfg,
		pc:                  pc,
		client:              http.DefaultClient,
		tiktokTokenURL:      defaultTiktokTokenURL,
		twitterTokenURL:     defaultTwitterTokenURL,
		instagramRefreshURL: defaultInstagramRefreshURL,
		googleEndpoint:      google.Endpoint,
		locks:               make(map[int64]*sync.Mutex),
	}
}

func (s *connectionService) lockFor(connectionID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[connectionID] = lock
	}
	return lock
}

func (s *connectionService) Resolve(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, string, error) {
	conn, err := s.pc.GetByUserAndPlatform(ctx, userID, platform)
	if err != nil {
		return nil, "", err
	}
	if conn == nil {
		return nil, "", publisher.NewConfigurationError(platform, "platform is not connected")
	}
	if conn.Status != models.ConnectionStatusActive {
		return nil, "", publisher.NewConfigurationError(platform,
			fmt.Sprintf("connection is %s, reconnect the platform", conn.Status))
	}

	lock := s.lockFor(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	// re-read under the lock; another dispatch may have refreshed already
	conn, err = s.pc.GetByID(ctx, conn.ID)
	if err != nil {
		return nil, "", err
	}
	if conn == nil {
		return nil, "", publisher.NewConfigurationError(platform, "platform is not connected")
	}

	if conn.NeedsRefresh(s.cfg.Scheduler.RefreshMargin) {
		if err := s.refreshLocked(ctx, conn); err != nil {
			return nil, "", publisher.NewConfigurationError(platform,
				fmt.Sprintf("token refresh failed: %v", err))
		}
		conn, err = s.pc.GetByID(ctx, conn.ID)
		if err != nil || conn == nil {
			return nil, "", fmt.Errorf("connection disappeared after refresh")
		}
	}

	accessToken, err := utils.Decrypt(conn.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, "", publisher.NewConfigurationError(platform, "stored access token is unreadable")
	}

	return conn, accessToken, nil
}

func (s *connectionService) Refresh(ctx context.Context, conn *models.PlatformConnection) error {
	lock := s.lockFor(conn.ID)
	lock.Lock()
	defer lock.Unlock()

	return s.refreshLocked(ctx, conn)
}

// refreshLocked performs the platform-specific refresh call and stores the
// rotated credentials. On failure the connection is marked expired so it
// is surfaced as "reconnect platform" instead of being retried blindly.
func (s *connectionService) refreshLocked(ctx context.Context, conn *models.PlatformConnection) error {
	var err error
	switch conn.Platform {
	case models.PlatformYoutube:
		err = s.refreshYoutube(ctx, conn)
	case models.PlatformInstagram:
		err = s.refreshInstagram(ctx, conn)
	case models.PlatformTiktok:
		err = s.refreshTiktok(ctx, conn)
	case models.PlatformTwitter:
		err = s.refreshTwitter(ctx, conn)
	default:
		err = fmt.Errorf("unknown platform %q", conn.Platform)
	}

	if err != nil {
		slog.Info(fmt.Sprintf("token refresh failed for %s: %v", conn.Platform, err))
		if markErr := s.pc.SetStatus(ctx, conn.ID, models.ConnectionStatusExpired); markErr != nil {
			slog.Info(markErr.Error())
		}
		return err
	}

	return nil
}

func (s *connectionService) refreshYoutube(ctx context.Context, conn *models.PlatformConnection) error {
	conf := &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
		Endpoint:     s.googleEndpoint,
	}

	refreshToken, err := utils.Decrypt(conn.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	tokenSource := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := tokenSource.Token()
	if err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(token.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	return s.pc.SetToken(ctx, conn.ID, &models.PlatformConnection{
		AccessToken:    encryptedAccessToken,
		TokenExpiresAt: token.Expiry,
	})
}

func (s *connectionService) refreshInstagram(ctx context.Context, conn *models.PlatformConnection) error {
	refreshToken, err := utils.Decrypt(conn.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	reqURL := fmt.Sprintf(
		"%s?grant_type=ig_refresh_token&access_token=%s",
		s.instagramRefreshURL, refreshToken,
	)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("instagram refresh returned %d: %s", resp.StatusCode, body)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(result.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	// Instagram long-lived tokens refresh themselves; the same token acts
	// as the refresh token.
	return s.pc.SetToken(ctx, conn.ID, &models.PlatformConnection{
		AccessToken:    encryptedAccessToken,
		RefreshToken:   encryptedAccessToken,
		TokenExpiresAt: time.Now().Add(time.Second * time.Duration(result.ExpiresIn)),
	})
}

func (s *connectionService) refreshTiktok(ctx context.Context, conn *models.PlatformConnection) error {
	refreshToken, err := utils.Decrypt(conn.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	data := url.Values{}
	data.Set("client_key", s.cfg.TiktokClientKey)
	data.Set("client_secret", s.cfg.TiktokClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, "POST", s.tiktokTokenURL, bytes.NewBufferString(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tiktok refresh returned %d: %s", resp.StatusCode, body)
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(tokenResponse.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	encryptedRefreshToken, err := utils.Encrypt([]byte(tokenResponse.RefreshToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	return s.pc.SetToken(ctx, conn.ID, &models.PlatformConnection{
		AccessToken:    encryptedAccessToken,
		RefreshToken:   encryptedRefreshToken,
		TokenExpiresAt: GetExpiresAt(tokenResponse.ExpiresIn),
	})
}

func (s *connectionService) refreshTwitter(ctx context.Context, conn *models.PlatformConnection) error {
	refreshToken, err := utils.Decrypt(conn.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", s.cfg.TwitterClientID)

	req, err := http.NewRequestWithContext(ctx, "POST", s.twitterTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(s.cfg.TwitterClientID + ":" + s.cfg.TwitterClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("twitter refresh returned %d: %s", resp.StatusCode, body)
	}

	var tokenResponse transfer.TwitterTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(tokenResponse.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	// Twitter rotates the refresh token on every use
	encryptedRefreshToken, err := utils.Encrypt([]byte(tokenResponse.RefreshToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	return s.pc.SetToken(ctx, conn.ID, &models.PlatformConnection{
		AccessToken:    encryptedAccessToken,
		RefreshToken:   encryptedRefreshToken,
		TokenExpiresAt: GetExpiresAt(tokenResponse.ExpiresIn),
	})
}

func (s *connectionService) RecordPublish(ctx context.Context, connectionID int64) error {
	return s.pc.IncrementPostCount(ctx, connectionID)
}
