package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/postpilothq/postpilot/internal/transfer"
	"github.com/postpilothq/postpilot/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuthService turns authorization codes from platform callbacks into
// stored platform connections. Connecting a platform that is already
// connected replaces the stored credentials.
type OAuthService interface {
	HandleCallback(ctx context.Context, platform models.Platform, code string, userID int64) error
}

type oauthService struct {
	cfg config.Config
	pc  repository.PlatformConnectionRepository
}

func NewOAuthService(cfg config.Config, pc repository.PlatformConnectionRepository) OAuthService {
	return &oauthService{
		cfg: cfg,
		pc:  pc,
	}
}

func (s *oauthService) HandleCallback(ctx context.Context, platform models.Platform, code string, userID int64) error {
	var err error

	if code == "" {
		err = errors.New("code or state is empty")
		slog.Info(err.Error())
		return err
	}

	if userID == 0 {
		err = errors.New("User not found")
		slog.Info(err.Error())
		return err
	}

	var conn *models.PlatformConnection

	switch platform {
	case models.PlatformYoutube:
		conn, err = s.youtubeCallback(ctx, code)
	case models.PlatformInstagram:
		conn, err = s.instagramCallback(ctx, code)
	case models.PlatformTiktok:
		conn, err = s.tiktokCallback(ctx, code)
	case models.PlatformTwitter:
		conn, err = s.twitterCallback(ctx, code)
	default:
		err = fmt.Errorf("unknown platform: %s", platform)
		slog.Info(err.Error())
	}
	if err != nil {
		return err
	}

	conn.UserID = userID
	conn.Platform = platform
	conn.Status = models.ConnectionStatusActive

	_, err = s.pc.Create(ctx, nil, conn)
	if err != nil {
		return err
	}

	return nil
}

func (s *oauthService) encryptPair(accessToken, refreshToken string) (string, string, error) {
	encryptedAccessToken, err := utils.Encrypt([]byte(accessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return "", "", err
	}
	encryptedRefreshToken, err := utils.Encrypt([]byte(refreshToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return "", "", err
	}
	return encryptedAccessToken, encryptedRefreshToken, nil
}

func (s *oauthService) youtubeCallback(ctx context.Context, code string) (*models.PlatformConnection, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		RedirectURL:  s.cfg.GoogleRedirectURI,
		Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile", "https://www.googleapis.com/auth/youtube.upload"},
		Endpoint:     google.Endpoint,
	}

	if oauth2Config.ClientID == "" || oauth2Config.ClientSecret == "" || oauth2Config.RedirectURL == "" {
		err := errors.New("OAuth2 configration is incomplete")
		slog.Info(err.Error())
		return nil, err
	}

	token, err := oauth2Config.Exchange(ctx, code)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	userInfo, err := GoogleUserInfo(token.AccessToken)
	if err != nil {
		return nil, err
	}

	encryptedAccessToken, encryptedRefreshToken, err := s.encryptPair(token.AccessToken, token.RefreshToken)
	if err != nil {
		return nil, err
	}

	return &models.PlatformConnection{
		PlatformUserID:   userInfo.ID,
		PlatformUsername: userInfo.Name,
		ProfilePicture:   userInfo.Picture,
		AccessToken:      encryptedAccessToken,
		RefreshToken:     encryptedRefreshToken,
		TokenExpiresAt:   token.Expiry,
	}, nil
}

func (s *oauthService) instagramCallback(ctx context.Context, code string) (*models.PlatformConnection, error) {
	token, err := s.exchangeInstagramCode(ctx, code)
	if err != nil {
		return nil, err
	}

	userInfo, err := InstagramUserInfo(token.LongLivedToken)
	if err != nil {
		return nil, err
	}

	// Instagram refreshes long-lived tokens with the token itself, so
	// the same value is stored in both slots.
	encryptedAccessToken, encryptedRefreshToken, err := s.encryptPair(token.LongLivedToken, token.LongLivedToken)
	if err != nil {
		return nil, err
	}

	return &models.PlatformConnection{
		PlatformUserID:   userInfo.UserID,
		PlatformUsername: userInfo.Username,
		ProfilePicture:   userInfo.ProfilePicture,
		AccessToken:      encryptedAccessToken,
		RefreshToken:     encryptedRefreshToken,
		TokenExpiresAt:   token.ExpiresAt,
	}, nil
}

func (s *oauthService) exchangeInstagramCode(ctx context.Context, code string) (*transfer.InstagramToken, error) {
	data := url.Values{}
	data.Set("client_id", s.cfg.InstagramClientID)
	data.Set("client_secret", s.cfg.InstagramClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", s.cfg.InstagramRedirectURI)
	data.Set("code", code)

	resp, err := http.Post(
		"https://api.instagram.com/oauth/access_token",
		"application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to get short-lived token: %v", err)
	}
	defer resp.Body.Close()

	var shortLived struct {
		AccessToken string `json:"access_token"`
		UserID      int    `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&shortLived); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %v", err)
	}

	exchangeURL := fmt.Sprintf(
		"https://graph.instagram.com/access_token?grant_type=ig_exchange_token&client_secret=%s&access_token=%s",
		s.cfg.InstagramClientSecret,
		shortLived.AccessToken,
	)

	longResp, err := http.Get(exchangeURL)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to get long-lived token: %v", err)
	}
	defer longResp.Body.Close()

	var longLived struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(longResp.Body).Decode(&longLived); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %v", err)
	}

	return &transfer.InstagramToken{
		UserID:         shortLived.UserID,
		AccessToken:    shortLived.AccessToken,
		LongLivedToken: longLived.AccessToken,
		ExpiresAt:      GetExpiresAt(longLived.ExpiresIn),
	}, nil
}

func (s *oauthService) tiktokCallback(ctx context.Context, code string) (*models.PlatformConnection, error) {
	data := url.Values{}
	data.Add("client_key", s.cfg.TiktokClientKey)
	data.Add("client_secret", s.cfg.TiktokClientSecret)
	data.Add("scopes", "user.info.basic,user.info.profile,video.publish,video.upload")
	data.Add("code", code)
	data.Add("grant_type", "authorization_code")
	data.Add("redirect_uri", s.cfg.TiktokRedirectURI)

	resp, err := http.Post(
		defaultTiktokTokenURL,
		"application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Info("TikTok token endpoint returned non-200 status")
		return nil, errors.New("TikTok token endpoint returned non-200 status")
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	userInfo, err := TiktokUserInfo(tokenResponse.AccessToken)
	if err != nil {
		return nil, err
	}

	encryptedAccessToken, encryptedRefreshToken, err := s.encryptPair(tokenResponse.AccessToken, tokenResponse.RefreshToken)
	if err != nil {
		return nil, err
	}

	return &models.PlatformConnection{
		PlatformUserID:   userInfo.Data.User.OpenID,
		PlatformUsername: userInfo.Data.User.Username,
		ProfilePicture:   userInfo.Data.User.AvatarURL,
		AccessToken:      encryptedAccessToken,
		RefreshToken:     encryptedRefreshToken,
		TokenExpiresAt:   GetExpiresAt(tokenResponse.ExpiresIn),
	}, nil
}

func (s *oauthService) twitterCallback(ctx context.Context, code string) (*models.PlatformConnection, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", s.cfg.TwitterClientID)
	data.Set("redirect_uri", s.cfg.TwitterRedirectURI)
	data.Set("code_verifier", "challenge")

	req, err := http.NewRequestWithContext(ctx, "POST", defaultTwitterTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(s.cfg.TwitterClientID + ":" + s.cfg.TwitterClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Info("Twitter token endpoint returned non-200 status")
		return nil, errors.New("Twitter token endpoint returned non-200 status")
	}

	var tokenResponse transfer.TwitterTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	userInfo, err := TwitterUserInfo(tokenResponse.AccessToken)
	if err != nil {
		return nil, err
	}

	encryptedAccessToken, encryptedRefreshToken, err := s.encryptPair(tokenResponse.AccessToken, tokenResponse.RefreshToken)
	if err != nil {
		return nil, err
	}

	return &models.PlatformConnection{
		PlatformUserID:   userInfo.Data.ID,
		PlatformUsername: userInfo.Data.Username,
		AccessToken:      encryptedAccessToken,
		RefreshToken:     encryptedRefreshToken,
		TokenExpiresAt:   GetExpiresAt(tokenResponse.ExpiresIn),
	}, nil
}

func GoogleUserInfo(accessToken string) (*transfer.GoogleUserInfo, error) {
	req, err := http.NewRequest("GET", "https://www.googleapis.com/oauth2/v2/userinfo", nil)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Info("Unexpected response status")
		return nil, fmt.Errorf("unexpected response status: %d", resp.StatusCode)
	}

	var userInfo transfer.GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("error decoding user info: %w", err)
	}

	return &userInfo, nil
}

func InstagramUserInfo(accessToken string) (*transfer.InstagramUserInfo, error) {
	url := "https://graph.instagram.com/me?fields=id,username,name,profile_picture_url&access_token=" + accessToken

	resp, err := http.Get(url)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var userInfo transfer.InstagramUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &userInfo, nil
}

func TiktokUserInfo(accessToken string) (*transfer.TiktokUserInfoResponse, error) {
	url := "https://open.tiktokapis.com/v2/user/info/?fields=open_id,avatar_url,display_name,username"

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var result transfer.TiktokUserInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &result, nil
}

func TwitterUserInfo(accessToken string) (*transfer.TwitterUserResponse, error) {
	req, err := http.NewRequest("GET", "https://api.twitter.com/2/users/me", nil)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var result transfer.TwitterUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &result, nil
}
