package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/postpilothq/postpilot/internal/transfer"
	"github.com/postpilothq/postpilot/pkg/utils"
)

const (
	TIKTOK_AUTH_URL    = "https://www.tiktok.com/v2/auth/authorize"
	GOOGLE_AUTH_URL    = "https://accounts.google.com/o/oauth2/v2/auth"
	INSTAGRAM_AUTH_URL = "https://www.instagram.com/oauth/authorize"
	TWITTER_AUTH_URL   = "https://twitter.com/i/oauth2/authorize"
)

type PlatformService interface {
	GetAuthURL(ctx context.Context, platform, tokenString string) string
	List(ctx context.Context, userID int64) ([]*models.PlatformConnection, error)
	Disconnect(ctx context.Context, userID, connectionID int64) error
}

type platformService struct {
	cfg config.Config
	pc  repository.PlatformConnectionRepository
}

func NewPlatformService(cfg config.Config, pc repository.PlatformConnectionRepository) PlatformService {
	return &platformService{
		cfg: cfg,
		pc:  pc,
	}
}

func (s *platformService) GetAuthURL(ctx context.Context, platform, tokenString string) string {
	switch platform {
	case "instagram":
		params := url.Values{}
		params.Add("client_id", s.cfg.InstagramClientID)
		params.Add("scope", "instagram_business_basic,instagram_business_content_publish")
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.cfg.InstagramRedirectURI)
		params.Add("state", tokenString)

		return fmt.Sprintf("%s?%s", INSTAGRAM_AUTH_URL, params.Encode())

	case "tiktok":
		params := url.Values{}
		params.Add("client_key", s.cfg.TiktokClientKey)
		params.Add("scope", "user.info.basic,user.info.profile,video.publish,video.upload")
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.cfg.TiktokRedirectURI)
		params.Add("state", tokenString)

		return fmt.Sprintf("%s?%s", TIKTOK_AUTH_URL, params.Encode())

	case "youtube":
		params := url.Values{}
		params.Add("client_id", s.cfg.GoogleClientID)
		params.Add("redirect_uri", s.cfg.GoogleRedirectURI)
		params.Add("response_type", "code")
		params.Add("scope", "https://www.googleapis.com/auth/userinfo.profile https://www.googleapis.com/auth/userinfo.email https://www.googleapis.com/auth/youtube.upload")
		params.Add("state", tokenString)
		params.Add("access_type", "offline")
		params.Add("prompt", "consent")

		return fmt.Sprintf("%s?%s", GOOGLE_AUTH_URL, params.Encode())

	case "twitter":
		params := url.Values{}
		params.Add("client_id", s.cfg.TwitterClientID)
		params.Add("redirect_uri", s.cfg.TwitterRedirectURI)
		params.Add("response_type", "code")
		params.Add("scope", "tweet.read tweet.write users.read media.write offline.access")
		params.Add("state", tokenString)
		params.Add("code_challenge", "challenge")
		params.Add("code_challenge_method", "plain")

		return fmt.Sprintf("%s?%s", TWITTER_AUTH_URL, params.Encode())

	default:
		return ""
	}
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	connections, err := s.pc.ListInfoByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting platform connections")
	}

	return connections, nil
}

func (s *platformService) Disconnect(ctx context.Context, userID, connectionID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return err
	}

	if connectionID == 0 {
		err = errors.New("ConnectionID is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pc.CheckByUserID(ctx, connectionID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("Platform connection doesn't exist")
		slog.Info(err.Error())
		return err
	}

	connInfo, err := s.pc.GetByID(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("Unable to get connection info")
	}

	decryptedAccessToken, err := utils.Decrypt(connInfo.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	switch connInfo.Platform {

	case models.PlatformTiktok:
		err = RevokeTiktokAccess(connInfo.PlatformUserID, decryptedAccessToken)
		if err != nil {
			slog.Info(err.Error())
			return fmt.Errorf("Unable to revoke access")
		}
	case models.PlatformYoutube:
		err = RevokeGoogleAccess(decryptedAccessToken)
		if err != nil {
			slog.Info(err.Error())
			return fmt.Errorf("Unable to revoke access")
		}
	}

	err = s.pc.Remove(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("Error removing connection info")
	}

	return nil
}

func RevokeTiktokAccess(openID, accessToken string) error {
	urlRevoke := "https://open-api.tiktok.com/oauth/revoke/"
	params := url.Values{}
	params.Add("open_id", openID)
	params.Add("access_token", accessToken)

	req, err := http.NewRequest("POST", urlRevoke, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result transfer.TiktokRevokeData
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return err
	}

	log.Println("desc", result.Description)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to revoke token, status code: %s", result.Description)
	}
	return nil
}

func RevokeGoogleAccess(accessToken string) error {
	url := "https://oauth2.googleapis.com/revoke"
	payload := strings.NewReader("token=" + accessToken)

	req, err := http.NewRequest("POST", url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to revoke token, status code: %d", resp.StatusCode)
	}
	return nil
}
