package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/transfer"
	"github.com/spf13/cast"
)

const (
	instagramCaptionLimit   = 2200
	defaultInstagramBaseURL = "https://graph.instagram.com/v21.0"
)

// InstagramPublisher implements the two-phase Graph protocol: create a
// media container referencing a public media URL, then publish it by id.
// Carousels create child containers first; stories use the same
// create-then-publish shape with a different media type.
type InstagramPublisher struct {
	BaseURL string
	Client  *http.Client
}

func NewInstagramPublisher() *InstagramPublisher {
	return &InstagramPublisher{
		BaseURL: defaultInstagramBaseURL,
		Client:  http.DefaultClient,
	}
}

func (p *InstagramPublisher) Platform() models.Platform {
	return models.PlatformInstagram
}

func (p *InstagramPublisher) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	if err := validateRequest(models.PlatformInstagram, req); err != nil {
		return nil, err
	}
	if len(req.Media) == 0 {
		return nil, NewValidationError(models.PlatformInstagram, "instagram requires at least one media file")
	}

	caption := truncate(appendHashtags(req.Caption, req.Hashtags), instagramCaptionLimit)
	accountID := req.Connection.PlatformUserID

	var containerID string
	var err error

	switch {
	case cast.ToBool(req.Settings["story"]):
		containerID, err = p.createContainer(ctx, req, accountID, storyPayload(req.Media[0], req.AccessToken))
	case len(req.Media) > 1:
		containerID, err = p.createCarousel(ctx, req, accountID, caption)
	default:
		containerID, err = p.createContainer(ctx, req, accountID, singlePayload(req.Media[0], caption, req.AccessToken, req.Settings))
	}
	if err != nil {
		return nil, err
	}

	mediaID, err := p.publishContainer(ctx, accountID, containerID, req.AccessToken)
	if err != nil {
		return nil, err
	}

	return &PublishResult{
		Platform:    models.PlatformInstagram,
		PostID:      mediaID,
		URL:         fmt.Sprintf("https://www.instagram.com/%s", req.Connection.PlatformUsername),
		PublishedAt: time.Now(),
	}, nil
}

func singlePayload(media MediaFile, caption, accessToken string, settings map[string]any) map[string]any {
	payload := map[string]any{
		"caption":      caption,
		"access_token": accessToken,
	}
	if media.Type == "video" {
		payload["media_type"] = "REELS"
		payload["video_url"] = media.URL
	} else {
		payload["image_url"] = media.URL
	}
	if location := cast.ToString(settings["location_id"]); location != "" {
		payload["location_id"] = location
	}
	if userTags, ok := settings["user_tags"]; ok {
		payload["user_tags"] = userTags
	}
	return payload
}

func storyPayload(media MediaFile, accessToken string) map[string]any {
	payload := map[string]any{
		"media_type":   "STORIES",
		"access_token": accessToken,
	}
	if media.Type == "video" {
		payload["video_url"] = media.URL
	} else {
		payload["image_url"] = media.URL
	}
	return payload
}

func (p *InstagramPublisher) createCarousel(ctx context.Context, req *PublishRequest, accountID, caption string) (string, error) {
	childIDs := make([]string, 0, len(req.Media))

	for _, media := range req.Media {
		payload := map[string]any{
			"is_carousel_item": true,
			"access_token":     req.AccessToken,
		}
		if media.Type == "video" {
			payload["media_type"] = "VIDEO"
			payload["video_url"] = media.URL
		} else {
			payload["image_url"] = media.URL
		}

		childID, err := p.createContainer(ctx, req, accountID, payload)
		if err != nil {
			return "", err
		}
		childIDs = append(childIDs, childID)
	}

	parent := map[string]any{
		"media_type":   "CAROUSEL",
		"caption":      caption,
		"children":     childIDs,
		"access_token": req.AccessToken,
	}
	return p.createContainer(ctx, req, accountID, parent)
}

func (p *InstagramPublisher) createContainer(ctx context.Context, req *PublishRequest, accountID string, payload map[string]any) (string, error) {
	url := fmt.Sprintf("%s/%s/media", p.BaseURL, accountID)

	result, err := p.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	if result.ID == "" {
		return "", NewTransientError(models.PlatformInstagram, "no container id returned", nil)
	}

	return result.ID, nil
}

func (p *InstagramPublisher) publishContainer(ctx context.Context, accountID, containerID, accessToken string) (string, error) {
	url := fmt.Sprintf("%s/%s/media_publish", p.BaseURL, accountID)
	payload := map[string]any{
		"creation_id":  containerID,
		"access_token": accessToken,
	}

	result, err := p.post(ctx, url, payload)
	if err != nil {
		return "", err
	}

	if result.ID == "" {
		return "", NewTransientError(models.PlatformInstagram, "no media id returned from publish", nil)
	}

	log.Printf("Instagram publish complete: %s", result.ID)
	return result.ID, nil
}

func (p *InstagramPublisher) post(ctx context.Context, url string, payload map[string]any) (*transfer.InstagramContainerResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewValidationError(models.PlatformInstagram, "failed to marshal payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, NewTransientError(models.PlatformInstagram, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(models.PlatformInstagram, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	var result transfer.InstagramContainerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewTransientError(models.PlatformInstagram, "failed to decode response", err)
	}

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("unexpected status code %d", resp.StatusCode)
		if result.Error != nil && result.Error.Message != "" {
			message = result.Error.Message
		}
		return nil, ClassifyHTTP(models.PlatformInstagram, resp.StatusCode, message)
	}

	return &result, nil
}
