package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/transfer"
	"github.com/spf13/cast"
)

const (
	tiktokChunkSize       = 10 * 1024 * 1024
	tiktokPollInterval    = 2 * time.Second
	tiktokPollMaxAttempts = 30
	tiktokStatusComplete  = "PUBLISH_COMPLETE"
	tiktokStatusFailed    = "FAILED"
	defaultTiktokBaseURL  = "https://open.tiktokapis.com"
)

// TiktokPublisher drives TikTok's three-phase protocol: init returns an
// upload URL and publish id, the raw bytes go to the upload URL, then the
// status endpoint is polled until the publish reaches a terminal state.
type TiktokPublisher struct {
	BaseURL      string
	Client       *http.Client
	pollInterval time.Duration
}

func NewTiktokPublisher() *TiktokPublisher {
	return &TiktokPublisher{
		BaseURL:      defaultTiktokBaseURL,
		Client:       http.DefaultClient,
		pollInterval: tiktokPollInterval,
	}
}

func (p *TiktokPublisher) Platform() models.Platform {
	return models.PlatformTiktok
}

func (p *TiktokPublisher) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	if err := validateRequest(models.PlatformTiktok, req); err != nil {
		return nil, err
	}

	video := firstVideo(req.Media)
	if video == nil {
		return nil, NewValidationError(models.PlatformTiktok, "tiktok requires a video file")
	}

	videoBytes, err := fetchMedia(ctx, p.Client, video.URL)
	if err != nil {
		return nil, NewTransientError(models.PlatformTiktok, "failed to fetch video", err)
	}

	initResp, err := p.initUpload(ctx, req, int64(len(videoBytes)))
	if err != nil {
		return nil, err
	}

	if err := p.uploadBytes(ctx, req.AccessToken, initResp.Data.UploadURL, videoBytes); err != nil {
		return nil, err
	}

	shareID, err := p.awaitPublish(ctx, req.AccessToken, initResp.Data.PublishID)
	if err != nil {
		return nil, err
	}

	return &PublishResult{
		Platform:    models.PlatformTiktok,
		PostID:      shareID,
		URL:         fmt.Sprintf("https://www.tiktok.com/@%s", req.Connection.PlatformUsername),
		PublishedAt: time.Now(),
	}, nil
}

func (p *TiktokPublisher) initUpload(ctx context.Context, req *PublishRequest, videoSize int64) (*transfer.TiktokInitResponse, error) {
	chunkCount := int(videoSize / tiktokChunkSize)
	if videoSize%tiktokChunkSize != 0 || chunkCount == 0 {
		chunkCount++
	}
	chunkSize := videoSize
	if chunkCount > 1 {
		chunkSize = tiktokChunkSize
	}

	title := req.Caption
	if len(req.Hashtags) > 0 {
		title = appendHashtags(title, req.Hashtags)
	}

	initRequest := transfer.TiktokInitRequest{
		PostInfo: transfer.TiktokVideoPostInfo{
			Title:                 title,
			PrivacyLevel:          cast.ToString(settingOr(req.Settings, "privacy_level", "PUBLIC_TO_EVERYONE")),
			DisableDuet:           cast.ToBool(req.Settings["disable_duet"]),
			DisableComment:        cast.ToBool(req.Settings["disable_comment"]),
			DisableStitch:         cast.ToBool(req.Settings["disable_stitch"]),
			VideoCoverTimestampMs: cast.ToInt(settingOr(req.Settings, "cover_timestamp_ms", 1000)),
		},
		SourceInfo: transfer.TiktokVideoSourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       videoSize,
			ChunkSize:       chunkSize,
			TotalChunkCount: chunkCount,
		},
	}

	jsonData, err := json.Marshal(initRequest)
	if err != nil {
		return nil, NewValidationError(models.PlatformTiktok, "failed to marshal init request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL+"/v2/post/publish/video/init/", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewTransientError(models.PlatformTiktok, "failed to create init request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(models.PlatformTiktok, "upload init request failed", err)
	}
	defer resp.Body.Close()

	var result transfer.TiktokInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewTransientError(models.PlatformTiktok, "failed to decode init response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyHTTP(models.PlatformTiktok, resp.StatusCode,
			fmt.Sprintf("upload init rejected: %s", result.Error.Message))
	}

	if result.Data.UploadURL == "" || result.Data.PublishID == "" {
		return nil, NewTransientError(models.PlatformTiktok, "init response missing upload url or publish id", nil)
	}

	return &result, nil
}

func (p *TiktokPublisher) uploadBytes(ctx context.Context, accessToken, uploadURL string, videoBytes []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, "PUT", uploadURL, bytes.NewReader(videoBytes))
	if err != nil {
		return NewTransientError(models.PlatformTiktok, "failed to create upload request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "video/mp4")
	httpReq.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(videoBytes)-1, len(videoBytes)))

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return NewTransientError(models.PlatformTiktok, "video upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return ClassifyHTTP(models.PlatformTiktok, resp.StatusCode,
			fmt.Sprintf("video upload rejected: %s", string(body)))
	}

	return nil
}

// awaitPublish polls the status endpoint until the publish completes,
// fails, or the attempt budget runs out.
func (p *TiktokPublisher) awaitPublish(ctx context.Context, accessToken, publishID string) (string, error) {
	var shareID string

	err := PollUntil(ctx, p.pollInterval, tiktokPollMaxAttempts, func(ctx context.Context) (PollState, error) {
		status, err := p.fetchStatus(ctx, accessToken, publishID)
		if err != nil {
			return PollPending, err
		}

		switch status.Data.Status {
		case tiktokStatusComplete:
			shareID = publishID
			if len(status.Data.PublicalyAvailablePostID) > 0 {
				shareID = fmt.Sprintf("%d", status.Data.PublicalyAvailablePostID[0])
			}
			return PollComplete, nil
		case tiktokStatusFailed:
			return PollFailed, &PublishError{
				Platform: models.PlatformTiktok,
				Kind:     KindTransient,
				Message:  fmt.Sprintf("processing failed: %s", status.Data.FailReason),
			}
		default:
			return PollPending, nil
		}
	})

	if err == ErrPollBudgetExhausted {
		return "", NewTimeoutError(models.PlatformTiktok, "publish never reached a terminal state")
	}
	if err != nil {
		return "", AsPublishError(models.PlatformTiktok, err)
	}

	log.Printf("Tiktok publish complete: %s", publishID)
	return shareID, nil
}

func (p *TiktokPublisher) fetchStatus(ctx context.Context, accessToken, publishID string) (*transfer.TiktokStatusResponse, error) {
	payload, err := json.Marshal(transfer.TiktokStatusRequest{PublishID: publishID})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL+"/v2/post/publish/status/fetch/", bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(models.PlatformTiktok, "status fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyHTTP(models.PlatformTiktok, resp.StatusCode, "status fetch rejected")
	}

	var result transfer.TiktokStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewTransientError(models.PlatformTiktok, "failed to decode status response", err)
	}

	return &result, nil
}

func fetchMedia(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response status: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func appendHashtags(text string, hashtags []string) string {
	for _, tag := range hashtags {
		if tag == "" {
			continue
		}
		if tag[0] != '#' {
			tag = "#" + tag
		}
		text += " " + tag
	}
	return text
}

func settingOr(settings map[string]any, key string, fallback any) any {
	if settings == nil {
		return fallback
	}
	if v, ok := settings[key]; ok {
		return v
	}
	return fallback
}
