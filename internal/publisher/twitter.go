package publisher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/transfer"
)

const (
	tweetTextLimit        = 280
	tweetMaxMedia         = 4
	twitterVideoChunkSize = 5 * 1024 * 1024
	defaultTwitterAPIURL  = "https://api.twitter.com"
	defaultTwitterUpload  = "https://upload.twitter.com"
)

// TwitterPublisher uploads media first (images single-shot, video via
// INIT, APPEND in 5MB chunks, FINALIZE) and then creates the tweet
// referencing the returned media ids.
type TwitterPublisher struct {
	APIBaseURL    string
	UploadBaseURL string
	Client        *http.Client
}

func NewTwitterPublisher() *TwitterPublisher {
	return &TwitterPublisher{
		APIBaseURL:    defaultTwitterAPIURL,
		UploadBaseURL: defaultTwitterUpload,
		Client:        http.DefaultClient,
	}
}

func (p *TwitterPublisher) Platform() models.Platform {
	return models.PlatformTwitter
}

func (p *TwitterPublisher) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	if err := validateRequest(models.PlatformTwitter, req); err != nil {
		return nil, err
	}

	media := req.Media
	if len(media) > tweetMaxMedia {
		media = media[:tweetMaxMedia]
	}

	mediaIDs := make([]string, 0, len(media))
	for _, m := range media {
		mediaID, err := p.uploadMedia(ctx, req.AccessToken, m)
		if err != nil {
			return nil, err
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	text := truncate(appendHashtags(req.Caption, req.Hashtags), tweetTextLimit)

	tweet := transfer.TweetRequest{Text: text}
	if len(mediaIDs) > 0 {
		tweet.Media = &transfer.TweetMedia{MediaIDs: mediaIDs}
	}

	body, err := json.Marshal(tweet)
	if err != nil {
		return nil, NewValidationError(models.PlatformTwitter, "failed to marshal tweet")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.APIBaseURL+"/2/tweets", bytes.NewBuffer(body))
	if err != nil {
		return nil, NewTransientError(models.PlatformTwitter, "failed to create request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(models.PlatformTwitter, "tweet request failed", err)
	}
	defer resp.Body.Close()

	var result transfer.TweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewTransientError(models.PlatformTwitter, "failed to decode tweet response", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		message := fmt.Sprintf("tweet rejected with status %d", resp.StatusCode)
		if len(result.Errors) > 0 {
			message = result.Errors[0].Message
		}
		return nil, ClassifyHTTP(models.PlatformTwitter, resp.StatusCode, message)
	}

	if result.Data.ID == "" {
		return nil, NewTransientError(models.PlatformTwitter, "no tweet id returned", nil)
	}

	log.Printf("Tweet created: %s", result.Data.ID)

	return &PublishResult{
		Platform:    models.PlatformTwitter,
		PostID:      result.Data.ID,
		URL:         fmt.Sprintf("https://x.com/%s/status/%s", req.Connection.PlatformUsername, result.Data.ID),
		PublishedAt: time.Now(),
	}, nil
}

func (p *TwitterPublisher) uploadMedia(ctx context.Context, accessToken string, media MediaFile) (string, error) {
	mediaBytes, err := fetchMedia(ctx, p.Client, media.URL)
	if err != nil {
		return "", NewTransientError(models.PlatformTwitter, "failed to fetch media", err)
	}

	if media.Type == "video" {
		return p.uploadVideo(ctx, accessToken, mediaBytes)
	}
	return p.uploadImage(ctx, accessToken, mediaBytes)
}

func (p *TwitterPublisher) uploadImage(ctx context.Context, accessToken string, imageBytes []byte) (string, error) {
	data := url.Values{}
	data.Set("media_data", base64.StdEncoding.EncodeToString(imageBytes))

	result, err := p.uploadForm(ctx, accessToken, data)
	if err != nil {
		return "", err
	}
	return result.MediaIDString, nil
}

func (p *TwitterPublisher) uploadVideo(ctx context.Context, accessToken string, videoBytes []byte) (string, error) {
	init := url.Values{}
	init.Set("command", "INIT")
	init.Set("media_type", "video/mp4")
	init.Set("media_category", "tweet_video")
	init.Set("total_bytes", strconv.Itoa(len(videoBytes)))

	initResult, err := p.uploadForm(ctx, accessToken, init)
	if err != nil {
		return "", err
	}
	mediaID := initResult.MediaIDString

	for segment, offset := 0, 0; offset < len(videoBytes); segment, offset = segment+1, offset+twitterVideoChunkSize {
		end := offset + twitterVideoChunkSize
		if end > len(videoBytes) {
			end = len(videoBytes)
		}
		if err := p.appendChunk(ctx, accessToken, mediaID, segment, videoBytes[offset:end]); err != nil {
			return "", err
		}
	}

	finalize := url.Values{}
	finalize.Set("command", "FINALIZE")
	finalize.Set("media_id", mediaID)

	if _, err := p.uploadForm(ctx, accessToken, finalize); err != nil {
		return "", err
	}

	return mediaID, nil
}

func (p *TwitterPublisher) appendChunk(ctx context.Context, accessToken, mediaID string, segment int, chunk []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	writer.WriteField("command", "APPEND")
	writer.WriteField("media_id", mediaID)
	writer.WriteField("segment_index", strconv.Itoa(segment))

	part, err := writer.CreateFormField("media")
	if err != nil {
		return NewTransientError(models.PlatformTwitter, "failed to build append request", err)
	}
	if _, err := part.Write(chunk); err != nil {
		return NewTransientError(models.PlatformTwitter, "failed to build append request", err)
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.UploadBaseURL+"/1.1/media/upload.json", &buf)
	if err != nil {
		return NewTransientError(models.PlatformTwitter, "failed to create append request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return NewTransientError(models.PlatformTwitter, "media append failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return ClassifyHTTP(models.PlatformTwitter, resp.StatusCode,
			fmt.Sprintf("media append rejected: %s", string(body)))
	}

	return nil
}

func (p *TwitterPublisher) uploadForm(ctx context.Context, accessToken string, data url.Values) (*transfer.TwitterMediaUploadResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.UploadBaseURL+"/1.1/media/upload.json",
		strings.NewReader(data.Encode()))
	if err != nil {
		return nil, NewTransientError(models.PlatformTwitter, "failed to create upload request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(models.PlatformTwitter, "media upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, ClassifyHTTP(models.PlatformTwitter, resp.StatusCode,
			fmt.Sprintf("media upload rejected: %s", string(body)))
	}

	var result transfer.TwitterMediaUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// FINALIZE for images can return an empty body
		if err == io.EOF {
			return &result, nil
		}
		return nil, NewTransientError(models.PlatformTwitter, "failed to decode upload response", err)
	}

	return &result, nil
}
