package publisher

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/spf13/cast"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeTitleLimit       = 100
	youtubeDescriptionLimit = 5000
	youtubeTagLimit         = 500
)

// YoutubePublisher is the simplest protocol shape: one resumable insert
// call through the official API client, metadata and bytes together.
type YoutubePublisher struct {
	Client       *http.Client
	ExtraOptions []option.ClientOption
}

func NewYoutubePublisher() *YoutubePublisher {
	return &YoutubePublisher{Client: http.DefaultClient}
}

func (p *YoutubePublisher) Platform() models.Platform {
	return models.PlatformYoutube
}

func (p *YoutubePublisher) Publish(ctx context.Context, req *PublishRequest) (*PublishResult, error) {
	if err := validateRequest(models.PlatformYoutube, req); err != nil {
		return nil, err
	}

	videoFile := firstVideo(req.Media)
	if videoFile == nil {
		return nil, NewValidationError(models.PlatformYoutube, "youtube requires a video file")
	}

	token := &oauth2.Token{AccessToken: req.AccessToken}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, p.ExtraOptions...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		log.Printf("Error creating YouTube service: %v", err)
		return nil, NewTransientError(models.PlatformYoutube, "failed to create youtube client", err)
	}

	tempFile, err := downloadToTemp(ctx, p.Client, videoFile.URL)
	if err != nil {
		return nil, NewTransientError(models.PlatformYoutube, "failed to download video", err)
	}
	defer os.Remove(tempFile)

	file, err := os.Open(tempFile)
	if err != nil {
		return nil, NewTransientError(models.PlatformYoutube, "failed to open video file", err)
	}
	defer file.Close()

	tags := req.Hashtags
	if len(tags) > youtubeTagLimit {
		tags = tags[:youtubeTagLimit]
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       truncate(req.Title, youtubeTitleLimit),
			Description: truncate(req.Caption, youtubeDescriptionLimit),
			Tags:        tags,
			CategoryId:  cast.ToString(settingOr(req.Settings, "category_id", "22")),
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           cast.ToString(settingOr(req.Settings, "privacy_status", "public")),
			SelfDeclaredMadeForKids: cast.ToBool(req.Settings["made_for_kids"]),
		},
	}

	call := service.Videos.Insert([]string{"snippet", "status"}, video)
	response, err := call.Media(file).Do()
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok {
			return nil, ClassifyHTTP(models.PlatformYoutube, apiErr.Code, apiErr.Message)
		}
		return nil, NewTransientError(models.PlatformYoutube, "video upload failed", err)
	}

	log.Printf("Video uploaded successfully: https://youtu.be/%s", response.Id)

	return &PublishResult{
		Platform:    models.PlatformYoutube,
		PostID:      response.Id,
		URL:         fmt.Sprintf("https://youtu.be/%s", response.Id),
		PublishedAt: time.Now(),
	}, nil
}

// downloadToTemp stores the video at a temp path the caller must remove.
// On failure the file is removed here so aborted downloads leave nothing
// behind in the temp dir.
func downloadToTemp(ctx context.Context, client *http.Client, url string) (name string, err error) {
	tempFile, err := os.CreateTemp("", "video-*.mp4")
	if err != nil {
		return "", fmt.Errorf("error creating temporary file: %w", err)
	}
	defer func() {
		tempFile.Close()
		if err != nil {
			os.Remove(tempFile.Name())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}

	response, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error downloading video: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected response status: %d", response.StatusCode)
	}

	if _, err = io.Copy(tempFile, response.Body); err != nil {
		return "", fmt.Errorf("error saving video to temporary file: %w", err)
	}

	return tempFile.Name(), nil
}
