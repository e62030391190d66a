package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twitterTestRequest(media ...MediaFile) *PublishRequest {
	return &PublishRequest{
		Connection: &models.PlatformConnection{
			ID:               3,
			Platform:         models.PlatformTwitter,
			PlatformUsername: "creator",
		},
		AccessToken: "tw-token",
		Caption:     "hello world",
		Hashtags:    []string{"golang"},
		Media:       media,
	}
}

func TestTwitterPublishTextOnly(t *testing.T) {
	var tweetBody map[string]any

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tw-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tweetBody))

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "1234567890", "text": "hello world #golang"},
		})
	})

	p := &TwitterPublisher{APIBaseURL: srv.URL, UploadBaseURL: srv.URL, Client: srv.Client()}

	result, err := p.Publish(context.Background(), twitterTestRequest())
	require.NoError(t, err)

	assert.Equal(t, "1234567890", result.PostID)
	assert.Equal(t, "https://x.com/creator/status/1234567890", result.URL)
	assert.Equal(t, "hello world #golang", tweetBody["text"])
	assert.Nil(t, tweetBody["media"])
}

func TestTwitterPublishWithImage(t *testing.T) {
	var tweetBody map[string]any
	var uploadCalls int

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/media/pic.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg bytes"))
	})
	mux.HandleFunc("/1.1/media/upload.json", func(w http.ResponseWriter, r *http.Request) {
		uploadCalls++
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.FormValue("media_data"))
		json.NewEncoder(w).Encode(map[string]any{
			"media_id":        711,
			"media_id_string": "711",
		})
	})
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tweetBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "42"},
		})
	})

	p := &TwitterPublisher{APIBaseURL: srv.URL, UploadBaseURL: srv.URL, Client: srv.Client()}

	result, err := p.Publish(context.Background(), twitterTestRequest(MediaFile{URL: srv.URL + "/media/pic.jpg", Type: "image"}))
	require.NoError(t, err)

	assert.Equal(t, "42", result.PostID)
	assert.Equal(t, 1, uploadCalls)

	media := tweetBody["media"].(map[string]any)
	assert.Equal(t, []any{"711"}, media["media_ids"])
}

func TestTwitterPublishVideoChunked(t *testing.T) {
	var commands []string

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/media/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("v", 64)))
	})
	mux.HandleFunc("/1.1/media/upload.json", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			require.NoError(t, r.ParseMultipartForm(1<<20))
		} else {
			require.NoError(t, r.ParseForm())
		}
		commands = append(commands, r.FormValue("command"))
		json.NewEncoder(w).Encode(map[string]any{
			"media_id":        900,
			"media_id_string": "900",
		})
	})
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "43"},
		})
	})

	p := &TwitterPublisher{APIBaseURL: srv.URL, UploadBaseURL: srv.URL, Client: srv.Client()}

	result, err := p.Publish(context.Background(), twitterTestRequest(MediaFile{URL: srv.URL + "/media/clip.mp4", Type: "video"}))
	require.NoError(t, err)

	assert.Equal(t, "43", result.PostID)
	assert.Equal(t, []string{"INIT", "APPEND", "FINALIZE"}, commands)
}

func TestTwitterPublishTruncatesLongText(t *testing.T) {
	var tweetBody map[string]any

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tweetBody))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "44"},
		})
	})

	p := &TwitterPublisher{APIBaseURL: srv.URL, UploadBaseURL: srv.URL, Client: srv.Client()}

	req := twitterTestRequest()
	req.Caption = strings.Repeat("a", 400)
	req.Hashtags = nil

	_, err := p.Publish(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, tweetBody["text"], 280)
}

func TestTwitterPublishRateLimitIsTransient(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"message": "Rate limit exceeded"}},
		})
	})

	p := &TwitterPublisher{APIBaseURL: srv.URL, UploadBaseURL: srv.URL, Client: srv.Client()}

	_, err := p.Publish(context.Background(), twitterTestRequest())
	require.Error(t, err)

	pubErr := AsPublishError(models.PlatformTwitter, err)
	assert.Equal(t, KindTransient, pubErr.Kind)
	assert.Contains(t, pubErr.Message, "Rate limit exceeded")
}
