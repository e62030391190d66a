package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instagramTestRequest(media ...MediaFile) *PublishRequest {
	return &PublishRequest{
		Connection: &models.PlatformConnection{
			ID:               2,
			Platform:         models.PlatformInstagram,
			PlatformUserID:   "17890",
			PlatformUsername: "creator",
		},
		AccessToken: "ig-token",
		Caption:     "sunset",
		Hashtags:    []string{"photography"},
		Media:       media,
	}
}

func TestInstagramPublishSingleImage(t *testing.T) {
	var containerPayload map[string]any
	var publishPayload map[string]any

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/17890/media", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&containerPayload))
		json.NewEncoder(w).Encode(map[string]string{"id": "container-1"})
	})
	mux.HandleFunc("/17890/media_publish", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&publishPayload))
		json.NewEncoder(w).Encode(map[string]string{"id": "media-99"})
	})

	p := &InstagramPublisher{BaseURL: srv.URL, Client: srv.Client()}

	result, err := p.Publish(context.Background(), instagramTestRequest(MediaFile{URL: "http://cdn/img.jpg", Type: "image"}))
	require.NoError(t, err)

	assert.Equal(t, "media-99", result.PostID)
	assert.Equal(t, "http://cdn/img.jpg", containerPayload["image_url"])
	assert.Contains(t, containerPayload["caption"], "#photography")
	assert.Equal(t, "container-1", publishPayload["creation_id"])
}

func TestInstagramPublishVideoUsesReels(t *testing.T) {
	var containerPayload map[string]any

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/17890/media", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&containerPayload))
		json.NewEncoder(w).Encode(map[string]string{"id": "container-2"})
	})
	mux.HandleFunc("/17890/media_publish", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "media-100"})
	})

	p := &InstagramPublisher{BaseURL: srv.URL, Client: srv.Client()}

	_, err := p.Publish(context.Background(), instagramTestRequest(MediaFile{URL: "http://cdn/clip.mp4", Type: "video"}))
	require.NoError(t, err)

	assert.Equal(t, "REELS", containerPayload["media_type"])
	assert.Equal(t, "http://cdn/clip.mp4", containerPayload["video_url"])
}

func TestInstagramPublishCarousel(t *testing.T) {
	var containerCalls int
	var parentPayload map[string]any

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/17890/media", func(w http.ResponseWriter, r *http.Request) {
		containerCalls++
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		if payload["media_type"] == "CAROUSEL" {
			parentPayload = payload
		}
		json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("c-%d", containerCalls)})
	})
	mux.HandleFunc("/17890/media_publish", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "media-101"})
	})

	p := &InstagramPublisher{BaseURL: srv.URL, Client: srv.Client()}

	result, err := p.Publish(context.Background(), instagramTestRequest(
		MediaFile{URL: "http://cdn/a.jpg", Type: "image"},
		MediaFile{URL: "http://cdn/b.jpg", Type: "image"},
	))
	require.NoError(t, err)

	assert.Equal(t, "media-101", result.PostID)
	assert.Equal(t, 3, containerCalls, "two children plus one carousel parent")
	require.NotNil(t, parentPayload)
	assert.Len(t, parentPayload["children"], 2)
}

func TestInstagramPublishExpiredTokenIsConfiguration(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/17890/media", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Error validating access token", "code": 190},
		})
	})

	p := &InstagramPublisher{BaseURL: srv.URL, Client: srv.Client()}

	_, err := p.Publish(context.Background(), instagramTestRequest(MediaFile{URL: "http://cdn/img.jpg", Type: "image"}))
	require.Error(t, err)

	pubErr := AsPublishError(models.PlatformInstagram, err)
	assert.Equal(t, KindConfiguration, pubErr.Kind)
	assert.Contains(t, pubErr.Message, "Error validating access token")
}

func TestInstagramPublishRequiresMedia(t *testing.T) {
	p := NewInstagramPublisher()

	_, err := p.Publish(context.Background(), instagramTestRequest())
	require.Error(t, err)

	pubErr := AsPublishError(models.PlatformInstagram, err)
	assert.Equal(t, KindValidation, pubErr.Kind)
}
