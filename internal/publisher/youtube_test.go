package publisher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYoutubePublishRequiresVideo(t *testing.T) {
	p := NewYoutubePublisher()

	req := &PublishRequest{
		Connection:  &models.PlatformConnection{ID: 4, Platform: models.PlatformYoutube},
		AccessToken: "yt-token",
		Title:       "my upload",
		Media:       []MediaFile{{URL: "http://cdn/img.jpg", Type: "image"}},
	}

	_, err := p.Publish(context.Background(), req)
	require.Error(t, err)

	pubErr := AsPublishError(models.PlatformYoutube, err)
	assert.Equal(t, KindValidation, pubErr.Kind)
}

func TestYoutubePublishRequiresConnection(t *testing.T) {
	p := NewYoutubePublisher()

	_, err := p.Publish(context.Background(), &PublishRequest{AccessToken: "yt-token"})
	require.Error(t, err)

	pubErr := AsPublishError(models.PlatformYoutube, err)
	assert.Equal(t, KindConfiguration, pubErr.Kind)
}

func tempVideoCount(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "video-*.mp4"))
	require.NoError(t, err)
	return len(matches)
}

func TestDownloadToTempCleansUpOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	before := tempVideoCount(t)

	_, err := downloadToTemp(context.Background(), srv.Client(), srv.URL+"/video.mp4")
	require.Error(t, err)

	assert.Equal(t, before, tempVideoCount(t), "failed download must not leave a temp file")
}

func TestDownloadToTempKeepsFileOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video bytes"))
	}))
	defer srv.Close()

	name, err := downloadToTemp(context.Background(), srv.Client(), srv.URL+"/video.mp4")
	require.NoError(t, err)
	defer os.Remove(name)

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "video bytes", string(data))
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(
		NewYoutubePublisher(),
		NewInstagramPublisher(),
		NewTiktokPublisher(),
		NewTwitterPublisher(),
	)

	for _, platform := range models.ValidPlatforms() {
		p, ok := registry.Lookup(platform)
		require.True(t, ok, "missing adapter for %s", platform)
		assert.Equal(t, platform, p.Platform())
	}

	_, ok := registry.Lookup(models.Platform("myspace"))
	assert.False(t, ok)
}
