package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		Scheduler: config.Scheduler{
			TickInterval:   time.Minute,
			BatchSize:      50,
			StaleAfter:     15 * time.Minute,
			RefreshMargin:  5 * time.Minute,
			MaxAttempts:    5,
			TargetParallel: 4,
		},
	}
}

func testPost() *models.ScheduledPost {
	return &models.ScheduledPost{
		ID:          10,
		UserID:      7,
		Title:       "launch",
		Caption:     "we are live",
		Hashtags:    []string{"launch"},
		ScheduledAt: time.Now().Add(-time.Minute),
		Status:      models.PostStatusScheduled,
	}
}

func publishFixture(t *testing.T, targets []*models.PostTarget, pubs ...publisher.Publisher) (*mockPostRepo, *mockTargetRepo, *mockConnectionService, PublishService) {
	t.Helper()

	pr := new(mockPostRepo)
	tr := new(mockTargetRepo)
	pm := new(mockPostMediaRepo)
	ma := new(mockMediaAssetRepo)
	conns := new(mockConnectionService)

	pr.On("GetByID", mock.Anything, int64(10)).Return(testPost(), nil)
	pr.On("ClaimProcessing", mock.Anything, int64(10)).Return(true, nil)
	tr.On("ListByPostID", mock.Anything, int64(10)).Return(targets, nil)
	pm.On("ListByPostID", mock.Anything, int64(10)).Return([]*models.PostMedia{}, nil)

	svc := NewPublishService(testConfig(), pr, tr, pm, ma, conns, publisher.NewRegistry(pubs...))
	return pr, tr, conns, svc
}

func succeedingPublisher(platform models.Platform) publisher.Publisher {
	return &fakePublisher{
		platform: platform,
		publish: func(ctx context.Context, req *publisher.PublishRequest) (*publisher.PublishResult, error) {
			return &publisher.PublishResult{
				Platform:    platform,
				PostID:      "ext-1",
				URL:         "https://example.com/ext-1",
				PublishedAt: time.Now(),
			}, nil
		},
	}
}

func failingPublisher(platform models.Platform, err error) publisher.Publisher {
	return &fakePublisher{
		platform: platform,
		publish: func(ctx context.Context, req *publisher.PublishRequest) (*publisher.PublishResult, error) {
			return nil, err
		},
	}
}

func TestPublishPostAllTargetsSucceed(t *testing.T) {
	targets := []*models.PostTarget{
		{ID: 1, PostID: 10, Platform: models.PlatformYoutube},
		{ID: 2, PostID: 10, Platform: models.PlatformTwitter},
	}

	pr, tr, conns, svc := publishFixture(t, targets,
		succeedingPublisher(models.PlatformYoutube),
		succeedingPublisher(models.PlatformTwitter))

	conn := &models.PlatformConnection{ID: 31, Status: models.ConnectionStatusActive}
	conns.On("Resolve", mock.Anything, int64(7), mock.Anything).Return(conn, "token", nil)
	conns.On("RecordPublish", mock.Anything, int64(31)).Return(nil)

	tr.On("SetResult", mock.Anything, mock.Anything, mock.MatchedBy(func(o *models.PublishOutcome) bool {
		return o.Success && o.ExternalPostID == "ext-1"
	})).Return(nil)
	pr.On("MarkPublished", mock.Anything, int64(10)).Return(nil)

	err := svc.PublishPost(context.Background(), 10)
	require.NoError(t, err)

	pr.AssertCalled(t, "MarkPublished", mock.Anything, int64(10))
	pr.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything)
	tr.AssertNumberOfCalls(t, "SetResult", 2)
}

func TestPublishPostPartialFailureStillPublishes(t *testing.T) {
	targets := []*models.PostTarget{
		{ID: 1, PostID: 10, Platform: models.PlatformYoutube},
		{ID: 2, PostID: 10, Platform: models.PlatformInstagram},
	}

	pr, tr, conns, svc := publishFixture(t, targets,
		succeedingPublisher(models.PlatformYoutube),
		failingPublisher(models.PlatformInstagram,
			publisher.NewConfigurationError(models.PlatformInstagram, "token revoked")))

	conn := &models.PlatformConnection{ID: 31, Status: models.ConnectionStatusActive}
	conns.On("Resolve", mock.Anything, int64(7), mock.Anything).Return(conn, "token", nil)
	conns.On("RecordPublish", mock.Anything, int64(31)).Return(nil)

	tr.On("SetResult", mock.Anything, int64(1), mock.MatchedBy(func(o *models.PublishOutcome) bool {
		return o.Success
	})).Return(nil)
	tr.On("SetResult", mock.Anything, int64(2), mock.MatchedBy(func(o *models.PublishOutcome) bool {
		return !o.Success && o.ErrorMessage != ""
	})).Return(nil)
	pr.On("MarkPublished", mock.Anything, int64(10)).Return(nil)

	err := svc.PublishPost(context.Background(), 10)
	require.NoError(t, err, "one success is enough for published status")

	pr.AssertCalled(t, "MarkPublished", mock.Anything, int64(10))
	pr.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything)
}

func TestPublishPostAllTargetsFail(t *testing.T) {
	targets := []*models.PostTarget{
		{ID: 1, PostID: 10, Platform: models.PlatformYoutube},
		{ID: 2, PostID: 10, Platform: models.PlatformTiktok},
	}

	pr, tr, conns, svc := publishFixture(t, targets,
		failingPublisher(models.PlatformYoutube,
			publisher.NewTransientError(models.PlatformYoutube, "upload failed", nil)),
		failingPublisher(models.PlatformTiktok,
			publisher.NewTimeoutError(models.PlatformTiktok, "publish never reached a terminal state")))

	conn := &models.PlatformConnection{ID: 31, Status: models.ConnectionStatusActive}
	conns.On("Resolve", mock.Anything, int64(7), mock.Anything).Return(conn, "token", nil)

	tr.On("SetResult", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	pr.On("MarkFailed", mock.Anything, int64(10)).Return(nil)

	err := svc.PublishPost(context.Background(), 10)
	require.Error(t, err)

	var agg *publisher.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Failures, 2)

	pr.AssertCalled(t, "MarkFailed", mock.Anything, int64(10))
	pr.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
}

func TestPublishPostSkipsWhenClaimLost(t *testing.T) {
	pr := new(mockPostRepo)
	tr := new(mockTargetRepo)
	pm := new(mockPostMediaRepo)
	ma := new(mockMediaAssetRepo)
	conns := new(mockConnectionService)

	pr.On("GetByID", mock.Anything, int64(10)).Return(testPost(), nil)
	pr.On("ClaimProcessing", mock.Anything, int64(10)).Return(false, nil)

	svc := NewPublishService(testConfig(), pr, tr, pm, ma, conns, publisher.NewRegistry())

	err := svc.PublishPost(context.Background(), 10)
	require.NoError(t, err, "losing the claim race is not an error")

	tr.AssertNotCalled(t, "ListByPostID", mock.Anything, mock.Anything)
	pr.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
	pr.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything)
}

func TestPublishPostReleasesClaimWhenNoTargets(t *testing.T) {
	pr := new(mockPostRepo)
	tr := new(mockTargetRepo)
	pm := new(mockPostMediaRepo)
	ma := new(mockMediaAssetRepo)
	conns := new(mockConnectionService)

	pr.On("GetByID", mock.Anything, int64(10)).Return(testPost(), nil)
	pr.On("ClaimProcessing", mock.Anything, int64(10)).Return(true, nil)
	tr.On("ListByPostID", mock.Anything, int64(10)).Return([]*models.PostTarget{}, nil)
	pr.On("SetStatus", mock.Anything, models.PostStatusScheduled, int64(10)).Return(nil)

	svc := NewPublishService(testConfig(), pr, tr, pm, ma, conns, publisher.NewRegistry())

	err := svc.PublishPost(context.Background(), 10)
	require.Error(t, err)

	pr.AssertCalled(t, "SetStatus", mock.Anything, models.PostStatusScheduled, int64(10))
}

func TestPublishPostNoAdapterRegistered(t *testing.T) {
	targets := []*models.PostTarget{
		{ID: 1, PostID: 10, Platform: models.PlatformTwitter},
	}

	pr, tr, conns, svc := publishFixture(t, targets) // empty registry

	tr.On("SetResult", mock.Anything, int64(1), mock.MatchedBy(func(o *models.PublishOutcome) bool {
		return !o.Success
	})).Return(nil)
	pr.On("MarkFailed", mock.Anything, int64(10)).Return(nil)

	err := svc.PublishPost(context.Background(), 10)
	require.Error(t, err)

	var agg *publisher.AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Failures, 1)
	assert.Equal(t, publisher.KindConfiguration, agg.Failures[0].Kind)

	conns.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishPostAppliesTargetOverrides(t *testing.T) {
	var captured atomic.Pointer[publisher.PublishRequest]

	targets := []*models.PostTarget{
		{
			ID:              1,
			PostID:          10,
			Platform:        models.PlatformTwitter,
			CaptionOverride: "short version",
			HashtagOverride: []string{"x"},
		},
	}

	capturing := &fakePublisher{
		platform: models.PlatformTwitter,
		publish: func(ctx context.Context, req *publisher.PublishRequest) (*publisher.PublishResult, error) {
			captured.Store(req)
			return &publisher.PublishResult{Platform: models.PlatformTwitter, PostID: "1"}, nil
		},
	}

	pr, tr, conns, svc := publishFixture(t, targets, capturing)

	conn := &models.PlatformConnection{ID: 31, Status: models.ConnectionStatusActive}
	conns.On("Resolve", mock.Anything, int64(7), models.PlatformTwitter).Return(conn, "token", nil)
	conns.On("RecordPublish", mock.Anything, int64(31)).Return(nil)
	tr.On("SetResult", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	pr.On("MarkPublished", mock.Anything, int64(10)).Return(nil)

	require.NoError(t, svc.PublishPost(context.Background(), 10))

	req := captured.Load()
	require.NotNil(t, req)
	assert.Equal(t, "short version", req.Caption)
	assert.Equal(t, []string{"x"}, req.Hashtags)
	assert.Equal(t, "launch", req.Title, "title falls back to the post value")
	assert.Equal(t, "token", req.AccessToken)
}

func TestPublishPostConnectionResolveFailure(t *testing.T) {
	targets := []*models.PostTarget{
		{ID: 1, PostID: 10, Platform: models.PlatformTwitter},
	}

	pr, tr, conns, svc := publishFixture(t, targets, succeedingPublisher(models.PlatformTwitter))

	conns.On("Resolve", mock.Anything, int64(7), models.PlatformTwitter).
		Return(nil, "", errors.New("platform twitter is not connected"))

	tr.On("SetResult", mock.Anything, int64(1), mock.MatchedBy(func(o *models.PublishOutcome) bool {
		return !o.Success
	})).Return(nil)
	pr.On("MarkFailed", mock.Anything, int64(10)).Return(nil)

	err := svc.PublishPost(context.Background(), 10)
	require.Error(t, err)

	conns.AssertNotCalled(t, "RecordPublish", mock.Anything, mock.Anything)
}
