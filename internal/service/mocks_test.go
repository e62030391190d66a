package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/publisher"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/stretchr/testify/mock"
)

type mockPostRepo struct {
	mock.Mock
}

func (m *mockPostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) (int64, error) {
	args := m.Called(ctx, tx, post)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPostRepo) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScheduledPost), args.Error(1)
}

func (m *mockPostRepo) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	args := m.Called(ctx, postID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPostRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ScheduledPost), args.Error(1)
}

func (m *mockPostRepo) ListUpcoming(ctx context.Context, userID int64, limit int) ([]*models.ScheduledPost, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ScheduledPost), args.Error(1)
}

func (m *mockPostRepo) ListHistory(ctx context.Context, userID int64, status string) ([]*models.ScheduledPost, error) {
	args := m.Called(ctx, userID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ScheduledPost), args.Error(1)
}

func (m *mockPostRepo) Stats(ctx context.Context, userID int64) (*repository.PostStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PostStats), args.Error(1)
}

func (m *mockPostRepo) ClaimProcessing(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockPostRepo) MarkPublished(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPostRepo) MarkFailed(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPostRepo) UpdateContent(ctx context.Context, post *models.ScheduledPost) (bool, error) {
	args := m.Called(ctx, post)
	return args.Bool(0), args.Error(1)
}

func (m *mockPostRepo) CancelScheduled(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockPostRepo) SetStatus(ctx context.Context, status string, id int64) error {
	return m.Called(ctx, status, id).Error(0)
}

func (m *mockPostRepo) ResetForRetry(ctx context.Context, id int64, scheduledAt time.Time) error {
	return m.Called(ctx, id, scheduledAt).Error(0)
}

func (m *mockPostRepo) ResetStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPostRepo) Remove(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockTargetRepo struct {
	mock.Mock
}

func (m *mockTargetRepo) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error) {
	args := m.Called(ctx, tx, target)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTargetRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	args := m.Called(ctx, postID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PostTarget), args.Error(1)
}

func (m *mockTargetRepo) SetResult(ctx context.Context, targetID int64, outcome *models.PublishOutcome) error {
	return m.Called(ctx, targetID, outcome).Error(0)
}

func (m *mockTargetRepo) ClearResults(ctx context.Context, postID int64) error {
	return m.Called(ctx, postID).Error(0)
}

func (m *mockTargetRepo) RemoveByPostID(ctx context.Context, postID int64) error {
	return m.Called(ctx, postID).Error(0)
}

type mockPostMediaRepo struct {
	mock.Mock
}

func (m *mockPostMediaRepo) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	return m.Called(ctx, tx, pm).Error(0)
}

func (m *mockPostMediaRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	args := m.Called(ctx, postID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PostMedia), args.Error(1)
}

func (m *mockPostMediaRepo) RemoveByPostID(ctx context.Context, postID int64) error {
	return m.Called(ctx, postID).Error(0)
}

type mockMediaAssetRepo struct {
	mock.Mock
}

func (m *mockMediaAssetRepo) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	args := m.Called(ctx, tx, ma)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMediaAssetRepo) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MediaAsset), args.Error(1)
}

func (m *mockMediaAssetRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.MediaAsset, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.MediaAsset), args.Error(1)
}

func (m *mockMediaAssetRepo) Remove(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockConnectionRepo struct {
	mock.Mock
}

func (m *mockConnectionRepo) Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error) {
	args := m.Called(ctx, tx, conn)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockConnectionRepo) GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlatformConnection), args.Error(1)
}

func (m *mockConnectionRepo) GetByUserAndPlatform(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, error) {
	args := m.Called(ctx, userID, platform)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlatformConnection), args.Error(1)
}

func (m *mockConnectionRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PlatformConnection), args.Error(1)
}

func (m *mockConnectionRepo) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.PlatformConnection, error) {
	args := m.Called(ctx, initialTime, finalTime)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PlatformConnection), args.Error(1)
}

func (m *mockConnectionRepo) CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error) {
	args := m.Called(ctx, connectionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockConnectionRepo) SetToken(ctx context.Context, id int64, conn *models.PlatformConnection) error {
	return m.Called(ctx, id, conn).Error(0)
}

func (m *mockConnectionRepo) SetStatus(ctx context.Context, id int64, status string) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockConnectionRepo) IncrementPostCount(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockConnectionRepo) Remove(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type mockConnectionService struct {
	mock.Mock
}

func (m *mockConnectionService) Resolve(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, string, error) {
	args := m.Called(ctx, userID, platform)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*models.PlatformConnection), args.String(1), args.Error(2)
}

func (m *mockConnectionService) Refresh(ctx context.Context, conn *models.PlatformConnection) error {
	return m.Called(ctx, conn).Error(0)
}

func (m *mockConnectionService) RecordPublish(ctx context.Context, connectionID int64) error {
	return m.Called(ctx, connectionID).Error(0)
}

// fakePublisher lets a test script one platform's behavior.
type fakePublisher struct {
	platform models.Platform
	publish  func(ctx context.Context, req *publisher.PublishRequest) (*publisher.PublishResult, error)
}

func (f *fakePublisher) Platform() models.Platform {
	return f.platform
}

func (f *fakePublisher) Publish(ctx context.Context, req *publisher.PublishRequest) (*publisher.PublishResult, error) {
	return f.publish(ctx, req)
}
