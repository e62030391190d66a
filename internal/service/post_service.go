package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/postpilothq/postpilot/internal/transfer"
)

type PostService interface {
	SchedulePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error)
	UpdateScheduledPost(ctx context.Context, userID, postID int64, update *transfer.PostUpdate) (*models.ScheduledPost, error)
	CancelScheduledPost(ctx context.Context, userID, postID int64) (*models.ScheduledPost, error)
	RetryPost(ctx context.Context, userID, postID int64, scheduledTime string) (*models.ScheduledPost, error)
	GetUpcomingPosts(ctx context.Context, userID int64, limit int) ([]*models.ScheduledPost, error)
	GetPostHistory(ctx context.Context, userID int64, status string) ([]*models.ScheduledPost, error)
	GetStats(ctx context.Context, userID int64) (*repository.PostStats, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.ScheduledPost, []*models.PostTarget, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	cfg     config.Config
	db      *sql.DB
	pr      repository.ScheduledPostRepository
	tr      repository.PostTargetRepository
	pc      repository.PlatformConnectionRepository
	ma      repository.MediaAssetRepository
	pm      repository.PostMediaRepository
	storage *StorageService
}

func NewPostService(
	cfg config.Config,
	db *sql.DB,
	pr repository.ScheduledPostRepository,
	tr repository.PostTargetRepository,
	pc repository.PlatformConnectionRepository,
	ma repository.MediaAssetRepository,
	pm repository.PostMediaRepository,
	storage *StorageService) PostService {
	return &postService{
		cfg:     cfg,
		db:      db,
		pr:      pr,
		tr:      tr,
		pc:      pc,
		ma:      ma,
		pm:      pm,
		storage: storage,
	}
}

func (s *postService) SchedulePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (int64, time.Duration, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return 0, 0, err
	}
	if pc.Caption == "" {
		err := errors.New("caption cannot be empty")
		slog.Info(err.Error())
		return 0, 0, err
	}

	scheduledAt, err := time.Parse("2006-01-02T15:04", pc.ScheduledTime)
	if err != nil {
		err = fmt.Errorf("invalid scheduled time format: %w", err)
		slog.Error(err.Error())
		return 0, 0, err
	}

	var targets []transfer.TargetSpec
	if err := json.Unmarshal([]byte(pc.Targets), &targets); err != nil {
		err = fmt.Errorf("invalid targets format: %w", err)
		slog.Error(err.Error())
		return 0, 0, err
	}
	if len(targets) == 0 {
		err := errors.New("no platforms selected")
		slog.Error(err.Error())
		return 0, 0, err
	}

	seen := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if !models.IsValidPlatform(target.Platform) {
			return 0, 0, fmt.Errorf("unknown platform %q", target.Platform)
		}
		if _, dup := seen[target.Platform]; dup {
			return 0, 0, fmt.Errorf("platform %q listed twice", target.Platform)
		}
		seen[target.Platform] = struct{}{}

		conn, err := s.pc.GetByUserAndPlatform(ctx, userID, models.Platform(target.Platform))
		if err != nil {
			return 0, 0, err
		}
		if conn == nil {
			return 0, 0, fmt.Errorf("platform %q is not connected", target.Platform)
		}
		if conn.Status != models.ConnectionStatusActive {
			return 0, 0, fmt.Errorf("connection for %q is %s, reconnect the platform", target.Platform, conn.Status)
		}
	}

	var hashtags []string
	if pc.Hashtags != "" {
		if err := json.Unmarshal([]byte(pc.Hashtags), &hashtags); err != nil {
			err = fmt.Errorf("invalid hashtags format: %w", err)
			slog.Error(err.Error())
			return 0, 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.ScheduledPost{
		UserID:      userID,
		Title:       pc.Title,
		Caption:     pc.Caption,
		Hashtags:    hashtags,
		ScheduledAt: scheduledAt,
		Status:      models.PostStatusScheduled,
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return 0, 0, fmt.Errorf("error creating post: %w", err)
	}

	for _, spec := range targets {
		target := models.PostTarget{
			PostID:          postID,
			Platform:        models.Platform(spec.Platform),
			TitleOverride:   spec.TitleOverride,
			CaptionOverride: spec.CaptionOverride,
			HashtagOverride: spec.HashtagOverride,
			Settings:        spec.Settings,
		}
		if _, err = s.tr.Create(ctx, tx, &target); err != nil {
			return 0, 0, fmt.Errorf("error saving target %s: %w", spec.Platform, err)
		}
	}

	if err = s.processFiles(ctx, tx, userID, postID, files); err != nil {
		return 0, 0, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	delay := time.Until(scheduledAt)
	if delay < 0 {
		delay = 0
	}

	return postID, delay, nil
}

func (s *postService) processFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, files []*multipart.FileHeader) error {
	allowedTypes := map[string]struct{}{
		"mp4": {}, "mov": {}, "jpeg": {}, "png": {}, "jpg": {},
	}

	for i, file := range files {
		fileContent, err := file.Open()
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer fileContent.Close()

		fileBytes, err := io.ReadAll(fileContent)
		if err != nil {
			return fmt.Errorf("error reading file content: %w", err)
		}

		fileType, err := filetype.Match(fileBytes)
		if err != nil || fileType == types.Unknown {
			return fmt.Errorf("unsupported file type: %w", err)
		}
		if _, ok := allowedTypes[fileType.Extension]; !ok {
			return fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}

		assetID, err := s.saveFile(ctx, tx, userID, fileType.MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, fileType string, file []byte) (int64, error) {
	id, err := gonanoid.New()
	if err != nil {
		log.Println(err.Error())
		return 0, err
	}
	err = s.storage.Upload(ctx, id, file, fileType)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  s.storage.PublicURL(id),
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return 0, err
	}

	return assetID, nil
}

func (s *postService) getOwnedPost(ctx context.Context, userID, postID int64) (*models.ScheduledPost, error) {
	if userID == 0 {
		err := errors.New("user is not valid")
		slog.Info(err.Error())
		return nil, err
	}
	if postID == 0 {
		err := errors.New("post id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isOwner, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		err = errors.New("post doesn't exist")
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil || post == nil {
		return nil, errors.New("error getting post info")
	}
	return post, nil
}

func (s *postService) UpdateScheduledPost(ctx context.Context, userID, postID int64, update *transfer.PostUpdate) (*models.ScheduledPost, error) {
	post, err := s.getOwnedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	if post.Status != models.PostStatusScheduled {
		return nil, fmt.Errorf("post is %s and can no longer be edited", post.Status)
	}

	if update.Title != "" {
		post.Title = update.Title
	}
	if update.Caption != "" {
		post.Caption = update.Caption
	}
	if update.Hashtags != nil {
		post.Hashtags = update.Hashtags
	}
	if update.ScheduledTime != "" {
		scheduledAt, err := time.Parse("2006-01-02T15:04", update.ScheduledTime)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduled time format: %w", err)
		}
		post.ScheduledAt = scheduledAt
	}

	updated, err := s.pr.UpdateContent(ctx, post)
	if err != nil {
		return nil, err
	}
	if !updated {
		err = errors.New("post left the scheduled state and can no longer be edited")
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (s *postService) CancelScheduledPost(ctx context.Context, userID, postID int64) (*models.ScheduledPost, error) {
	post, err := s.getOwnedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	if post.Status != models.PostStatusScheduled {
		return nil, fmt.Errorf("only scheduled posts can be cancelled, post is %s", post.Status)
	}

	cancelled, err := s.pr.CancelScheduled(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		err = errors.New("post left the scheduled state and can no longer be cancelled")
		slog.Info(err.Error())
		return nil, err
	}
	post.Status = models.PostStatusCancelled
	return post, nil
}

// RetryPost puts a failed post back on the dispatch path. Prior
// per-platform results are cleared so the next attempt starts fresh
// against the full original target set.
func (s *postService) RetryPost(ctx context.Context, userID, postID int64, scheduledTime string) (*models.ScheduledPost, error) {
	post, err := s.getOwnedPost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}

	if post.Status != models.PostStatusFailed {
		return nil, fmt.Errorf("only failed posts can be retried, post is %s", post.Status)
	}
	if post.Attempts >= s.cfg.Scheduler.MaxAttempts {
		return nil, fmt.Errorf("post reached the maximum of %d attempts", s.cfg.Scheduler.MaxAttempts)
	}

	scheduledAt := time.Now()
	if scheduledTime != "" {
		scheduledAt, err = time.Parse("2006-01-02T15:04", scheduledTime)
		if err != nil {
			return nil, fmt.Errorf("invalid scheduled time format: %w", err)
		}
	}

	if err := s.tr.ClearResults(ctx, post.ID); err != nil {
		return nil, err
	}
	if err := s.pr.ResetForRetry(ctx, post.ID, scheduledAt); err != nil {
		return nil, err
	}

	post.Status = models.PostStatusScheduled
	post.ScheduledAt = scheduledAt
	return post, nil
}

func (s *postService) GetUpcomingPosts(ctx context.Context, userID int64, limit int) ([]*models.ScheduledPost, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.pr.ListUpcoming(ctx, userID, limit)
}

func (s *postService) GetPostHistory(ctx context.Context, userID int64, status string) ([]*models.ScheduledPost, error) {
	return s.pr.ListHistory(ctx, userID, status)
}

func (s *postService) GetStats(ctx context.Context, userID int64) (*repository.PostStats, error) {
	return s.pr.Stats(ctx, userID)
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.ScheduledPost, []*models.PostTarget, error) {
	post, err := s.getOwnedPost(ctx, userID, postID)
	if err != nil {
		return nil, nil, err
	}

	targets, err := s.tr.ListByPostID(ctx, post.ID)
	if err != nil {
		return nil, nil, err
	}

	return post, targets, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	post, err := s.getOwnedPost(ctx, userID, postID)
	if err != nil {
		return err
	}

	if post.Status == models.PostStatusProcessing {
		return errors.New("post is being published and cannot be removed")
	}

	if err := s.tr.RemoveByPostID(ctx, postID); err != nil {
		return err
	}
	if err := s.pm.RemoveByPostID(ctx, postID); err != nil {
		return err
	}
	if err := s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}

	return nil
}
