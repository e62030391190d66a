package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/models"
	"github.com/postpilothq/postpilot/internal/publisher"
	"github.com/postpilothq/postpilot/internal/repository"
)

// PublishService is the per-post orchestrator: it claims a due post,
// fans out one publish attempt per platform target, and decides the
// post's final status from the aggregated results.
type PublishService interface {
	PublishPost(ctx context.Context, postID int64) error
}

type publishService struct {
	cfg      config.Config
	pr       repository.ScheduledPostRepository
	tr       repository.PostTargetRepository
	pm       repository.PostMediaRepository
	ma       repository.MediaAssetRepository
	conns    ConnectionService
	registry *publisher.Registry
}

func NewPublishService(
	cfg config.Config,
	pr repository.ScheduledPostRepository,
	tr repository.PostTargetRepository,
	pm repository.PostMediaRepository,
	ma repository.MediaAssetRepository,
	conns ConnectionService,
	registry *publisher.Registry) PublishService {
	return &publishService{
		cfg:      cfg,
		pr:       pr,
		tr:       tr,
		pm:       pm,
		ma:       ma,
		conns:    conns,
		registry: registry,
	}
}

func (s *publishService) PublishPost(ctx context.Context, postID int64) error {
	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return fmt.Errorf("post %d not found", postID)
	}

	// Claim before any work; a post already claimed by another dispatch
	// path (overlapping tick, duplicate queue delivery) is skipped.
	claimed, err := s.pr.ClaimProcessing(ctx, post.ID)
	if err != nil {
		return err
	}
	if !claimed {
		slog.Info(fmt.Sprintf("post %d not in scheduled state, skipping", post.ID))
		return nil
	}

	targets, err := s.tr.ListByPostID(ctx, post.ID)
	if err != nil {
		s.release(ctx, post.ID)
		return err
	}
	if len(targets) == 0 {
		s.release(ctx, post.ID)
		return fmt.Errorf("post %d has no platform targets", post.ID)
	}

	media, err := s.resolveMedia(ctx, post.ID)
	if err != nil {
		s.release(ctx, post.ID)
		return err
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.cfg.Scheduler.TargetParallel)

	results := make([]*publisher.PublishError, len(targets))
	var successes int64
	var resultMu sync.Mutex

	for i, target := range targets {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int, target *models.PostTarget) {
			defer wg.Done()
			defer func() { <-semaphore }()

			pubErr := s.publishTarget(ctx, post, target, media)

			resultMu.Lock()
			if pubErr != nil {
				results[i] = pubErr
			} else {
				successes++
			}
			resultMu.Unlock()
		}(i, target)
	}

	// final status only moves after every target attempt has finished
	wg.Wait()

	if successes > 0 {
		if err := s.pr.MarkPublished(ctx, post.ID); err != nil {
			return err
		}
		if successes < int64(len(targets)) {
			log.Printf("post %d published with partial failures (%d/%d succeeded)",
				post.ID, successes, len(targets))
		}
		return nil
	}

	if err := s.pr.MarkFailed(ctx, post.ID); err != nil {
		return err
	}

	failures := make([]*publisher.PublishError, 0, len(results))
	for _, r := range results {
		if r != nil {
			failures = append(failures, r)
		}
	}
	return &publisher.AggregateError{Failures: failures}
}

// publishTarget runs one platform attempt end to end and records its
// outcome. Errors never escape; they come back classified so the caller
// can aggregate.
func (s *publishService) publishTarget(ctx context.Context, post *models.ScheduledPost, target *models.PostTarget, media []publisher.MediaFile) *publisher.PublishError {
	result, err := s.attempt(ctx, post, target, media)
	if err != nil {
		pubErr := publisher.AsPublishError(target.Platform, err)
		outcome := &models.PublishOutcome{
			Success:      false,
			ErrorMessage: pubErr.Error(),
			PublishedAt:  time.Now(),
		}
		if saveErr := s.tr.SetResult(ctx, target.ID, outcome); saveErr != nil {
			log.Printf("Error saving result for target %d: %v", target.ID, saveErr)
		}
		log.Printf("Error posting to %s for post %d: %v", target.Platform, post.ID, pubErr)
		return pubErr
	}

	outcome := &models.PublishOutcome{
		Success:        true,
		ExternalPostID: result.PostID,
		ExternalURL:    result.URL,
		PublishedAt:    result.PublishedAt,
	}
	if saveErr := s.tr.SetResult(ctx, target.ID, outcome); saveErr != nil {
		log.Printf("Error saving result for target %d: %v", target.ID, saveErr)
	}
	return nil
}

func (s *publishService) attempt(ctx context.Context, post *models.ScheduledPost, target *models.PostTarget, media []publisher.MediaFile) (*publisher.PublishResult, error) {
	adapter, ok := s.registry.Lookup(target.Platform)
	if !ok {
		return nil, publisher.NewConfigurationError(target.Platform, "no publisher registered")
	}

	conn, accessToken, err := s.conns.Resolve(ctx, post.UserID, target.Platform)
	if err != nil {
		return nil, err
	}

	req := &publisher.PublishRequest{
		Connection:  conn,
		AccessToken: accessToken,
		Title:       post.Title,
		Caption:     post.Caption,
		Hashtags:    post.Hashtags,
		Media:       media,
		Settings:    target.Settings,
	}

	// per-target overrides win over post-level defaults
	if target.TitleOverride != "" {
		req.Title = target.TitleOverride
	}
	if target.CaptionOverride != "" {
		req.Caption = target.CaptionOverride
	}
	if len(target.HashtagOverride) > 0 {
		req.Hashtags = target.HashtagOverride
	}

	result, err := adapter.Publish(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.conns.RecordPublish(ctx, conn.ID); err != nil {
		log.Printf("Error incrementing post count for connection %d: %v", conn.ID, err)
	}

	return result, nil
}

func (s *publishService) resolveMedia(ctx context.Context, postID int64) ([]publisher.MediaFile, error) {
	postMedias, err := s.pm.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	media := make([]publisher.MediaFile, 0, len(postMedias))
	for _, pm := range postMedias {
		asset, err := s.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, err
		}
		if asset == nil || asset.FileURL == "" {
			return nil, fmt.Errorf("media asset %d is missing or incomplete", pm.AssetID)
		}

		mediaType := "image"
		if strings.HasPrefix(asset.FileType, "video") {
			mediaType = "video"
		}

		media = append(media, publisher.MediaFile{
			URL:          asset.FileURL,
			Type:         mediaType,
			ThumbnailURL: asset.ThumbnailURL,
		})
	}

	return media, nil
}

// release puts a post that failed before any platform attempt back into
// the scheduled pool rather than burning an attempt on infrastructure
// errors.
func (s *publishService) release(ctx context.Context, postID int64) {
	if err := s.pr.SetStatus(ctx, models.PostStatusScheduled, postID); err != nil {
		slog.Info(err.Error())
	}
}

// IsAggregateFailure reports whether an orchestration error means every
// targeted platform failed.
func IsAggregateFailure(err error) bool {
	var agg *publisher.AggregateError
	return errors.As(err, &agg)
}
