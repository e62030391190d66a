package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/lib/pq"
	"github.com/postpilothq/postpilot/internal/models"
)

type PostTargetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error)
	SetResult(ctx context.Context, targetID int64, outcome *models.PublishOutcome) error
	ClearResults(ctx context.Context, postID int64) error
	RemoveByPostID(ctx context.Context, postID int64) error
}

type postTargetRepository struct {
	db *sql.DB
}

func NewPostTargetRepository(db *sql.DB) PostTargetRepository {
	return &postTargetRepository{db: db}
}

func (r *postTargetRepository) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error) {
	settings, err := json.Marshal(target.Settings)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	query := `
		INSERT INTO post_targets (post_id, platform, title_override, caption_override, hashtag_override, settings)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, target.PostID, target.Platform, target.TitleOverride,
			target.CaptionOverride, pq.Array(target.HashtagOverride), settings).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, target.PostID, target.Platform, target.TitleOverride,
			target.CaptionOverride, pq.Array(target.HashtagOverride), settings).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	query := `
		SELECT id, post_id, platform, title_override, caption_override, hashtag_override, settings,
			success, external_post_id, external_url, error_message, published_at
		FROM post_targets
		WHERE post_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PostTarget
	for rows.Next() {
		var t models.PostTarget
		var settings []byte
		var success sql.NullBool
		var externalPostID, externalURL, errorMessage sql.NullString
		var publishedAt sql.NullTime

		err := rows.Scan(&t.ID, &t.PostID, &t.Platform, &t.TitleOverride, &t.CaptionOverride,
			pq.Array(&t.HashtagOverride), &settings, &success, &externalPostID, &externalURL,
			&errorMessage, &publishedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}

		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &t.Settings); err != nil {
				slog.Info(err.Error())
				return nil, err
			}
		}

		if success.Valid {
			t.Result = &models.PublishOutcome{
				Success:        success.Bool,
				ExternalPostID: externalPostID.String,
				ExternalURL:    externalURL.String,
				ErrorMessage:   errorMessage.String,
				PublishedAt:    publishedAt.Time,
			}
		}

		targets = append(targets, &t)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return targets, nil
}

func (r *postTargetRepository) SetResult(ctx context.Context, targetID int64, outcome *models.PublishOutcome) error {
	query := `
		UPDATE post_targets
		SET success = $1, external_post_id = $2, external_url = $3, error_message = $4, published_at = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query, outcome.Success, outcome.ExternalPostID,
		outcome.ExternalURL, outcome.ErrorMessage, outcome.PublishedAt, targetID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ClearResults wipes prior attempt records so a retried post starts fresh.
func (r *postTargetRepository) ClearResults(ctx context.Context, postID int64) error {
	query := `
		UPDATE post_targets
		SET success = NULL, external_post_id = '', external_url = '', error_message = '', published_at = NULL
		WHERE post_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postTargetRepository) RemoveByPostID(ctx context.Context, postID int64) error {
	query := `DELETE FROM post_targets WHERE post_id = $1`
	_, err := r.db.ExecContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
