package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/postpilothq/postpilot/internal/models"
)

type PostStats struct {
	Scheduled int64 `json:"scheduled"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

type ScheduledPostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error)
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error)
	ListUpcoming(ctx context.Context, userID int64, limit int) ([]*models.ScheduledPost, error)
	ListHistory(ctx context.Context, userID int64, status string) ([]*models.ScheduledPost, error)
	Stats(ctx context.Context, userID int64) (*PostStats, error)
	ClaimProcessing(ctx context.Context, id int64) (bool, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
	UpdateContent(ctx context.Context, post *models.ScheduledPost) (bool, error)
	CancelScheduled(ctx context.Context, id int64) (bool, error)
	SetStatus(ctx context.Context, status string, id int64) error
	ResetForRetry(ctx context.Context, id int64, scheduledAt time.Time) error
	ResetStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error)
	Remove(ctx context.Context, id int64) error
}

type scheduledPostRepository struct {
	db *sql.DB
}

func NewScheduledPostRepository(db *sql.DB) ScheduledPostRepository {
	return &scheduledPostRepository{db: db}
}

const postColumns = `id, user_id, title, caption, hashtags, scheduled_at, status, attempts, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	err := row.Scan(&post.ID, &post.UserID, &post.Title, &post.Caption, pq.Array(&post.Hashtags),
		&post.ScheduledAt, &post.Status, &post.Attempts, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *scheduledPostRepository) Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) (int64, error) {
	query := `
		INSERT INTO scheduled_posts (user_id, title, caption, hashtags, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, post.UserID, post.Title, post.Caption,
			pq.Array(post.Hashtags), post.ScheduledAt, post.Status).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, post.UserID, post.Title, post.Caption,
			pq.Array(post.Hashtags), post.ScheduledAt, post.Status).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *scheduledPostRepository) GetByID(ctx context.Context, id int64) (*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *scheduledPostRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := `SELECT 1 FROM scheduled_posts WHERE id = $1 AND user_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// ListDue returns the batch of posts eligible for this dispatch tick.
// A post whose scheduled_at equals now is eligible.
func (r *scheduledPostRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3`

	return r.list(ctx, query, models.PostStatusScheduled, now, limit)
}

func (r *scheduledPostRepository) ListUpcoming(ctx context.Context, userID int64, limit int) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE user_id = $1 AND status = $2
		ORDER BY scheduled_at
		LIMIT $3`

	return r.list(ctx, query, userID, models.PostStatusScheduled, limit)
}

func (r *scheduledPostRepository) ListHistory(ctx context.Context, userID int64, status string) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE user_id = $1`
	args := []any{userID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_at DESC`

	return r.list(ctx, query, args...)
}

func (r *scheduledPostRepository) list(ctx context.Context, query string, args ...any) ([]*models.ScheduledPost, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return posts, nil
}

func (r *scheduledPostRepository) Stats(ctx context.Context, userID int64) (*PostStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'scheduled'),
			COUNT(*) FILTER (WHERE status = 'published'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM scheduled_posts
		WHERE user_id = $1`

	var stats PostStats
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&stats.Scheduled, &stats.Published, &stats.Failed, &stats.Cancelled)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return &stats, nil
}

// ClaimProcessing moves a post from scheduled to processing. It reports
// false when another dispatch path already claimed the post, which is how
// overlapping ticks and duplicate queue deliveries stay single-shot.
func (r *scheduledPostRepository) ClaimProcessing(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, models.PostStatusProcessing, time.Now(), id, models.PostStatusScheduled)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	return affected == 1, nil
}

func (r *scheduledPostRepository) MarkPublished(ctx context.Context, id int64) error {
	query := `
		UPDATE scheduled_posts
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPublished, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *scheduledPostRepository) MarkFailed(ctx context.Context, id int64) error {
	query := `
		UPDATE scheduled_posts
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// UpdateContent rewrites the editable columns. The status guard keeps the
// write from landing on a row the dispatcher claimed after the caller's
// read; zero affected rows means the post left the scheduled state.
func (r *scheduledPostRepository) UpdateContent(ctx context.Context, post *models.ScheduledPost) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET title = $1, caption = $2, hashtags = $3, scheduled_at = $4, updated_at = $5
		WHERE id = $6 AND status = $7
	`
	result, err := r.db.ExecContext(ctx, query, post.Title, post.Caption, pq.Array(post.Hashtags),
		post.ScheduledAt, time.Now(), post.ID, models.PostStatusScheduled)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	return affected == 1, nil
}

// CancelScheduled flips scheduled to cancelled with the same compare-and-set
// shape as ClaimProcessing, so a cancel can never overwrite an in-flight
// processing row.
func (r *scheduledPostRepository) CancelScheduled(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, models.PostStatusCancelled, time.Now(), id, models.PostStatusScheduled)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	return affected == 1, nil
}

func (r *scheduledPostRepository) SetStatus(ctx context.Context, status string, id int64) error {
	query := `
		UPDATE scheduled_posts
		SET status = $1, updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *scheduledPostRepository) ResetForRetry(ctx context.Context, id int64, scheduledAt time.Time) error {
	query := `
		UPDATE scheduled_posts
		SET status = $1, scheduled_at = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusScheduled, scheduledAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ResetStaleProcessing returns posts stranded in processing (crashed
// worker) to the scheduled pool so the next tick re-dispatches them.
func (r *scheduledPostRepository) ResetStaleProcessing(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`
	result, err := r.db.ExecContext(ctx, query, models.PostStatusScheduled, time.Now(), models.PostStatusProcessing, olderThan)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return affected, nil
}

func (r *scheduledPostRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM scheduled_posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)

	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
