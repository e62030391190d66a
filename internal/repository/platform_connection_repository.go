package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/postpilothq/postpilot/internal/models"
)

type PlatformConnectionRepository interface {
	Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error)
	GetByUserAndPlatform(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, error)
	ListInfoByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error)
	ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.PlatformConnection, error)
	CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error)
	SetToken(ctx context.Context, id int64, conn *models.PlatformConnection) error
	SetStatus(ctx context.Context, id int64, status string) error
	IncrementPostCount(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64) error
}

type platformConnectionRepository struct {
	db *sql.DB
}

func NewPlatformConnectionRepository(db *sql.DB) PlatformConnectionRepository {
	return &platformConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, platform, platform_user_id, platform_username, profile_picture_url,
	access_token, refresh_token, token_expires_at, status, post_count, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.PlatformConnection, error) {
	var c models.PlatformConnection
	err := row.Scan(&c.ID, &c.UserID, &c.Platform, &c.PlatformUserID, &c.PlatformUsername,
		&c.ProfilePicture, &c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.Status,
		&c.PostCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *platformConnectionRepository) Create(ctx context.Context, tx *sql.Tx, conn *models.PlatformConnection) (int64, error) {
	var err error
	var id int64

	var insertQuery = `
		INSERT INTO platform_connections(
			user_id,
			platform,
			platform_user_id,
			platform_username,
			profile_picture_url,
			access_token,
			refresh_token,
			token_expires_at,
			status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			platform_user_id = EXCLUDED.platform_user_id,
			platform_username = EXCLUDED.platform_username,
			profile_picture_url = EXCLUDED.profile_picture_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	args := []any{
		conn.UserID,
		conn.Platform,
		conn.PlatformUserID,
		conn.PlatformUsername,
		conn.ProfilePicture,
		conn.AccessToken,
		conn.RefreshToken,
		conn.TokenExpiresAt,
		models.ConnectionStatusActive,
	}

	if tx != nil {
		err = tx.QueryRowContext(ctx, insertQuery, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, insertQuery, args...).Scan(&id)
	}

	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *platformConnectionRepository) GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE id = $1`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

func (r *platformConnectionRepository) GetByUserAndPlatform(ctx context.Context, userID int64, platform models.Platform) (*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE user_id = $1 AND platform = $2`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

func (r *platformConnectionRepository) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	query := `SELECT id, platform, platform_username, profile_picture_url, status, post_count
		FROM platform_connections WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.PlatformConnection
	for rows.Next() {
		var c models.PlatformConnection
		err := rows.Scan(&c.ID, &c.Platform, &c.PlatformUsername, &c.ProfilePicture, &c.Status, &c.PostCount)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, &c)
	}
	return connections, nil
}

func (r *platformConnectionRepository) ListExpiring(ctx context.Context, initialTime, finalTime time.Time) ([]*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM platform_connections
		WHERE status = $1
		AND ((token_expires_at BETWEEN $2 AND $3) OR (token_expires_at < $2))`
	rows, err := r.db.QueryContext(ctx, query, models.ConnectionStatusActive, initialTime, finalTime)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.PlatformConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, conn)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return connections, nil
}

func (r *platformConnectionRepository) CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error) {
	query := `SELECT 1 FROM platform_connections WHERE id = $1 AND user_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, connectionID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// SetToken replaces the credentials in place after a refresh.
func (r *platformConnectionRepository) SetToken(ctx context.Context, id int64, conn *models.PlatformConnection) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	updateTokenQuery := `
		UPDATE platform_connections
		SET
			access_token = COALESCE(NULLIF($2, ''), access_token),
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at = COALESCE($4, token_expires_at),
			status = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1;
	`
	result, err := tx.ExecContext(ctx, updateTokenQuery, id, conn.AccessToken, conn.RefreshToken,
		conn.TokenExpiresAt, models.ConnectionStatusActive)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		slog.Info("no rows affected; connection may not exist")
		return errors.New("no rows affected; connection may not exist")
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformConnectionRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `
		UPDATE platform_connections
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// IncrementPostCount is called once per successful publish.
func (r *platformConnectionRepository) IncrementPostCount(ctx context.Context, id int64) error {
	query := `
		UPDATE platform_connections
		SET post_count = post_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *platformConnectionRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM platform_connections WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
