package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
)

// maxBindVars bounds the IN clause of GetByIDs
const maxBindVars = 500

type userRepository struct {
	db *sql.DB
}

var _ interfaces.UserRepository = &userRepository{}

const userColumns = "id, external_id, name, display_name, full_name, avatar_url, updated_at"

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		id        string
		updatedAt int64
	)
	if err := row.Scan(&id, &u.ExternalID, &u.Name, &u.DisplayName, &u.FullName, &u.AvatarURL, &updatedAt); err != nil {
		return nil, err
	}
	u.ID = model.UserID(id)
	u.UpdatedAt = fromUnix(updatedAt)
	return &u, nil
}

// GetAll retrieves all users of a workspace, ordered by ID
func (r *userRepository) GetAll(ctx context.Context, workspaceID string) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE workspace_id = ? ORDER BY id", workspaceID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query users", goerr.V("workspace_id", workspaceID))
	}
	defer func() { _ = rows.Close() }()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan user", goerr.V("workspace_id", workspaceID))
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate users", goerr.V("workspace_id", workspaceID))
	}

	return users, nil
}

// GetByIDs retrieves multiple users by IDs
func (r *userRepository) GetByIDs(ctx context.Context, workspaceID string, ids []model.UserID) (map[model.UserID]*model.User, error) {
	result := make(map[model.UserID]*model.User, len(ids))

	for i := 0; i < len(ids); i += maxBindVars {
		batch := ids[i:min(i+maxBindVars, len(ids))]

		args := make([]any, 0, len(batch)+1)
		args = append(args, workspaceID)
		for _, id := range batch {
			args = append(args, string(id))
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		rows, err := r.db.QueryContext(ctx,
			"SELECT "+userColumns+" FROM users WHERE workspace_id = ? AND id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query users by IDs",
				goerr.V("workspace_id", workspaceID),
				goerr.V("count", len(batch)))
		}

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				_ = rows.Close()
				return nil, goerr.Wrap(err, "failed to scan user", goerr.V("workspace_id", workspaceID))
			}
			result[u.ID] = u
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate users", goerr.V("workspace_id", workspaceID))
		}
	}

	return result, nil
}

// SaveMany saves multiple users (upsert operation) in a single transaction
func (r *userRepository) SaveMany(ctx context.Context, workspaceID string, users []*model.User) error {
	if len(users) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO users (workspace_id, `+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, id) DO UPDATE SET
			external_id = excluded.external_id,
			name = excluded.name,
			display_name = excluded.display_name,
			full_name = excluded.full_name,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`)
	if err != nil {
		return goerr.Wrap(err, "failed to prepare upsert")
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, workspaceID, string(u.ID), u.ExternalID, u.Name,
			u.DisplayName, u.FullName, u.AvatarURL, toUnix(u.UpdatedAt)); err != nil {
			return goerr.Wrap(err, "failed to save user",
				goerr.V("workspace_id", workspaceID),
				goerr.V("user_id", u.ID))
		}
	}

	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit users", goerr.V("workspace_id", workspaceID))
	}
	return nil
}

// DeleteAll deletes all users of a workspace
func (r *userRepository) DeleteAll(ctx context.Context, workspaceID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE workspace_id = ?", workspaceID); err != nil {
		return goerr.Wrap(err, "failed to delete users", goerr.V("workspace_id", workspaceID))
	}
	return nil
}

// GetMetadata retrieves refresh metadata
func (r *userRepository) GetMetadata(ctx context.Context, workspaceID string) (*model.UserDirectoryMetadata, error) {
	var success, attempt int64
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT last_refresh_success, last_refresh_attempt, user_count
		FROM user_directory_metadata WHERE workspace_id = ?`, workspaceID).
		Scan(&success, &attempt, &count)
	if err == sql.ErrNoRows {
		return &model.UserDirectoryMetadata{}, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get user directory metadata", goerr.V("workspace_id", workspaceID))
	}

	return &model.UserDirectoryMetadata{
		LastRefreshSuccess: fromUnix(success),
		LastRefreshAttempt: fromUnix(attempt),
		UserCount:          count,
	}, nil
}

// SaveMetadata saves refresh metadata
func (r *userRepository) SaveMetadata(ctx context.Context, workspaceID string, metadata *model.UserDirectoryMetadata) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_directory_metadata (workspace_id, last_refresh_success, last_refresh_attempt, user_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id) DO UPDATE SET
			last_refresh_success = excluded.last_refresh_success,
			last_refresh_attempt = excluded.last_refresh_attempt,
			user_count = excluded.user_count`,
		workspaceID, toUnix(metadata.LastRefreshSuccess), toUnix(metadata.LastRefreshAttempt), metadata.UserCount)
	if err != nil {
		return goerr.Wrap(err, "failed to save user directory metadata", goerr.V("workspace_id", workspaceID))
	}
	return nil
}
