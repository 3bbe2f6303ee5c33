package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/types"
)

// -----------------------------------------------------------------------------
// Onboarding Task Methods
// -----------------------------------------------------------------------------

// CreateTask inserts a locked checklist item, optionally gated on a document kind
func (db *DB) CreateTask(ctx context.Context, t *OnboardingTask) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TaskLocked
	}

	var kind *string
	if t.RequiredDocumentKind != nil {
		s := string(*t.RequiredDocumentKind)
		kind = &s
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO onboarding_tasks (id, user_id, title, required_document_kind, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		t.ID, t.UserID, t.Title, kind, t.Status,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// UnlockTasksForKind unlocks the user's locked tasks that wait on a verified document of kind
func (db *DB) UnlockTasksForKind(ctx context.Context, userID uuid.UUID, kind types.DocumentKind) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE onboarding_tasks
		 SET status = 'unlocked', unlocked_at = NOW()
		 WHERE user_id = $1 AND required_document_kind = $2 AND status = 'locked'`,
		userID, string(kind),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to unlock tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DocumentVerified unlocks checklist items that depend on the verified document
func (db *DB) DocumentVerified(ctx context.Context, ownerID, documentID uuid.UUID, kind types.DocumentKind) error {
	_, err := db.UnlockTasksForKind(ctx, ownerID, kind)
	return err
}

// ListTasks returns a user's checklist items
func (db *DB) ListTasks(ctx context.Context, userID uuid.UUID) ([]OnboardingTask, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, title, required_document_kind, status, unlocked_at, created_at
		 FROM onboarding_tasks WHERE user_id = $1 ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []OnboardingTask
	for rows.Next() {
		var t OnboardingTask
		var kind *string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &kind, &t.Status, &t.UnlockedAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if kind != nil {
			k := types.DocumentKind(*kind)
			t.RequiredDocumentKind = &k
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
