package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Notification Methods
// -----------------------------------------------------------------------------

// CreateNotification inserts an in-app notification
func (db *DB) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Priority == "" {
		n.Priority = "normal"
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO notifications (id, user_id, audience, kind, message, priority, document_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		n.ID, n.UserID, n.Audience, n.Kind, n.Message, n.Priority, n.DocumentID,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first
func (db *DB) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]Notification, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, audience, kind, message, priority, document_id, read_at, created_at
		 FROM notifications WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Audience, &n.Kind, &n.Message, &n.Priority,
			&n.DocumentID, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
