package postgres

import (
	"context"
	"fmt"

	"github.com/airenas/go-app/pkg/goapp"
)

// LockEmailTable marks email as being sent for ID and type.
// Fails if the email was already sent or is being sent.
func (db *DB) LockEmailTable(ctx context.Context, id, msgType string) error {
	cmd, err := db.pool.Exec(ctx, `INSERT INTO email_lock(id, msg_type, status) VALUES($1, $2, 1)
	ON CONFLICT (id, msg_type) DO UPDATE SET status = 1 WHERE email_lock.status = 0`, id, msgType)
	if err != nil {
		return fmt.Errorf("can't lock email table: %w", err)
	}
	if cmd.RowsAffected() != 1 {
		return fmt.Errorf("can't lock email table, already locked")
	}
	return nil
}

// UnLockEmailTable releases or finalizes the email lock.
// value: 0 - sending failed, may retry, 2 - sent
func (db *DB) UnLockEmailTable(ctx context.Context, id, msgType string, value *int) error {
	_, err := db.pool.Exec(ctx, `UPDATE email_lock SET status = $3 WHERE id = $1 AND msg_type = $2`, id, msgType, *value)
	if err != nil {
		goapp.Log.Error().Err(err).Str("ID", id).Msg("can't unlock email table")
		return fmt.Errorf("can't unlock email table: %w", err)
	}
	return nil
}
