package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/castgate/castgate/internal/pkg/jobs"
	"github.com/castgate/castgate/internal/pkg/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	res := &DB{pool: pool}
	return res, nil
}

// InsertJob inserts job record into DB
func (db *DB) InsertJob(ctx context.Context, rec *jobs.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("can't marshal metadata: %w", err)
	}
	rows, err := db.pool.Query(ctx, `INSERT INTO jobs(id, owner_id, source_name, container_id, status, stage, progress, error_message, metadata, created, updated)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, rec.ID, rec.OwnerID, rec.SourceName, rec.ContainerID,
		rec.Status.String(), rec.Stage.String(), rec.Progress, utils.ToSQLStr(rec.ErrorMessage), meta, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("can't insert job: %w", err)
	}
	defer rows.Close()
	return nil
}

// UpdateJob updates job record in DB
func (db *DB) UpdateJob(ctx context.Context, rec *jobs.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("can't marshal metadata: %w", err)
	}
	rows, err := db.pool.Exec(ctx, `UPDATE jobs SET
	status = $2,
	stage = $3,
	progress = $4,
	error_message = $5,
	metadata = $6,
	updated = $7
	WHERE id = $1`, rec.ID, rec.Status.String(), rec.Stage.String(), rec.Progress, utils.ToSQLStr(rec.ErrorMessage), meta, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("can't update job: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update job, no records found")
	}
	return nil
}

// LoadJob loads job record from DB, returns nil if not found
func (db *DB) LoadJob(ctx context.Context, id string) (*jobs.Record, error) {
	var res jobs.Record
	var status, stage string
	var errMsg sql.NullString
	var meta []byte
	err := db.pool.QueryRow(ctx, `SELECT id, owner_id, source_name, container_id, status, stage, progress, error_message, metadata, created, updated FROM jobs
		WHERE id = $1`, id).Scan(&res.ID, &res.OwnerID, &res.SourceName, &res.ContainerID, &status, &stage,
		&res.Progress, &errMsg, &meta, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load job: %w", err)
	}
	res.Status = jobs.StatusFrom(status)
	res.Stage = jobs.StageFrom(stage)
	res.ErrorMessage = utils.FromSQLStr(errMsg)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &res.Metadata); err != nil {
			return nil, fmt.Errorf("can't unmarshal metadata: %w", err)
		}
	}
	return &res, nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'gue_jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}
