/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ekesel/cbm/internal/config"
	"github.com/ekesel/cbm/internal/domain"
	"github.com/ekesel/cbm/internal/mapping"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil {
		return errors.New("advisory unlock returned false")
	}
	return err
}

// ---- mapping versions ----

// ActiveMapping resolves the single active mapping config: the most recently
// created active row, or an empty config (built-in defaults) when none exists.
// Callers resolve once per operation and pass the snapshot down.
func (r *Repository) ActiveMapping(ctx context.Context) (string, mapping.Config, error) {
	const q = `SELECT version, COALESCE(config, '{}'::jsonb)
		FROM mapping_versions WHERE active = true ORDER BY created_at DESC LIMIT 1`
	var version string
	var cfg map[string]any
	err := r.db.Pool.QueryRow(ctx, q).Scan(&version, &cfg)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", mapping.Config{}, nil
	}
	if err != nil {
		return "", nil, err
	}
	return version, mapping.Config(cfg), nil
}

// ---- boards ----

func (r *Repository) ListBoards(ctx context.Context) ([]domain.Board, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, source, board_id, name, COALESCE(client_id,''), last_synced FROM boards ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Board
	for rows.Next() {
		var b domain.Board
		if err := rows.Scan(&b.ID, &b.Source, &b.BoardID, &b.Name, &b.ClientID, &b.LastSynced); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) GetBoard(ctx context.Context, id int64) (*domain.Board, error) {
	const q = `SELECT id, source, board_id, name, COALESCE(client_id,''), last_synced FROM boards WHERE id=$1`
	var b domain.Board
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&b.ID, &b.Source, &b.BoardID, &b.Name, &b.ClientID, &b.LastSynced); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) TouchBoardSynced(ctx context.Context, id int64) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE boards SET last_synced=now() WHERE id=$1`, id)
	return err
}

// ---- raw payloads ----

// ListRecentRawPayloads returns the most recent N raw records for a board,
// newest first. Normalizers tolerate reprocessing the same record.
func (r *Repository) ListRecentRawPayloads(ctx context.Context, boardID int64, limit int) ([]domain.RawPayload, error) {
	if limit <= 0 {
		limit = 5000
	}
	rows, err := r.db.Pool.Query(ctx, `SELECT id, source, board_id, object_type, external_id, payload, fetched_at
		FROM raw_payloads WHERE board_id=$1 ORDER BY fetched_at DESC LIMIT $2`, boardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RawPayload
	for rows.Next() {
		var rp domain.RawPayload
		if err := rows.Scan(&rp.ID, &rp.Source, &rp.BoardID, &rp.ObjectType, &rp.ExternalID, &rp.Payload, &rp.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

// InsertRawPayloads stores a batch of fetched records in one round trip.
func (r *Repository) InsertRawPayloads(ctx context.Context, raws []domain.RawPayload) (int, error) {
	if len(raws) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, rp := range raws {
		payload, err := json.Marshal(rp.Payload)
		if err != nil {
			return 0, err
		}
		b.Queue(`INSERT INTO raw_payloads(source, board_id, object_type, external_id, payload, fetched_at)
			VALUES($1,$2,$3,$4,$5,now())`, rp.Source, rp.BoardID, rp.ObjectType, rp.ExternalID, payload)
	}
	br := r.db.Pool.SendBatch(ctx, b)
	defer br.Close()
	for range raws {
		if _, err := br.Exec(); err != nil {
			return 0, err
		}
	}
	return len(raws), nil
}

// PruneRawPayloads deletes raw records older than the retention window,
// capped per run.
func (r *Repository) PruneRawPayloads(ctx context.Context, retentionDays, limit int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if limit <= 0 {
		limit = 5000
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM raw_payloads WHERE id IN (
		SELECT id FROM raw_payloads WHERE fetched_at < $1 ORDER BY id LIMIT $2)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ---- notification channels ----

func (r *Repository) ListActiveChannels(ctx context.Context, boardID int64) ([]domain.NotificationChannel, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, board_id, name, webhook_url, COALESCE(rules, '{}'), is_active
		FROM notification_channels WHERE board_id=$1 AND is_active=true ORDER BY id`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.NotificationChannel
	for rows.Next() {
		var ch domain.NotificationChannel
		if err := rows.Scan(&ch.ID, &ch.BoardID, &ch.Name, &ch.WebhookURL, &ch.Rules, &ch.IsActive); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
