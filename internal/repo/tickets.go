/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/jackc/pgx/v5"
)

// OpenTicket is the idempotency core of the rule engine: find the non-done
// ticket for (board, work_item, rule_code) under a row lock; refresh its
// message/meta only if changed, otherwise create a fresh one. A resolved
// ticket never blocks a new one for the same key.
func (r *Repository) OpenTicket(ctx context.Context, boardID int64, workItemID *int64, rule domain.RuleCode, message string, meta map[string]any) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}

	const findQ = `SELECT id, message, COALESCE(meta,'{}') FROM remediation_tickets
		WHERE board_id=$1 AND work_item_id IS NOT DISTINCT FROM $2 AND rule_code=$3 AND status <> 'done'
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`
	var id int64
	var curMessage string
	var curMeta []byte
	err = tx.QueryRow(ctx, findQ, boardID, workItemID, rule).Scan(&id, &curMessage, &curMeta)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `INSERT INTO remediation_tickets(board_id, work_item_id, rule_code, message, status, meta)
			VALUES($1,$2,$3,$4,'open',$5)`, boardID, workItemID, rule, message, metaJSON)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		var cur map[string]any
		if len(curMeta) > 0 {
			if err := json.Unmarshal(curMeta, &cur); err != nil {
				return err
			}
		}
		if domain.TicketNeedsRefresh(curMessage, message, cur, meta) {
			// rule meta merges over the stored object so keys the rule
			// does not own (e.g. the last_notified_at stamp) survive
			if meta == nil {
				_, err = tx.Exec(ctx, `UPDATE remediation_tickets SET message=$2, updated_at=now() WHERE id=$1`, id, message)
			} else {
				_, err = tx.Exec(ctx, `UPDATE remediation_tickets
					SET message=$2,
						meta = (CASE WHEN jsonb_typeof(meta)='object' THEN meta ELSE '{}'::jsonb END) || $3::jsonb,
						updated_at=now()
					WHERE id=$1`, id, message, metaJSON)
			}
			if err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

// ResolveTickets marks every non-done ticket for the key as done. Usually at
// most one exists; tolerating more keeps out-of-band duplicates harmless.
func (r *Repository) ResolveTickets(ctx context.Context, boardID int64, workItemID *int64, rule domain.RuleCode) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE remediation_tickets
		SET status='done', resolved_at=now(), updated_at=now()
		WHERE board_id=$1 AND work_item_id IS NOT DISTINCT FROM $2 AND rule_code=$3 AND status <> 'done'`,
		boardID, workItemID, rule)
	return err
}

const ticketCols = `id, board_id, work_item_id, rule_code, message, status, COALESCE(meta,'{}'), created_at, updated_at, resolved_at`

func scanTicket(row pgx.Row) (*domain.RemediationTicket, error) {
	var rt domain.RemediationTicket
	var meta []byte
	if err := row.Scan(&rt.ID, &rt.BoardID, &rt.WorkItemID, &rt.RuleCode, &rt.Message, &rt.Status, &meta, &rt.CreatedAt, &rt.UpdatedAt, &rt.ResolvedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rt.Meta); err != nil {
			return nil, err
		}
	}
	return &rt, nil
}

func (r *Repository) listTickets(ctx context.Context, q string, args ...any) ([]domain.RemediationTicket, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RemediationTicket
	for rows.Next() {
		rt, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rt)
	}
	return out, rows.Err()
}

func (r *Repository) ListOpenTickets(ctx context.Context, boardID int64) ([]domain.RemediationTicket, error) {
	return r.listTickets(ctx, `SELECT `+ticketCols+` FROM remediation_tickets
		WHERE board_id=$1 AND status <> 'done' ORDER BY created_at DESC`, boardID)
}

func (r *Repository) ListRecentOpenTickets(ctx context.Context, boardID int64, since time.Time) ([]domain.RemediationTicket, error) {
	return r.listTickets(ctx, `SELECT `+ticketCols+` FROM remediation_tickets
		WHERE board_id=$1 AND status <> 'done' AND (created_at >= $2 OR updated_at >= $2)
		ORDER BY created_at DESC`, boardID, since)
}

// MarkTicketsNotified stamps meta.last_notified_at on the recently-touched
// open tickets after a digest goes out, to reduce repeat noise.
func (r *Repository) MarkTicketsNotified(ctx context.Context, boardID int64, since, at time.Time) error {
	// guard on jsonb_typeof: concatenating an object onto jsonb null (or any
	// non-object) would turn the column into an array and break the scan path
	_, err := r.db.Pool.Exec(ctx, `UPDATE remediation_tickets
		SET meta = (CASE WHEN jsonb_typeof(meta)='object' THEN meta ELSE '{}'::jsonb END)
			|| jsonb_build_object('last_notified_at', $3::text)
		WHERE board_id=$1 AND status <> 'done' AND updated_at >= $2`,
		boardID, since, at.Format(time.RFC3339))
	return err
}

// marshalMeta encodes ticket meta for the jsonb column. A nil map must land
// as '{}', never 'null': jsonb null is not SQL NULL, so the COALESCE guards
// would pass it through and later object concatenation would produce an array.
func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(meta)
}
