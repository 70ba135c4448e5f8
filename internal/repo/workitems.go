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

const workItemCols = `id, source, source_id, board_id, title, COALESCE(description,''), item_type,
	story_points, COALESCE(sprint_id,''), COALESCE(client_id,''), COALESCE(assignees,'{}'), COALESCE(dev_owner,''),
	status, created_at, started_at, dev_started_at, dev_done_at, ready_for_qa_at, qa_started_at,
	qa_verified_at, signed_off_at, ready_for_uat_at, deployed_uat_at, done_at, cancelled_at, closed,
	blocked_flag, blocked_since, COALESCE(blocked_reason,''), parent_id, COALESCE(linked_prs,'[]'), COALESCE(meta,'{}')`

func scanWorkItem(row pgx.Row) (*domain.WorkItem, error) {
	var wi domain.WorkItem
	var linkedPRs, meta []byte
	err := row.Scan(&wi.ID, &wi.Source, &wi.SourceID, &wi.BoardID, &wi.Title, &wi.Description, &wi.ItemType,
		&wi.StoryPoints, &wi.SprintID, &wi.ClientID, &wi.Assignees, &wi.DevOwner,
		&wi.Status, &wi.CreatedAt, &wi.StartedAt, &wi.DevStartedAt, &wi.DevDoneAt, &wi.ReadyForQAAt, &wi.QAStartedAt,
		&wi.QAVerifiedAt, &wi.SignedOffAt, &wi.ReadyForUATAt, &wi.DeployedUATAt, &wi.DoneAt, &wi.CancelledAt, &wi.Closed,
		&wi.BlockedFlag, &wi.BlockedSince, &wi.BlockedReason, &wi.ParentID, &linkedPRs, &meta)
	if err != nil {
		return nil, err
	}
	if len(linkedPRs) > 0 {
		if err := json.Unmarshal(linkedPRs, &wi.LinkedPRs); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &wi.Meta); err != nil {
			return nil, err
		}
	}
	return &wi, nil
}

// UpsertWorkItem writes one canonical row keyed by (source, source_id). The
// stored blocked state is re-read under a row lock in the same transaction
// so concurrent normalization runs agree on blocked_since.
func (r *Repository) UpsertWorkItem(ctx context.Context, wi domain.WorkItem) (int64, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var prevFlag bool
	var prevSince *time.Time
	err = tx.QueryRow(ctx, `SELECT blocked_flag, blocked_since FROM work_items
		WHERE source=$1 AND source_id=$2 FOR UPDATE`, wi.Source, wi.SourceID).Scan(&prevFlag, &prevSince)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	blockedSince := domain.ResolveBlockedSince(prevFlag, prevSince, wi.BlockedFlag, time.Now().UTC())

	linkedPRs, err := json.Marshal(wi.LinkedPRs)
	if err != nil {
		return 0, err
	}
	meta, err := json.Marshal(wi.Meta)
	if err != nil {
		return 0, err
	}

	const q = `
		INSERT INTO work_items(source, source_id, board_id, title, description, item_type,
			story_points, sprint_id, client_id, assignees, dev_owner,
			status, created_at, started_at, dev_started_at, dev_done_at, ready_for_qa_at, qa_started_at,
			qa_verified_at, signed_off_at, ready_for_uat_at, deployed_uat_at, done_at, cancelled_at, closed,
			blocked_flag, blocked_since, blocked_reason, parent_id, linked_prs, meta)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
		ON CONFLICT(source, source_id) DO UPDATE SET
			board_id=EXCLUDED.board_id,
			title=EXCLUDED.title,
			description=EXCLUDED.description,
			item_type=EXCLUDED.item_type,
			story_points=EXCLUDED.story_points,
			sprint_id=EXCLUDED.sprint_id,
			client_id=EXCLUDED.client_id,
			assignees=EXCLUDED.assignees,
			dev_owner=EXCLUDED.dev_owner,
			status=EXCLUDED.status,
			created_at=EXCLUDED.created_at,
			started_at=EXCLUDED.started_at,
			dev_started_at=EXCLUDED.dev_started_at,
			dev_done_at=EXCLUDED.dev_done_at,
			ready_for_qa_at=EXCLUDED.ready_for_qa_at,
			qa_started_at=EXCLUDED.qa_started_at,
			qa_verified_at=EXCLUDED.qa_verified_at,
			signed_off_at=EXCLUDED.signed_off_at,
			ready_for_uat_at=EXCLUDED.ready_for_uat_at,
			deployed_uat_at=EXCLUDED.deployed_uat_at,
			done_at=EXCLUDED.done_at,
			cancelled_at=EXCLUDED.cancelled_at,
			closed=EXCLUDED.closed,
			blocked_flag=EXCLUDED.blocked_flag,
			blocked_since=EXCLUDED.blocked_since,
			parent_id=EXCLUDED.parent_id,
			linked_prs=EXCLUDED.linked_prs,
			meta=EXCLUDED.meta,
			last_synced=now()
		RETURNING id`
	var id int64
	err = tx.QueryRow(ctx, q, wi.Source, wi.SourceID, wi.BoardID, wi.Title, wi.Description, wi.ItemType,
		wi.StoryPoints, nullStr(wi.SprintID), nullStr(wi.ClientID), wi.Assignees, nullStr(wi.DevOwner),
		wi.Status, wi.CreatedAt, wi.StartedAt, wi.DevStartedAt, wi.DevDoneAt, wi.ReadyForQAAt, wi.QAStartedAt,
		wi.QAVerifiedAt, wi.SignedOffAt, wi.ReadyForUATAt, wi.DeployedUATAt, wi.DoneAt, wi.CancelledAt, wi.Closed,
		wi.BlockedFlag, blockedSince, nullStr(wi.BlockedReason), wi.ParentID, linkedPRs, meta).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

// EnsureWorkItem is get-or-create keyed on (source, source_id); used for
// placeholder parents so linkage exists regardless of fetch order. The
// DO UPDATE no-op makes RETURNING work for the existing row without
// clobbering real data.
func (r *Repository) EnsureWorkItem(ctx context.Context, boardID int64, source domain.Source, sourceID, title string, itemType domain.ItemType) (int64, error) {
	const q = `INSERT INTO work_items(source, source_id, board_id, title, item_type, status)
		VALUES($1,$2,$3,$4,$5,'backlog')
		ON CONFLICT(source, source_id) DO UPDATE SET source_id=EXCLUDED.source_id
		RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, source, sourceID, boardID, title, itemType).Scan(&id)
	return id, err
}

func (r *Repository) FindWorkItem(ctx context.Context, source domain.Source, sourceID string) (*domain.WorkItem, error) {
	wi, err := scanWorkItem(r.db.Pool.QueryRow(ctx,
		`SELECT `+workItemCols+` FROM work_items WHERE source=$1 AND source_id=$2`, source, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return wi, err
}

func (r *Repository) ListWorkItems(ctx context.Context, boardID int64) ([]domain.WorkItem, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+workItemCols+` FROM work_items WHERE board_id=$1 ORDER BY id`, boardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WorkItem
	for rows.Next() {
		wi, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wi)
	}
	return out, rows.Err()
}

// ListBlockedWorkItems returns currently-blocked items for a board, bounded
// by a staleness filter: items either carry a blocked_since anchor or were
// synced after staleAfter.
func (r *Repository) ListBlockedWorkItems(ctx context.Context, boardID int64, staleAfter time.Time) ([]domain.WorkItem, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+workItemCols+` FROM work_items
		WHERE board_id=$1 AND blocked_flag=true AND (blocked_since IS NOT NULL OR last_synced >= $2)
		ORDER BY id`, boardID, staleAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WorkItem
	for rows.Next() {
		wi, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wi)
	}
	return out, rows.Err()
}

func (r *Repository) SetBlockedSince(ctx context.Context, workItemID int64, since time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE work_items SET blocked_since=$2 WHERE id=$1 AND blocked_since IS NULL`, workItemID, since)
	return err
}

// ---- PRs ----

func (r *Repository) UpsertPR(ctx context.Context, pr domain.PR) (int64, error) {
	meta, err := json.Marshal(pr.Meta)
	if err != nil {
		return 0, err
	}
	const q = `
		INSERT INTO prs(pr_id, source, title, branch, opened_at, first_reviewed_at, merged_at, author_id, reviewer_ids, meta)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT(pr_id) DO UPDATE SET
			source=EXCLUDED.source,
			title=EXCLUDED.title,
			branch=EXCLUDED.branch,
			opened_at=EXCLUDED.opened_at,
			first_reviewed_at=EXCLUDED.first_reviewed_at,
			merged_at=EXCLUDED.merged_at,
			author_id=EXCLUDED.author_id,
			reviewer_ids=EXCLUDED.reviewer_ids,
			meta=EXCLUDED.meta
		RETURNING id`
	var id int64
	err = r.db.Pool.QueryRow(ctx, q, pr.PRID, pr.Source, nullStr(pr.Title), nullStr(pr.Branch),
		pr.OpenedAt, pr.FirstReviewedAt, pr.MergedAt, nullStr(pr.AuthorID), pr.ReviewerIDs, meta).Scan(&id)
	return id, err
}

// AttachPR sets the PR's work-item FK and appends the compact link record to
// the item's linked_prs, de-duplicated by pr_id, under a row lock.
func (r *Repository) AttachPR(ctx context.Context, prRowID, workItemID int64, link domain.LinkedPR) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE prs SET work_item_id=$2 WHERE id=$1`, prRowID, workItemID); err != nil {
		return err
	}

	var raw []byte
	if err := tx.QueryRow(ctx, `SELECT COALESCE(linked_prs,'[]') FROM work_items WHERE id=$1 FOR UPDATE`, workItemID).Scan(&raw); err != nil {
		return err
	}
	var linked []domain.LinkedPR
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &linked); err != nil {
			return err
		}
	}
	for _, l := range linked {
		if l.PRID == link.PRID {
			return tx.Commit(ctx) // already linked
		}
	}
	linked = append(linked, link)
	b, err := json.Marshal(linked)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE work_items SET linked_prs=$2 WHERE id=$1`, workItemID, b); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WorkItemSourceIDs maps work-item row ids to source ids (digest samples).
func (r *Repository) WorkItemSourceIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Pool.Query(ctx, `SELECT id, source_id FROM work_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var sid string
		if err := rows.Scan(&id, &sid); err != nil {
			return nil, err
		}
		out[id] = sid
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
