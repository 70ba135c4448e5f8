/* Copyright (c) 2025 cbm authors
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"encoding/json"

	"github.com/ekesel/cbm/internal/domain"
	"github.com/google/uuid"
)

// StartJobRun opens the audit record wrapped around one ETL operation.
func (r *Repository) StartJobRun(ctx context.Context, jobName string, boardID *int64, mappingVersion string, meta map[string]any) (int64, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}
	const q = `INSERT INTO job_runs(run_id, job_name, board_id, mapping_version, status, started_at, meta)
		VALUES($1,$2,$3,$4,'started',now(),$5) RETURNING id`
	var id int64
	err = r.db.Pool.QueryRow(ctx, q, uuid.NewString(), jobName, boardID, nullStr(mappingVersion), metaJSON).Scan(&id)
	return id, err
}

// FinishJobRun closes the audit record with counters and outcome. errStr is
// empty on success.
func (r *Repository) FinishJobRun(ctx context.Context, id int64, pulled, normalized, failed int, errStr string) error {
	status := domain.JobSuccess
	if errStr != "" {
		status = domain.JobFailed
	}
	const q = `UPDATE job_runs SET finished_at=now(), records_pulled=$2, records_normalized=$3,
		records_failed=$4, status=$5, error_summary=$6 WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id, pulled, normalized, failed, status, nullStr(errStr))
	return err
}

// SetJobRunMeta replaces the run's meta document (e.g. per-rule violation
// counts after a validate run).
func (r *Repository) SetJobRunMeta(ctx context.Context, id int64, meta map[string]any) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `UPDATE job_runs SET meta=$2 WHERE id=$1`, id, metaJSON)
	return err
}

// GetLastRun returns the most recent job run, for the admin surface.
func (r *Repository) GetLastRun(ctx context.Context) (*domain.JobRun, error) {
	const q = `SELECT id, run_id, job_name, board_id, COALESCE(mapping_version,''), status, started_at, finished_at,
		COALESCE(records_pulled,0), COALESCE(records_normalized,0), COALESCE(records_failed,0),
		COALESCE(error_summary,''), COALESCE(meta,'{}')
		FROM job_runs ORDER BY id DESC LIMIT 1`
	var jr domain.JobRun
	var meta []byte
	err := r.db.Pool.QueryRow(ctx, q).Scan(&jr.ID, &jr.RunID, &jr.JobName, &jr.BoardID, &jr.MappingVersion,
		&jr.Status, &jr.StartedAt, &jr.FinishedAt, &jr.RecordsPulled, &jr.RecordsNormalized, &jr.RecordsFailed,
		&jr.ErrorSummary, &meta)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &jr.Meta); err != nil {
			return nil, err
		}
	}
	return &jr, nil
}
