package stores

import (
	"context"
	"fmt"
	"time"
)

// CreateSyncJob inserts a new sync job row and fills in its generated ID.
func (s *SQLiteStore) CreateSyncJob(ctx context.Context, job *SyncJob) error {
	query := `
		INSERT INTO sync_jobs (share_pack_id, job_type, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		job.SharePackID,
		job.JobType,
		job.Status,
		job.Error,
		job.StartedAt,
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get sync job ID: %w", err)
	}

	job.ID = id
	return nil
}

// FinishSyncJob records the terminal status of a sync job.
func (s *SQLiteStore) FinishSyncJob(ctx context.Context, id int64, status string, errMsg *string) error {
	query := `UPDATE sync_jobs SET status = ?, error = ?, finished_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish sync job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("sync job %d: %w", id, ErrNotFound)
	}

	return nil
}

// AppendJobMetric inserts a per-step execution measurement.
func (s *SQLiteStore) AppendJobMetric(ctx context.Context, metric *JobMetric) error {
	query := `INSERT INTO job_metrics (sync_job_id, name, value, recorded_at) VALUES (?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		metric.SyncJobID,
		metric.Name,
		metric.Value,
		metric.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append job metric: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get job metric ID: %w", err)
	}

	metric.ID = id
	return nil
}

// AppendProjectCost inserts a cost attribution record.
func (s *SQLiteStore) AppendProjectCost(ctx context.Context, cost *ProjectCost) error {
	query := `INSERT INTO project_costs (project_id, amount, currency, details, incurred_at) VALUES (?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		cost.ProjectID,
		cost.Amount,
		cost.Currency,
		cost.Details,
		cost.IncurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append project cost: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get project cost ID: %w", err)
	}

	cost.ID = id
	return nil
}

// AppendNotification inserts an outbound notification record.
func (s *SQLiteStore) AppendNotification(ctx context.Context, n *Notification) error {
	query := `INSERT INTO notifications (share_pack_id, channel, recipient, message, sent_at) VALUES (?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		n.SharePackID,
		n.Channel,
		n.Recipient,
		n.Message,
		n.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get notification ID: %w", err)
	}

	n.ID = id
	return nil
}

// AppendAuditEntry inserts an audit trail record.
func (s *SQLiteStore) AppendAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `INSERT INTO audit_trail (entity_type, entity_id, action, actor, details, timestamp) VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		entry.Actor,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, entityType, entityID *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, action, actor, details, timestamp
		FROM audit_trail
		WHERE (? IS NULL OR entity_type = ?)
		  AND (? IS NULL OR entity_id = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, entityType, entityType, entityID, entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.EntityType,
			&entry.EntityID,
			&entry.Action,
			&entry.Actor,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
