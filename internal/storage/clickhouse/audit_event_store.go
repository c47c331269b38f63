package clickhouse

import (
	"context"
	"fmt"

	"databurn/internal/audit"
	"databurn/internal/domain"
)

// AuditEventStore persists AuditEvents to ClickHouse. It satisfies
// audit.Recorder so the engine can write straight to it, and buffers no
// state of its own: every Record is one single-row batch, which keeps the
// log ordered with execution.
type AuditEventStore struct {
	conn *Conn
}

// NewAuditEventStore creates a new AuditEventStore.
func NewAuditEventStore(conn *Conn) *AuditEventStore {
	return &AuditEventStore{conn: conn}
}

// Compile-time interface check.
var _ audit.Recorder = (*AuditEventStore)(nil)

// Record appends one audit event.
func (s *AuditEventStore) Record(ctx context.Context, ev *domain.AuditEvent) error {
	return s.RecordBulk(ctx, []*domain.AuditEvent{ev})
}

// RecordBulk appends multiple audit events in one batch.
func (s *AuditEventStore) RecordBulk(ctx context.Context, events []*domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO audit_events (
			event_type, timestamp_ms, entity_id, epoch, asset, amount, amount_secondary, detail
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, ev := range events {
		err = batch.Append(
			ev.EventType, uint64(ev.Timestamp), ev.EntityID, ev.Epoch,
			ev.Asset, ev.Amount, ev.AmountSecondary, ev.Detail,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByType retrieves all events of one type, ordered by timestamp ASC.
func (s *AuditEventStore) GetByType(ctx context.Context, eventType string) ([]*domain.AuditEvent, error) {
	query := `
		SELECT event_type, timestamp_ms, entity_id, epoch, asset, amount, amount_secondary, detail
		FROM audit_events
		WHERE event_type = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, eventType)
	if err != nil {
		return nil, fmt.Errorf("query by event type: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

// GetByEntity retrieves all events for one entity, ordered by timestamp ASC.
func (s *AuditEventStore) GetByEntity(ctx context.Context, entityID int64) ([]*domain.AuditEvent, error) {
	query := `
		SELECT event_type, timestamp_ms, entity_id, epoch, asset, amount, amount_secondary, detail
		FROM audit_events
		WHERE entity_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query by entity: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] milliseconds (inclusive).
func (s *AuditEventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.AuditEvent, error) {
	query := `
		SELECT event_type, timestamp_ms, entity_id, epoch, asset, amount, amount_secondary, detail
		FROM audit_events
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

// scanAuditEvents scans multiple rows.
func scanAuditEvents(rows chRows) ([]*domain.AuditEvent, error) {
	var events []*domain.AuditEvent

	for rows.Next() {
		var ev domain.AuditEvent
		var timestampMs uint64

		err := rows.Scan(
			&ev.EventType, &timestampMs, &ev.EntityID, &ev.Epoch,
			&ev.Asset, &ev.Amount, &ev.AmountSecondary, &ev.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event row: %w", err)
		}

		ev.Timestamp = int64(timestampMs)
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit event rows: %w", err)
	}

	return events, nil
}
