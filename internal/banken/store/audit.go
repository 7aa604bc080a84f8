package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bdobrica/Banken/common/redact"
)

// AuditEntry is one command-audit row.
type AuditEntry struct {
	ID           int64          `json:"id"`
	Timestamp    time.Time      `json:"ts"`
	TraceID      string         `json:"trace_id"`
	Action       string         `json:"action"`
	Target       string         `json:"target,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Result       string         `json:"result"`
	ErrorMessage string         `json:"error,omitempty"`
}

// Audit results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// WriteCommand records one executed command. The payload is redacted before
// storage: container create requests can carry secret-bearing env values.
func (s *Store) WriteCommand(ctx context.Context, traceID, action, target, result string, payload map[string]any, errorMsg string) error {
	var payloadJSON sql.NullString
	if payload != nil {
		b, err := json.Marshal(redact.Map(payload))
		if err != nil {
			return fmt.Errorf("failed to marshal audit payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(b), Valid: true}
	}

	var targetNull sql.NullString
	if target != "" {
		targetNull = sql.NullString{String: target, Valid: true}
	}
	var errorNull sql.NullString
	if errorMsg != "" {
		errorNull = sql.NullString{String: errorMsg, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_audit (ts, trace_id, action, target, payload_json, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, time.Now().UTC(), traceID, action, targetNull, payloadJSON, result, errorNull)
	if err != nil {
		return fmt.Errorf("failed to write command audit: %w", err)
	}
	return nil
}

// RecentCommands returns the newest audit entries, newest first.
func (s *Store) RecentCommands(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, action, target, payload_json, result, error_message
		FROM command_audit
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query command audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			entry       AuditEntry
			target      sql.NullString
			payloadJSON sql.NullString
			errMsg      sql.NullString
		)
		err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.TraceID,
			&entry.Action, &target, &payloadJSON,
			&entry.Result, &errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Target = target.String
		entry.ErrorMessage = errMsg.String
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CommandCount returns the total number of audited commands.
func (s *Store) CommandCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM command_audit").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}
