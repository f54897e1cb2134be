package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shreyasdbz/axis/core"
)

// SQLiteAuditWriter appends hash-chained rows to the meridian database's
// audit_log table. It holds the exclusive write lock on the chain; readers
// take a snapshot by sequence number rather than contending with writers.
type SQLiteAuditWriter struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewSQLiteAuditWriter builds a writer over db (the meridian handle).
func NewSQLiteAuditWriter(db *sqlx.DB) *SQLiteAuditWriter {
	return &SQLiteAuditWriter{db: db}
}

// WriteRoute appends one audit row recording a routed message: its type,
// sender, recipient, and the hash of its payload (never the payload body).
func (w *SQLiteAuditWriter) WriteRoute(ctx context.Context, msg Envelope, payloadHash string) error {
	return w.append(ctx, "router", "dispatch", msg.To, map[string]interface{}{
		"type":        msg.Type,
		"from":        msg.From,
		"to":          msg.To,
		"payloadHash": payloadHash,
		"jobId":       msg.JobID,
	})
}

// Append writes an arbitrary audit entry with the given actor, action and
// target, outside the router's dispatch middleware.
func (w *SQLiteAuditWriter) Append(ctx context.Context, actor, action, target string, payload map[string]interface{}) error {
	return w.append(ctx, actor, action, target, payload)
}

func (w *SQLiteAuditWriter) append(ctx context.Context, actor, action, target string, payload map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var prevHash sql.NullString
	err := w.db.GetContext(ctx, &prevHash, `SELECT hash FROM audit_log ORDER BY seq DESC LIMIT 1`)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("audit: read prev hash: %w", err)
	}

	entry := core.AuditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		Payload:   payload,
		PrevHash:  prevHash.String,
	}
	hash, err := core.HashEntry(entry.PrevHash, struct {
		Timestamp time.Time              `json:"timestamp"`
		Actor     string                 `json:"actor"`
		Action    string                 `json:"action"`
		Target    string                 `json:"target"`
		Payload   map[string]interface{} `json:"payload,omitempty"`
	}{entry.Timestamp, entry.Actor, entry.Action, entry.Target, entry.Payload})
	if err != nil {
		return fmt.Errorf("audit: hash entry: %w", err)
	}
	entry.Hash = hash

	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, actor, action, target, payload, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Actor, entry.Action, entry.Target, string(payloadJSON), entry.PrevHash, entry.Hash)
	return err
}

// VerifyChain reads the entire audit_log table in sequence order and
// confirms each row's hash matches HashEntry(prevHash, entry). Returns the
// sequence number of the first mismatch, or -1 if the chain is intact.
func (w *SQLiteAuditWriter) VerifyChain(ctx context.Context) (int64, error) {
	rows, err := w.db.QueryxContext(ctx, `SELECT seq, timestamp, actor, action, target, payload, prev_hash, hash FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return -1, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var ts time.Time
		var actor, action, target, prevHash, hash string
		var payloadStr sql.NullString
		if err := rows.Scan(&seq, &ts, &actor, &action, &target, &payloadStr, &prevHash, &hash); err != nil {
			return -1, err
		}
		var payload map[string]interface{}
		if payloadStr.Valid && payloadStr.String != "" {
			if err := json.Unmarshal([]byte(payloadStr.String), &payload); err != nil {
				return seq, err
			}
		}
		want, err := core.HashEntry(prevHash, struct {
			Timestamp time.Time              `json:"timestamp"`
			Actor     string                 `json:"actor"`
			Action    string                 `json:"action"`
			Target    string                 `json:"target"`
			Payload   map[string]interface{} `json:"payload,omitempty"`
		}{ts, actor, action, target, payload})
		if err != nil {
			return seq, err
		}
		if want != hash {
			return seq, nil
		}
	}
	return -1, nil
}
