// Package ledger keeps an append-only history of the reports the device
// sent out, for auditing over the bridge adapter.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/eventbus"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID            int64          `json:"id"`
	EventType     string         `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Ledger is an append-only event log in the event_ledger table.
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds an entry stamped with the current time.
func (l *Ledger) Append(eventType, correlationID, source string, payload map[string]any) error {
	return l.AppendAt(time.Now(), eventType, correlationID, source, payload)
}

// AppendAt adds an entry with an explicit timestamp.
func (l *Ledger) AppendAt(ts time.Time, eventType, correlationID, source string, payload map[string]any) error {
	var payloadJSON []byte
	if payload != nil {
		var err error
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err := l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, payload, source, correlation_id)
		VALUES (?, ?, ?, ?, ?)
	`, eventType, ts.UTC().Unix(), string(payloadJSON), source, correlationID)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByType returns entries filtered by event type, newest first.
func (l *Ledger) GetByType(eventType string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the retention window.
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Record subscribes the ledger to every outbound event on the bus.
func (l *Ledger) Record(bus *eventbus.Bus) {
	bus.SubscribeAll(func(e eventbus.Event) {
		if err := l.AppendAt(e.Time, string(e.Type), e.ID, "device", e.Data); err != nil {
			log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to record event")
		}
	})
}

// RunRetention deletes entries older than retention every interval until
// ctx is done.
func (l *Ledger) RunRetention(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger retention cleanup failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("Ledger retention cleanup")
			}
		}
	}
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, correlationID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &correlationID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.CorrelationID = correlationID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
