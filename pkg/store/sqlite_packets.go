package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendPacket persists one ingested packet. Missing EventID and TsIngest
// are filled in.
func (s *Store) AppendPacket(ctx context.Context, rec *PacketRecord) error {
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	if rec.TsIngest.IsZero() {
		rec.TsIngest = time.Now().UTC()
	}

	data, err := json.Marshal(rec.Packet)
	if err != nil {
		return fmt.Errorf("failed to marshal packet: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO packets (event_id, ts_ingest, packet_id, from_node, port, packet)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.EventID, rec.TsIngest.UnixNano(), rec.Packet.ID, rec.Packet.From, int32(rec.Packet.PortNum), string(data))
	if err != nil {
		return fmt.Errorf("failed to insert packet: %w", err)
	}

	return nil
}

// ReadPackets returns packets ingested strictly after since, oldest first.
func (s *Store) ReadPackets(ctx context.Context, since time.Time, limit int) ([]*PacketRecord, error) {
	return s.QueryPackets(ctx, PacketFilter{Since: since, Limit: limit})
}

// QueryPackets returns packets matching filter, oldest first.
func (s *Store) QueryPackets(ctx context.Context, filter PacketFilter) ([]*PacketRecord, error) {
	var (
		clauses []string
		args    []interface{}
	)

	if !filter.Since.IsZero() {
		clauses = append(clauses, "ts_ingest > ?")
		args = append(args, filter.Since.UnixNano())
	}
	if filter.From != 0 {
		clauses = append(clauses, "from_node = ?")
		args = append(args, filter.From)
	}
	if filter.PortNum != 0 {
		clauses = append(clauses, "port = ?")
		args = append(args, int32(filter.PortNum))
	}

	query := "SELECT event_id, ts_ingest, packet FROM packets"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ts_ingest ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query packets: %w", err)
	}
	defer rows.Close()

	return scanPackets(rows)
}

func scanPackets(rows *sql.Rows) ([]*PacketRecord, error) {
	var out []*PacketRecord
	for rows.Next() {
		var (
			rec     PacketRecord
			tsNanos int64
			raw     string
		)
		if err := rows.Scan(&rec.EventID, &tsNanos, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan packet row: %w", err)
		}
		rec.TsIngest = time.Unix(0, tsNanos).UTC()
		if err := json.Unmarshal([]byte(raw), &rec.Packet); err != nil {
			return nil, fmt.Errorf("failed to unmarshal packet %s: %w", rec.EventID, err)
		}
		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate packets: %w", err)
	}

	return out, nil
}

// CountPackets returns the number of stored packets.
func (s *Store) CountPackets(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM packets").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count packets: %w", err)
	}
	return n, nil
}

// SaveSnapshot persists a graph snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.SnapshotID == "" {
		snap.SnapshotID = uuid.NewString()
	}
	if snap.TsSnapshot.IsZero() {
		snap.TsSnapshot = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (snapshot_id, schema_version, ts_snapshot, last_ingest, payload)
		VALUES (?, ?, ?, ?, ?)
	`, snap.SnapshotID, snap.SchemaVersion, snap.TsSnapshot.UnixNano(), snap.LastIngest.UnixNano(), string(snap.Payload))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

// GetLatestSnapshot returns the most recent snapshot, or nil if none exists.
func (s *Store) GetLatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var (
		snap       Snapshot
		tsSnap     int64
		lastIngest int64
		payload    string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, schema_version, ts_snapshot, last_ingest, payload
		FROM snapshots
		ORDER BY ts_snapshot DESC
		LIMIT 1
	`).Scan(&snap.SnapshotID, &snap.SchemaVersion, &tsSnap, &lastIngest, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	snap.TsSnapshot = time.Unix(0, tsSnap).UTC()
	snap.LastIngest = time.Unix(0, lastIngest).UTC()
	snap.Payload = json.RawMessage(payload)
	return &snap, nil
}

// PruneCutoff returns the instant up to which packets may be discarded:
// now minus retention, but never past the latest snapshot.
func (s *Store) PruneCutoff(ctx context.Context, retention time.Duration) (time.Time, error) {
	snap, err := s.GetLatestSnapshot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if snap == nil {
		return time.Time{}, ErrNoSnapshot
	}

	cutoff := time.Now().UTC().Add(-retention)
	if snap.LastIngest.Before(cutoff) {
		cutoff = snap.LastIngest
	}
	return cutoff, nil
}

// PrunePackets deletes packets older than retention. Packets not yet folded
// into the latest snapshot are always kept.
func (s *Store) PrunePackets(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff, err := s.PruneCutoff(ctx, retention)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM packets WHERE ts_ingest <= ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune packets: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n, nil
}

// ReadPacketsBefore returns up to limit packets ingested at or before
// cutoff, oldest first.
func (s *Store) ReadPacketsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*PacketRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, ts_ingest, packet FROM packets
		WHERE ts_ingest <= ?
		ORDER BY ts_ingest ASC, rowid ASC
		LIMIT ?
	`, cutoff.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate packets: %w", err)
	}
	defer rows.Close()
	return scanPackets(rows)
}

// DeletePackets removes packets by event id.
func (s *Store) DeletePackets(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM packets WHERE event_id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range eventIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to delete packet %s: %w", id, err)
		}
	}
	return tx.Commit()
}
