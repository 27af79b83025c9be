package engine

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rmax-ai/meshgraph/pkg/blob"
	"github.com/rmax-ai/meshgraph/pkg/store"
)

const defaultArchiveBatchSize = 1000

// Archiver moves covered packets out of the packet log into gzipped JSON
// lines blobs before they are deleted.
type Archiver struct {
	store     *store.Store
	blobStore blob.BlobStore
	batchSize int
	logger    *slog.Logger
}

func NewArchiver(st *store.Store, bs blob.BlobStore, batchSize int, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = defaultArchiveBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:     st,
		blobStore: bs,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Archive uploads and then deletes every packet ingested at or before
// cutoff, one batch per blob. It returns how many packets were moved; a
// failed upload leaves its batch in the log.
func (a *Archiver) Archive(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		records, err := a.store.ReadPacketsBefore(ctx, cutoff, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to read candidate packets: %w", err)
		}
		if len(records) == 0 {
			return total, nil
		}

		key, err := a.upload(ctx, records)
		if err != nil {
			return total, err
		}

		ids := make([]string, len(records))
		for i, rec := range records {
			ids[i] = rec.EventID
		}
		if err := a.store.DeletePackets(ctx, ids); err != nil {
			return total, fmt.Errorf("failed to delete archived packets: %w", err)
		}

		total += int64(len(records))
		MeshgraphArchivedPacketsTotal.Add(float64(len(records)))
		a.logger.Info("Archived packets", "key", key, "count", len(records))

		if len(records) < a.batchSize {
			return total, nil
		}
	}
}

func (a *Archiver) upload(ctx context.Context, records []*store.PacketRecord) (string, error) {
	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	encoder := json.NewEncoder(gzWriter)

	for _, rec := range records {
		if err := encoder.Encode(rec); err != nil {
			gzWriter.Close()
			return "", fmt.Errorf("failed to encode packet %s: %w", rec.EventID, err)
		}
	}
	if err := gzWriter.Close(); err != nil {
		return "", fmt.Errorf("failed to close gzip writer: %w", err)
	}

	// packets/YYYY/MM/DD/<first ts>_<last ts>_<uuid>.jsonl.gz
	first := records[0].TsIngest.UTC()
	last := records[len(records)-1].TsIngest.UTC()
	year, month, day := first.Date()
	key := fmt.Sprintf("packets/%04d/%02d/%02d/%d_%d_%s.jsonl.gz",
		year, month, day,
		first.Unix(),
		last.Unix(),
		uuid.NewString(),
	)

	if err := a.blobStore.Put(ctx, key, &buf); err != nil {
		return "", fmt.Errorf("failed to upload archive to blob store: %w", err)
	}
	return key, nil
}

// ReadArchive decodes one archive blob back into packet records.
func ReadArchive(ctx context.Context, bs blob.BlobStore, key string) ([]*store.PacketRecord, error) {
	rc, err := bs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", key, err)
	}
	defer gz.Close()

	var out []*store.PacketRecord
	dec := json.NewDecoder(gz)
	for dec.More() {
		var rec store.PacketRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode archive %s: %w", key, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}
