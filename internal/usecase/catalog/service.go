// Package catalog loads upstream service listings into the vector catalog and manages it.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	dombatch "github.com/kailas-cloud/healthrec/internal/domain/batch"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
	"github.com/kailas-cloud/healthrec/internal/logger"
)

// Defaults for ingestion.
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 64
)

// idNamespace derives stable ids for upstream records that carry none.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://healthrec/services"))

// LoadOptions controls one ingestion run.
type LoadOptions struct {
	// Resource tags records that do not name their data source.
	Resource string
	// Keep picks the surviving record among duplicates.
	Keep service.KeepStrategy
	// BatchSize is the number of records embedded per provider call.
	BatchSize int
}

// Service ingests and manages the catalog.
type Service struct {
	store  Store
	embed  Embedder
	pool   *ants.Pool
	logger *zap.Logger
}

// New creates the catalog service with a bounded embedding worker pool. Call Close when done.
func New(store Store, embed Embedder, workers int, log *zap.Logger) (*Service, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create ingest pool: %w", err)
	}
	return &Service{store: store, embed: embed, pool: pool, logger: log}, nil
}

// Close releases the worker pool.
func (s *Service) Close() {
	s.pool.Release()
}

// Load parses a JSON array of upstream records, deduplicates, embeds and stores them.
// Per-record failures are reported in the result; the error is reserved for failures
// that stop the whole run (malformed input, index creation, cancellation).
func (s *Service) Load(ctx context.Context, r io.Reader, opts LoadOptions) (dombatch.Report, error) {
	raws, err := decodeArray(r)
	if err != nil {
		return dombatch.Report{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return s.ingest(ctx, raws, opts)
}

func (s *Service) ingest(ctx context.Context, raws []json.RawMessage, opts LoadOptions) (dombatch.Report, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Keep == "" {
		opts.Keep = service.KeepFirst
	}
	log := logger.FromContextOr(ctx, s.logger)

	var report dombatch.Report
	records := make([]service.Record, 0, len(raws))
	for i, raw := range raws {
		rec, warns, err := service.ParseRaw(raw)
		if err != nil {
			report.Results = append(report.Results,
				dombatch.NewError("", "", fmt.Errorf("record %d: %w: %w", i, domain.ErrInvalidInput, err)))
			continue
		}
		for _, w := range warns {
			log.Debug("Dropped record field",
				zap.String("service", rec.Name),
				zap.String("field", w.Field),
				zap.String("reason", w.Reason),
			)
		}
		report.Warnings += len(warns)

		if rec.Resource == "" {
			rec.Resource = strings.TrimSpace(opts.Resource)
		}
		if rec.ID == "" {
			rec.ID = uuid.NewSHA1(idNamespace, []byte(rec.Key())).String()
		}
		records = append(records, rec)
	}

	records, report.Duplicates = service.Dedup(records, opts.Keep)

	created, err := s.store.EnsureIndex(ctx)
	if err != nil {
		return report, fmt.Errorf("ensure index: %w", err)
	}
	if created {
		log.Info("Created catalog index")
	}

	stored := s.storeAll(ctx, records, opts.BatchSize)
	report.Results = append(report.Results, stored...)

	nCreated, nUpdated, nFailed := report.Counts()
	log.Info("Catalog load finished",
		zap.Int("records", len(raws)),
		zap.Int("created", nCreated),
		zap.Int("updated", nUpdated),
		zap.Int("failed", nFailed),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("warnings", report.Warnings),
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// storeAll embeds records in batches on the worker pool, then upserts them one by one
// in input order so the catalog insertion sequence follows the source file.
func (s *Service) storeAll(ctx context.Context, records []service.Record, batchSize int) []dombatch.Result {
	results := make([]dombatch.Result, len(records))
	failed := make([]error, len(records))
	var wg sync.WaitGroup

	offset := 0
	for chunk := range slices.Chunk(records, batchSize) {
		errs := failed[offset : offset+len(chunk)]
		offset += len(chunk)

		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			s.embedBatch(ctx, chunk, errs)
		})
		if err != nil {
			wg.Done()
			for i := range errs {
				errs[i] = fmt.Errorf("schedule batch: %w", err)
			}
		}
	}
	wg.Wait()

	for i := range records {
		rec := &records[i]
		if failed[i] != nil {
			results[i] = dombatch.NewError(rec.ID, rec.Name, failed[i])
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i] = dombatch.NewError(rec.ID, rec.Name, err)
			continue
		}
		created, err := s.store.Upsert(ctx, rec)
		if err != nil {
			results[i] = dombatch.NewError(rec.ID, rec.Name, err)
			continue
		}
		results[i] = dombatch.NewStored(rec.ID, rec.Name, created)
	}
	return results
}

// embedBatch sets Embedding on every record of chunk, or records the failure in errs.
func (s *Service) embedBatch(ctx context.Context, chunk []service.Record, errs []error) {
	fail := func(err error) {
		for i := range errs {
			errs[i] = err
		}
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	texts := make([]string, len(chunk))
	for i := range chunk {
		texts[i] = chunk[i].EmbeddingText()
	}
	res, err := s.embed.BatchEmbed(ctx, texts)
	if err != nil {
		fail(fmt.Errorf("embed: %w", err))
		return
	}
	if len(res.Embeddings) != len(chunk) {
		fail(fmt.Errorf("%w: got %d embeddings for %d records",
			domain.ErrEmbeddingProviderError, len(res.Embeddings), len(chunk)))
		return
	}
	for i := range chunk {
		chunk[i].Embedding = res.Embeddings[i]
	}
}

// decodeArray streams the elements of a top-level JSON array.
func decodeArray(r io.Reader) ([]json.RawMessage, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("input is empty")
		}
		return nil, fmt.Errorf("read input: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, errors.New("input must be a JSON array of service records")
	}

	var out []json.RawMessage
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("close array: %w", err)
	}
	return out, nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (service.Record, error) {
	return s.store.Get(ctx, id)
}

// Delete removes one record by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: service id is required", domain.ErrInvalidInput)
	}
	return s.store.Delete(ctx, id)
}

// Drop removes the index; purge also deletes the records. Returns the number of records deleted.
func (s *Service) Drop(ctx context.Context, purge bool) (int, error) {
	return s.store.Drop(ctx, purge)
}

// List returns all records in insertion order.
func (s *Service) List(ctx context.Context) ([]service.Record, error) {
	return s.store.List(ctx)
}

// Count returns the number of records.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}
