// Package catalog persists service records as hashes indexed for KNN search.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/kailas-cloud/healthrec/internal/db"
	dbredis "github.com/kailas-cloud/healthrec/internal/db/redis"
	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
)

// Hash fields.
const (
	fieldVector      = "__vector"
	fieldSeq         = "__seq"
	fieldPayload     = "payload"
	fieldName        = "name"
	fieldResource    = string(filter.FieldResource)
	fieldServiceType = string(filter.FieldServiceType)
	vectorAlias      = "vector"
)

// store is the consumer interface for the catalog (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	Incr(ctx context.Context, key string) (int64, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Config names the collection and its vector index parameters.
type Config struct {
	Collection      string
	KeyPrefix       string
	Dimensions      int
	HNSWM           int
	HNSWEFConstruct int
}

// Repo implements the service catalog store.
type Repo struct {
	store store
	cfg   Config
}

// New creates a catalog repository.
func New(s store, cfg Config) *Repo {
	return &Repo{store: s, cfg: cfg}
}

// IndexName is the FT index backing the collection.
func (r *Repo) IndexName() string {
	return r.cfg.KeyPrefix + r.cfg.Collection
}

func (r *Repo) keyPrefix() string {
	return r.cfg.KeyPrefix + r.cfg.Collection + ":svc:"
}

func (r *Repo) recordKey(id string) string {
	return r.keyPrefix() + id
}

func (r *Repo) seqKey() string {
	return r.cfg.KeyPrefix + r.cfg.Collection + ":seq"
}

func (r *Repo) indexDefinition() (*db.IndexDefinition, error) {
	def, err := db.NewIndex(r.IndexName()).
		Prefix(r.keyPrefix()).
		Text(fieldName).
		Tag(fieldResource).
		Tag(fieldServiceType).
		Numeric(fieldSeq, true).
		VectorHNSW(fieldVector, vectorAlias, r.cfg.Dimensions, db.DistanceCosine, r.cfg.HNSWM, r.cfg.HNSWEFConstruct).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build index definition: %w", err)
	}
	return def, nil
}

// EnsureIndex creates the collection index when missing. Returns true if created.
func (r *Repo) EnsureIndex(ctx context.Context) (bool, error) {
	exists, err := r.store.IndexExists(ctx, r.IndexName())
	if err != nil {
		return false, fmt.Errorf("check index: %w", err)
	}
	if exists {
		return false, nil
	}

	def, err := r.indexDefinition()
	if err != nil {
		return false, err
	}
	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return false, nil
		}
		return false, fmt.Errorf("create index: %w", err)
	}
	return true, nil
}

// Drop removes the index and, when purge is set, every record and the sequence counter.
func (r *Repo) Drop(ctx context.Context, purge bool) (int, error) {
	if err := r.store.DropIndex(ctx, r.IndexName()); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return 0, fmt.Errorf("drop index: %w", err)
	}
	if !purge {
		return 0, nil
	}

	keys, err := r.store.Scan(ctx, r.keyPrefix()+"*")
	if err != nil {
		return 0, fmt.Errorf("scan records: %w", err)
	}

	deleted := 0
	for chunk := range slices.Chunk(keys, 500) {
		n, err := r.store.Del(ctx, chunk...)
		if err != nil {
			return deleted, fmt.Errorf("delete records: %w", err)
		}
		deleted += int(n)
	}
	if _, err := r.store.Del(ctx, r.seqKey()); err != nil {
		return deleted, fmt.Errorf("delete sequence: %w", err)
	}
	return deleted, nil
}

// Upsert stores a record with its embedding. Returns true if the record is new.
// Existing records keep their insertion sequence.
func (r *Repo) Upsert(ctx context.Context, rec *service.Record) (bool, error) {
	if err := rec.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if r.cfg.Dimensions > 0 && len(rec.Embedding) != r.cfg.Dimensions {
		return false, fmt.Errorf("%w: service %s: embedding has %d dimensions, index expects %d",
			domain.ErrInvalidInput, rec.ID, len(rec.Embedding), r.cfg.Dimensions)
	}

	key := r.recordKey(rec.ID)
	existing, err := r.store.HMGet(ctx, key, fieldSeq)
	if err != nil {
		return false, fmt.Errorf("read sequence %s: %w", key, err)
	}

	seq, created := existing[fieldSeq], false
	if seq == "" {
		n, err := r.store.Incr(ctx, r.seqKey())
		if err != nil {
			return false, fmt.Errorf("allocate sequence: %w", err)
		}
		seq, created = strconv.FormatInt(n, 10), true
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal service %s: %w", rec.ID, err)
	}

	fields := map[string]string{
		fieldVector:      dbredis.VectorToBytes(rec.Embedding),
		fieldSeq:         seq,
		fieldPayload:     string(payload),
		fieldName:        rec.Name,
		fieldResource:    rec.Resource,
		fieldServiceType: rec.ServiceType,
	}
	if err := r.store.HSet(ctx, key, fields); err != nil {
		return false, fmt.Errorf("hset %s: %w", key, err)
	}
	return created, nil
}

// Get returns a record, embedding included.
func (r *Repo) Get(ctx context.Context, id string) (service.Record, error) {
	key := r.recordKey(id)
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return service.Record{}, domain.ErrServiceNotFound
		}
		return service.Record{}, fmt.Errorf("hgetall %s: %w", key, err)
	}

	rec, _, err := decodeRecord(fields)
	if err != nil {
		return service.Record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	if blob, ok := fields[fieldVector]; ok {
		if rec.Embedding, err = dbredis.BytesToVector([]byte(blob)); err != nil {
			return service.Record{}, fmt.Errorf("decode vector %s: %w", key, err)
		}
	}
	return rec, nil
}

// Delete removes a record.
func (r *Repo) Delete(ctx context.Context, id string) error {
	n, err := r.store.Del(ctx, r.recordKey(id))
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrServiceNotFound
	}
	return nil
}

// List returns every record in insertion order, without embeddings.
func (r *Repo) List(ctx context.Context) ([]service.Record, error) {
	keys, err := r.store.Scan(ctx, r.keyPrefix()+"*")
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	if len(keys) == 0 {
		return []service.Record{}, nil
	}

	type entry struct {
		rec service.Record
		seq int64
	}
	entries := make([]entry, 0, len(keys))

	for chunk := range slices.Chunk(keys, 200) {
		rows, err := r.store.HGetAllMulti(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("load records: %w", err)
		}
		for _, fields := range rows {
			if fields == nil {
				continue // deleted between SCAN and HGETALL
			}
			rec, seq, err := decodeRecord(fields)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry{rec: rec, seq: seq})
		}
	}

	slices.SortFunc(entries, func(a, b entry) int {
		if a.seq != b.seq {
			if a.seq < b.seq {
				return -1
			}
			return 1
		}
		return strings.Compare(a.rec.ID, b.rec.ID)
	})

	out := make([]service.Record, len(entries))
	for i := range entries {
		out[i] = entries[i].rec
	}
	return out, nil
}

// Count returns the number of stored records.
func (r *Repo) Count(ctx context.Context) (int, error) {
	keys, err := r.store.Scan(ctx, r.keyPrefix()+"*")
	if err != nil {
		return 0, fmt.Errorf("scan records: %w", err)
	}
	return len(keys), nil
}

// Search returns up to k nearest records by cosine similarity, best first,
// ties broken by insertion order. A missing index is an empty catalog.
func (r *Repo) Search(ctx context.Context, vector []float32, k int, filters filter.Expression) (candidate.Set, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.IndexName(),
		VectorField:  vectorAlias,
		Filters:      filters,
		Vector:       vector,
		K:            k,
		ReturnFields: []string{fieldPayload, fieldSeq},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return candidate.Set{}, nil
		}
		return nil, fmt.Errorf("knn search: %w", err)
	}

	set := make(candidate.Set, 0, len(res.Entries))
	for _, e := range res.Entries {
		rec, seq, err := decodeRecord(e.Fields)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		set = append(set, candidate.Candidate{Record: rec, Score: e.Score, Seq: seq})
	}
	set.Sort()
	return set, nil
}

func decodeRecord(fields map[string]string) (service.Record, int64, error) {
	var rec service.Record
	payload, ok := fields[fieldPayload]
	if !ok {
		return rec, 0, errors.New("record payload is missing")
	}
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return rec, 0, fmt.Errorf("unmarshal payload: %w", err)
	}
	seq, _ := strconv.ParseInt(fields[fieldSeq], 10, 64)
	return rec, seq, nil
}
