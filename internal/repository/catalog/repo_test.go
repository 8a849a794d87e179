package catalog

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kailas-cloud/healthrec/internal/db"
	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
	"github.com/kailas-cloud/healthrec/internal/domain/geo"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
)

func record(id, name string) *service.Record {
	return &service.Record{
		ID:        id,
		Name:      name,
		Resource:  "211",
		Location:  &geo.Point{Lat: 43.7, Lon: -79.4},
		Embedding: []float32{0.1, 0.2, 0.3},
	}
}

func TestEnsureIndex(t *testing.T) {
	s := newMockStore()
	r := New(s, testConfig())
	ctx := context.Background()

	created, err := r.EnsureIndex(ctx)
	if err != nil || !created {
		t.Fatalf("first EnsureIndex = %v, %v", created, err)
	}
	def := s.indexes["hr:test"]
	if def == nil {
		t.Fatal("index not created")
	}
	if def.Prefixes[0] != "hr:test:svc:" {
		t.Errorf("prefix = %q", def.Prefixes[0])
	}
	if v := def.VectorField(); v == nil || v.VectorDim != 3 || v.VectorDistance != db.DistanceCosine {
		t.Errorf("vector field = %+v", v)
	}

	created, err = r.EnsureIndex(ctx)
	if err != nil || created {
		t.Fatalf("second EnsureIndex = %v, %v", created, err)
	}
}

func TestUpsert_SequenceStable(t *testing.T) {
	s := newMockStore()
	r := New(s, testConfig())
	ctx := context.Background()

	created, err := r.Upsert(ctx, record("a", "Clinic"))
	if err != nil || !created {
		t.Fatalf("upsert a = %v, %v", created, err)
	}
	if _, err := r.Upsert(ctx, record("b", "Shelter")); err != nil {
		t.Fatalf("upsert b: %v", err)
	}

	updated := record("a", "Clinic (renamed)")
	created, err = r.Upsert(ctx, updated)
	if err != nil || created {
		t.Fatalf("re-upsert a = %v, %v", created, err)
	}

	if got := s.hashes["hr:test:svc:a"][fieldSeq]; got != "1" {
		t.Errorf("seq of a = %q, want 1", got)
	}
	if got := s.hashes["hr:test:svc:b"][fieldSeq]; got != "2" {
		t.Errorf("seq of b = %q, want 2", got)
	}
	if got := s.hashes["hr:test:svc:a"][fieldName]; got != "Clinic (renamed)" {
		t.Errorf("name = %q", got)
	}
}

func TestUpsert_Invalid(t *testing.T) {
	r := New(newMockStore(), testConfig())
	ctx := context.Background()

	noName := record("a", "")
	if _, err := r.Upsert(ctx, noName); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing name, got %v", err)
	}

	wrongDim := record("a", "Clinic")
	wrongDim.Embedding = []float32{1}
	if _, err := r.Upsert(ctx, wrongDim); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for wrong dims, got %v", err)
	}
}

func TestUpsert_StoreError(t *testing.T) {
	s := newMockStore()
	s.hsetErr = errors.New("READONLY")
	r := New(s, testConfig())

	if _, err := r.Upsert(context.Background(), record("a", "Clinic")); err == nil {
		t.Fatal("expected error")
	}
}

func TestGet(t *testing.T) {
	s := newMockStore()
	r := New(s, testConfig())
	ctx := context.Background()

	in := record("a", "Clinic")
	md := service.NewMetadata()
	md.Set("hours", "9-5")
	in.Metadata = md
	if _, err := r.Upsert(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := r.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Clinic" || got.Location == nil || got.Location.Lat != 43.7 {
		t.Errorf("unexpected record %+v", got)
	}
	if !slices.Equal(got.Embedding, in.Embedding) {
		t.Errorf("embedding = %v", got.Embedding)
	}
	if v, ok := got.Metadata.Get("hours"); !ok || v != "9-5" {
		t.Errorf("metadata hours = %v", v)
	}

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, domain.ErrServiceNotFound) {
		t.Errorf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newMockStore()
	r := New(s, testConfig())
	ctx := context.Background()

	if _, err := r.Upsert(ctx, record("a", "Clinic")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := r.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Delete(ctx, "a"); !errors.Is(err, domain.ErrServiceNotFound) {
		t.Errorf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestListAndCount_InsertionOrder(t *testing.T) {
	s := newMockStore()
	r := New(s, testConfig())
	ctx := context.Background()

	for _, id := range []string{"z", "m", "a"} {
		if _, err := r.Upsert(ctx, record(id, "svc "+id)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, rec := range list {
		ids = append(ids, rec.ID)
		if rec.Embedding != nil {
			t.Error("list must not carry embeddings")
		}
	}
	if !slices.Equal(ids, []string{"z", "m", "a"}) {
		t.Errorf("ids = %v", ids)
	}

	n, err := r.Count(ctx)
	if err != nil || n != 3 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestList_Empty(t *testing.T) {
	list, err := New(newMockStore(), testConfig()).List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty non-nil list, got %v", list)
	}
}

func TestCount_ScanError(t *testing.T) {
	s := newMockStore()
	s.scanErr = errors.New("conn reset")
	if _, err := New(s, testConfig()).Count(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch_OrdersAndDecodes(t *testing.T) {
	s := newMockStore()
	r := New(s, testConfig())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := r.Upsert(ctx, record(id, "svc "+id)); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	var got *db.KNNQuery
	s.searchFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		got = q
		return &db.SearchResult{Total: 3, Entries: []db.SearchEntry{
			{Key: "hr:test:svc:c", Score: 0.8, Fields: s.hashes["hr:test:svc:c"]},
			{Key: "hr:test:svc:b", Score: 0.9, Fields: s.hashes["hr:test:svc:b"]},
			{Key: "hr:test:svc:a", Score: 0.8, Fields: s.hashes["hr:test:svc:a"]},
		}}, nil
	}

	expr, _ := filter.Parse([]string{"resource=211"})
	set, err := r.Search(ctx, []float32{1, 0, 0}, 20, expr)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if want := []string{"b", "a", "c"}; !slices.Equal(set.IDs(), want) {
		t.Errorf("order = %v, want %v", set.IDs(), want)
	}
	if got.K != 20 || got.IndexName != "hr:test" || got.VectorField != "vector" || got.Filters.IsEmpty() {
		t.Errorf("unexpected query %+v", got)
	}
}

func TestSearch_MissingIndexIsEmpty(t *testing.T) {
	s := newMockStore()
	s.searchFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, db.ErrIndexNotFound
	}
	set, err := New(s, testConfig()).Search(context.Background(), []float32{1, 0, 0}, 5, filter.Expression{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("expected empty set, got %d", len(set))
	}
}

func TestSearch_StoreError(t *testing.T) {
	s := newMockStore()
	s.searchFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, &db.Error{Op: db.OpSearch, Err: errors.New("LOADING")}
	}
	if _, err := New(s, testConfig()).Search(context.Background(), []float32{1, 0, 0}, 5, filter.Expression{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDrop_Purge(t *testing.T) {
	s := newMockStore()
	r := New(s, testConfig())
	ctx := context.Background()

	if _, err := r.EnsureIndex(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := r.Upsert(ctx, record(id, "svc")); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	n, err := r.Drop(ctx, true)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if len(s.indexes) != 0 || len(s.hashes) != 0 || len(s.counter) != 0 {
		t.Errorf("store not empty: %d indexes, %d hashes, %d counters", len(s.indexes), len(s.hashes), len(s.counter))
	}

	// Dropping again is a no-op.
	if _, err := r.Drop(ctx, false); err != nil {
		t.Fatalf("second drop: %v", err)
	}
}
