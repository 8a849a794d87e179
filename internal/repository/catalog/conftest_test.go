package catalog

import (
	"context"
	"strings"

	"github.com/kailas-cloud/healthrec/internal/db"
)

// mockStore is an in-memory hash store with overridable search and failure hooks.
type mockStore struct {
	hashes  map[string]map[string]string
	counter map[string]int64
	indexes map[string]*db.IndexDefinition

	searchFn func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	hsetErr  error
	scanErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		hashes:  map[string]map[string]string{},
		counter: map[string]int64{},
		indexes: map[string]*db.IndexDefinition{},
	}
}

func (m *mockStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if m.hsetErr != nil {
		return m.hsetErr
	}
	h, ok := m.hashes[key]
	if !ok {
		h = map[string]string{}
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	h, ok := m.hashes[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return h, nil
}

func (m *mockStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = m.hashes[k]
	}
	return out, nil
}

func (m *mockStore) HMGet(_ context.Context, key string, fields ...string) (map[string]string, error) {
	out := map[string]string{}
	for _, f := range fields {
		if v, ok := m.hashes[key][f]; ok {
			out[f] = v
		}
	}
	return out, nil
}

func (m *mockStore) Del(_ context.Context, keys ...string) (int64, error) {
	var n int64
	for _, k := range keys {
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
		}
		if _, ok := m.counter[k]; ok {
			delete(m.counter, k)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) Scan(_ context.Context, pattern string) ([]string, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *mockStore) Incr(_ context.Context, key string) (int64, error) {
	m.counter[key]++
	return m.counter[key], nil
}

func (m *mockStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	if _, ok := m.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	m.indexes[def.Name] = def
	return nil
}

func (m *mockStore) DropIndex(_ context.Context, name string) error {
	if _, ok := m.indexes[name]; !ok {
		return db.ErrIndexNotFound
	}
	delete(m.indexes, name)
	return nil
}

func (m *mockStore) IndexExists(_ context.Context, name string) (bool, error) {
	_, ok := m.indexes[name]
	return ok, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func testConfig() Config {
	return Config{Collection: "test", KeyPrefix: "hr:", Dimensions: 3, HNSWM: 16, HNSWEFConstruct: 200}
}
