package databases

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entity is one stored record: an opaque JSON payload plus the filterable
// key/value tags callers indexed it under (entity kind, user_id, group_id,
// conversation_id, version, ...).
type Entity struct {
	ID      string
	Payload []byte
	Tags    map[string]string
}

// EntityStore is a pluggable JSON document store for whole domain records
// (MemCells, Episodes, EventLogs, Profiles) that don't fit the FullTextSearch
// (text) or VectorStore (embedding) shapes. It follows the same
// memory/postgres backend split as the rest of this package.
type EntityStore interface {
	Put(ctx context.Context, e Entity) error
	Get(ctx context.Context, id string) (Entity, bool, error)
	List(ctx context.Context, tags map[string]string, limit int) ([]Entity, error)
	Delete(ctx context.Context, id string) error
}

// memoryEntityStore is an in-process EntityStore for tests and the "memory"
// backend configuration.
type memoryEntityStore struct {
	mu      sync.RWMutex
	records map[string]Entity
	order   []string
}

func NewMemoryEntityStore() EntityStore {
	return &memoryEntityStore{records: make(map[string]Entity)}
}

func (m *memoryEntityStore) Put(_ context.Context, e Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[e.ID]; !exists {
		m.order = append(m.order, e.ID)
	}
	cp := e
	cp.Tags = copyMap(e.Tags)
	m.records[e.ID] = cp
	return nil
}

func (m *memoryEntityStore) Get(_ context.Context, id string) (Entity, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[id]
	return e, ok, nil
}

func (m *memoryEntityStore) List(_ context.Context, tags map[string]string, limit int) ([]Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entity, 0, len(m.order))
	for _, id := range m.order {
		e := m.records[id]
		if metaMatches(e.Tags, tags) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memoryEntityStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// pgEntityStore persists entities as JSONB rows with a GIN-indexed tags
// column, mirroring pgSearch's bootstrap-on-construct pattern.
type pgEntityStore struct{ pool *pgxpool.Pool }

func NewPostgresEntityStore(pool *pgxpool.Pool) EntityStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS entities (
  id TEXT PRIMARY KEY,
  payload JSONB NOT NULL,
  tags JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS entities_tags_idx ON entities USING GIN (tags)`)
	return &pgEntityStore{pool: pool}
}

func (p *pgEntityStore) Put(ctx context.Context, e Entity) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO entities(id, payload, tags) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET payload=EXCLUDED.payload, tags=EXCLUDED.tags
`, e.ID, e.Payload, mapToJSON(e.Tags))
	return err
}

func (p *pgEntityStore) Get(ctx context.Context, id string) (Entity, bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, payload, tags FROM entities WHERE id=$1`, id)
	var e Entity
	var tags map[string]string
	if err := row.Scan(&e.ID, &e.Payload, &tags); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return Entity{}, false, nil
		}
		return Entity{}, false, err
	}
	e.Tags = tags
	return e, true, nil
}

func (p *pgEntityStore) List(ctx context.Context, tags map[string]string, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, payload, tags FROM entities
WHERE tags @> $1
ORDER BY created_at ASC
LIMIT $2
`, mapToJSON(tags), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Entity, 0, limit)
	for rows.Next() {
		var e Entity
		var t map[string]string
		if err := rows.Scan(&e.ID, &e.Payload, &t); err != nil {
			return nil, err
		}
		e.Tags = t
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *pgEntityStore) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM entities WHERE id=$1`, id)
	return err
}
