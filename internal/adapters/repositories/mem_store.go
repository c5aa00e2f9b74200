package repositories

import (
	"context"
	"fmt"
	"parcel-queue-service/internal/domain"
	"parcel-queue-service/internal/ports"
	"sort"
	"sync"
)

// In-memory implementation of the Store port for tests and demos. A mutex
// serializes whole transactions (stricter than the per-partition locking
// of the SQL store, never weaker) and a pre-transaction snapshot gives
// the same all-or-nothing rollback semantics.
type MemStore struct {
	mu       sync.Mutex
	nextID   int64
	parcels  map[string]*domain.Parcel // keyed by tracking number
	counters map[domain.Partition]int
	recycled map[domain.Partition][]string // kept sorted ascending
}

func NewMemStore() *MemStore {
	return &MemStore{
		parcels:  make(map[string]*domain.Parcel),
		counters: make(map[domain.Partition]int),
		recycled: make(map[domain.Partition][]string),
	}
}

func (m *MemStore) WithinTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	nextID   int64
	parcels  map[string]*domain.Parcel
	counters map[domain.Partition]int
	recycled map[domain.Partition][]string
}

func (m *MemStore) snapshot() memSnapshot {
	snap := memSnapshot{
		nextID:   m.nextID,
		parcels:  make(map[string]*domain.Parcel, len(m.parcels)),
		counters: make(map[domain.Partition]int, len(m.counters)),
		recycled: make(map[domain.Partition][]string, len(m.recycled)),
	}
	for k, p := range m.parcels {
		cp := *p
		snap.parcels[k] = &cp
	}
	for k, v := range m.counters {
		snap.counters[k] = v
	}
	for k, v := range m.recycled {
		snap.recycled[k] = append([]string(nil), v...)
	}
	return snap
}

func (m *MemStore) restore(snap memSnapshot) {
	m.nextID = snap.nextID
	m.parcels = snap.parcels
	m.counters = snap.counters
	m.recycled = snap.recycled
}

type memTx struct {
	m *MemStore
}

func (t *memTx) LockPartition(ctx context.Context, p domain.Partition) error {
	// The store mutex already serializes transactions; first use still
	// creates the counter entry like the SQL store does.
	if _, ok := t.m.counters[p]; !ok {
		t.m.counters[p] = 0
	}
	return nil
}

func (t *memTx) PopSmallestRecycled(ctx context.Context, p domain.Partition) (string, bool, error) {
	pool := t.m.recycled[p]
	if len(pool) == 0 {
		return "", false, nil
	}
	queue := pool[0]
	t.m.recycled[p] = pool[1:]
	return queue, true, nil
}

func (t *memTx) PushRecycled(ctx context.Context, p domain.Partition, queue string) error {
	pool := t.m.recycled[p]
	for _, q := range pool {
		if q == queue {
			return fmt.Errorf("push recycled %q: already pooled", queue)
		}
	}
	pool = append(pool, queue)
	sort.Strings(pool)
	t.m.recycled[p] = pool
	return nil
}

func (t *memTx) IncrementSeq(ctx context.Context, p domain.Partition) (int, error) {
	if _, ok := t.m.counters[p]; !ok {
		return 0, fmt.Errorf("increment seq: counter missing for %s/%s (partition not locked)", p.Carrier, p.Date)
	}
	t.m.counters[p]++
	return t.m.counters[p], nil
}

func (t *memTx) LastSeq(ctx context.Context, p domain.Partition) (int, error) {
	return t.m.counters[p], nil
}

func (t *memTx) InsertParcel(ctx context.Context, p *domain.Parcel) error {
	if _, ok := t.m.parcels[p.TrackingNumber]; ok {
		return fmt.Errorf("insert parcel %q: %w", p.TrackingNumber, domain.ErrDuplicateTracking)
	}
	t.m.nextID++
	p.ID = t.m.nextID
	cp := *p
	t.m.parcels[p.TrackingNumber] = &cp
	return nil
}

func (t *memTx) GetParcelByTracking(ctx context.Context, tracking string) (*domain.Parcel, error) {
	p, ok := t.m.parcels[tracking]
	if !ok {
		return nil, fmt.Errorf("get parcel %q: %w", tracking, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpdateParcel(ctx context.Context, p *domain.Parcel) error {
	for tracking, existing := range t.m.parcels {
		if existing.ID == p.ID {
			cp := *p
			t.m.parcels[tracking] = &cp
			return nil
		}
	}
	return fmt.Errorf("update parcel id=%d: %w", p.ID, domain.ErrNotFound)
}

func (t *memTx) DeleteParcel(ctx context.Context, id int64) error {
	for tracking, existing := range t.m.parcels {
		if existing.ID == id {
			delete(t.m.parcels, tracking)
			return nil
		}
	}
	return fmt.Errorf("delete parcel id=%d: %w", id, domain.ErrNotFound)
}

func (t *memTx) DeleteParcels(ctx context.Context, ids []int64, trackings []string) (int, error) {
	deleted := 0
	for tracking, existing := range t.m.parcels {
		match := false
		for _, id := range ids {
			if existing.ID == id {
				match = true
				break
			}
		}
		for _, tr := range trackings {
			if tracking == tr {
				match = true
				break
			}
		}
		if match {
			delete(t.m.parcels, tracking)
			deleted++
		}
	}
	return deleted, nil
}

func (t *memTx) ListParcels(ctx context.Context, limit int) ([]*domain.Parcel, error) {
	parcels := make([]*domain.Parcel, 0, len(t.m.parcels))
	for _, p := range t.m.parcels {
		cp := *p
		parcels = append(parcels, &cp)
	}
	sort.Slice(parcels, func(i, j int) bool {
		if !parcels[i].CreatedAt.Equal(parcels[j].CreatedAt) {
			return parcels[i].CreatedAt.After(parcels[j].CreatedAt)
		}
		return parcels[i].ID > parcels[j].ID
	})
	if len(parcels) > limit {
		parcels = parcels[:limit]
	}
	return parcels, nil
}
