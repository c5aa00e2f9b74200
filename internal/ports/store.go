package ports

import (
	"context"
	"parcel-queue-service/internal/domain"
)

// Port: transactional storage boundary for the queue core. One WithinTx
// call is one transaction; fn returning an error rolls everything back,
// so a failed check-in never leaks a counter increment or a popped
// recycled number.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the row-level operations the allocator and lifecycle manager
// compose inside one transaction. The allocator exclusively owns counter
// and recycle-pool mutation; the lifecycle manager owns parcel mutation.
type Tx interface {
	// Acquire the exclusive per-partition lock, creating the counter row
	// on first use. Held until the surrounding transaction ends.
	LockPartition(ctx context.Context, p domain.Partition) error

	// Remove and return the smallest recycled queue number for the
	// partition. ok is false when the pool is empty.
	PopSmallestRecycled(ctx context.Context, p domain.Partition) (queue string, ok bool, err error)

	// Return a previously issued queue number to the partition's pool.
	// A given number is in the pool at most once.
	PushRecycled(ctx context.Context, p domain.Partition, queue string) error

	// Increment and return the partition's last_seq. The counter row must
	// already exist (LockPartition creates it).
	IncrementSeq(ctx context.Context, p domain.Partition) (int, error)

	// Current last_seq without mutation; 0 for an unseen partition.
	LastSeq(ctx context.Context, p domain.Partition) (int, error)

	// InsertParcel persists a new parcel and fills in its ID. A tracking
	// number collision yields domain.ErrDuplicateTracking.
	InsertParcel(ctx context.Context, p *domain.Parcel) error

	// GetParcelByTracking yields domain.ErrNotFound for unknown numbers.
	GetParcelByTracking(ctx context.Context, tracking string) (*domain.Parcel, error)

	// UpdateParcel writes status and recipient fields by ID.
	UpdateParcel(ctx context.Context, p *domain.Parcel) error

	DeleteParcel(ctx context.Context, id int64) error

	// DeleteParcels removes parcels by id and by tracking number
	// regardless of status, without recycling. Returns rows removed.
	DeleteParcels(ctx context.Context, ids []int64, trackings []string) (int, error)

	// ListParcels returns the most recently created parcels first.
	ListParcels(ctx context.Context, limit int) ([]*domain.Parcel, error)
}
