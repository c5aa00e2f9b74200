package services

import (
	"context"
	"fmt"
	"parcel-queue-service/internal/domain"
	"parcel-queue-service/internal/ports"
)

// Allocator hands out queue tickets for a partition. All reads and writes
// go through the caller's transaction, so an aborted check-in issues
// nothing and a committed one issues exactly one number. The lifecycle
// manager is the only caller.
type Allocator struct {
	Format domain.TicketFormat
}

func NewAllocator(format domain.TicketFormat) *Allocator {
	return &Allocator{Format: format}
}

// Allocate returns the next queue number for the partition: the smallest
// recycled number when the pool has one, otherwise a fresh increment of
// the partition counter. The partition lock is taken before either read
// and held until the surrounding transaction ends, which serializes
// concurrent check-ins on the same (carrier, day) — two simultaneous
// callers can never observe the same last_seq or claim the same recycled
// row.
func (a *Allocator) Allocate(ctx context.Context, tx ports.Tx, p domain.Partition) (string, error) {
	if err := tx.LockPartition(ctx, p); err != nil {
		return "", allocationErr(p, "lock partition", err)
	}

	// Gap-filling beats sequence growth: a released ticket is reissued
	// before last_seq moves.
	queue, ok, err := tx.PopSmallestRecycled(ctx, p)
	if err != nil {
		return "", allocationErr(p, "pop recycled", err)
	}
	if ok {
		return queue, nil
	}

	seq, err := tx.IncrementSeq(ctx, p)
	if err != nil {
		return "", allocationErr(p, "increment counter", err)
	}

	return a.Format.Format(seq, p.Date), nil
}

// Storage failures during allocation are retryable from the caller's point
// of view: the transaction rolls back and no number stays reserved.
func allocationErr(p domain.Partition, step string, err error) error {
	return fmt.Errorf("allocate %s/%s: %s: %w: %w", p.Carrier, p.Date, step, domain.ErrAllocation, err)
}
