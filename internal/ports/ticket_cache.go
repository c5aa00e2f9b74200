package ports

import (
	"context"
	"parcel-queue-service/internal/domain"
)

// Port: lookup cache for parcel summaries keyed by tracking number.
// Purely an acceleration for reads; the store remains authoritative and
// every status transition invalidates the entry.
type TicketCache interface {
	Get(ctx context.Context, tracking string) (*domain.Parcel, bool, error)
	Set(ctx context.Context, p *domain.Parcel) error
	Invalidate(ctx context.Context, tracking string) error
}
