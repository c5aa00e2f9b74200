package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"parcel-queue-service/internal/domain"
	"parcel-queue-service/internal/platform/obs"
	"parcel-queue-service/internal/ports"
	"strings"
	"time"
)

const DefaultListLimit = 200

type CreateRequest struct {
	TrackingNumber string
	Carrier        string
	RecipientName  string
	RecipientPhone string
	// Provisional check-ins start PENDING and may be deleted (which
	// recycles the ticket); otherwise the parcel starts RECEIVED.
	Provisional bool
	Actor       string
}

type CreateResult struct {
	ID          int64
	QueueNumber string
	Status      domain.Status
}

// TransitionResult reports the outcome of confirm/pickup calls. Changed is
// false when the call was an idempotent no-op (the parcel was already in
// or past the target status).
type TransitionResult struct {
	QueueNumber   string
	Status        domain.Status
	RecipientName string
	Changed       bool

	parcelID int64
}

// Parcels owns the parcel state machine. It is the only caller of the
// Allocator, pairs every allocation with the parcel insert in one
// transaction, and emits a best-effort audit event per real transition.
type Parcels struct {
	store ports.Store
	alloc *Allocator
	audit ports.AuditSink
	cache ports.TicketCache
	now   func() time.Time
}

// audit and cache may be nil; both are optional collaborators.
func NewParcels(store ports.Store, alloc *Allocator, audit ports.AuditSink, cache ports.TicketCache) *Parcels {
	return &Parcels{
		store: store,
		alloc: alloc,
		audit: audit,
		cache: cache,
		now:   time.Now,
	}
}

// Create checks a parcel in, allocating its queue ticket and persisting
// the row in the same transaction. If the insert fails after a number was
// popped or incremented, the rollback returns it, so numbers never leak.
func (s *Parcels) Create(ctx context.Context, req CreateRequest) (res *CreateResult, err error) {
	defer obs.Time(ctx, "create_parcel")(&err)

	tracking := strings.TrimSpace(req.TrackingNumber)
	if tracking == "" {
		return nil, fmt.Errorf("create parcel: %w: tracking number must not be empty", domain.ErrValidation)
	}

	status := domain.StatusReceived
	if req.Provisional {
		status = domain.StatusPending
	}

	parcel := &domain.Parcel{
		TrackingNumber: tracking,
		Carrier:        strings.TrimSpace(req.Carrier),
		Status:         status,
		RecipientName:  strings.TrimSpace(req.RecipientName),
		RecipientPhone: strings.TrimSpace(req.RecipientPhone),
		CreatedAt:      s.now().UTC(),
	}
	part := domain.PartitionFor(parcel.Carrier, parcel.CreatedAt)

	err = s.store.WithinTx(ctx, func(tx ports.Tx) error {
		// The pre-check narrows the duplicate window; the uniqueness
		// constraint on tracking_number closes it (InsertParcel maps the
		// violation to ErrDuplicateTracking).
		if _, err := tx.GetParcelByTracking(ctx, tracking); err == nil {
			return fmt.Errorf("create parcel %q: %w", tracking, domain.ErrDuplicateTracking)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("create parcel %q: duplicate pre-check: %w", tracking, err)
		}

		queue, err := s.alloc.Allocate(ctx, tx, part)
		if err != nil {
			return fmt.Errorf("create parcel %q: %w", tracking, err)
		}
		parcel.QueueNumber = queue

		if err := tx.InsertParcel(ctx, parcel); err != nil {
			return fmt.Errorf("create parcel %q: insert: %w", tracking, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, parcel.ID, "create", req.Actor,
		fmt.Sprintf("tracking=%s queue=%s status=%s", tracking, parcel.QueueNumber, parcel.Status))

	return &CreateResult{ID: parcel.ID, QueueNumber: parcel.QueueNumber, Status: parcel.Status}, nil
}

// ConfirmPending promotes a provisional parcel to RECEIVED. A parcel that
// is not currently PENDING is left untouched and reported as unchanged.
func (s *Parcels) ConfirmPending(ctx context.Context, tracking, actor string) (res *TransitionResult, err error) {
	defer obs.Time(ctx, "confirm_pending")(&err)

	out := &TransitionResult{}
	err = s.store.WithinTx(ctx, func(tx ports.Tx) error {
		parcel, err := tx.GetParcelByTracking(ctx, tracking)
		if err != nil {
			return fmt.Errorf("confirm pending %q: %w", tracking, err)
		}

		out.QueueNumber = parcel.QueueNumber
		out.Status = parcel.Status
		out.RecipientName = parcel.RecipientName
		if parcel.Status != domain.StatusPending {
			return nil
		}

		parcel.Status = domain.StatusReceived
		if err := tx.UpdateParcel(ctx, parcel); err != nil {
			return fmt.Errorf("confirm pending %q: update: %w", tracking, err)
		}
		out.Status = parcel.Status
		out.Changed = true
		out.parcelID = parcel.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Changed {
		s.afterTransition(ctx, out.parcelID, "confirm", actor,
			fmt.Sprintf("tracking=%s queue=%s", tracking, out.QueueNumber), tracking)
	}
	return out, nil
}

// ConfirmPickup hands the parcel over. Repeated calls on an already
// picked-up parcel are a successful no-op so retried requests are safe;
// only the real transition updates the recipient name and emits audit.
func (s *Parcels) ConfirmPickup(ctx context.Context, tracking, recipientName, actor string) (res *TransitionResult, err error) {
	defer obs.Time(ctx, "confirm_pickup")(&err)

	out := &TransitionResult{}
	err = s.store.WithinTx(ctx, func(tx ports.Tx) error {
		parcel, err := tx.GetParcelByTracking(ctx, tracking)
		if err != nil {
			return fmt.Errorf("confirm pickup %q: %w", tracking, err)
		}

		out.QueueNumber = parcel.QueueNumber
		out.Status = parcel.Status
		out.RecipientName = parcel.RecipientName
		if parcel.Status == domain.StatusPickedUp {
			return nil
		}

		parcel.Status = domain.StatusPickedUp
		if name := strings.TrimSpace(recipientName); name != "" {
			parcel.RecipientName = name
		}
		if err := tx.UpdateParcel(ctx, parcel); err != nil {
			return fmt.Errorf("confirm pickup %q: update: %w", tracking, err)
		}
		out.Status = parcel.Status
		out.RecipientName = parcel.RecipientName
		out.Changed = true
		out.parcelID = parcel.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Changed {
		s.afterTransition(ctx, out.parcelID, "pickup", actor,
			fmt.Sprintf("tracking=%s queue=%s recipient=%s", tracking, out.QueueNumber, out.RecipientName), tracking)
	}
	return out, nil
}

// DeleteProvisional removes a PENDING parcel and returns its ticket to the
// recycle pool of the partition the ticket was issued in, atomically. Any
// other status is an illegal transition and mutates nothing.
func (s *Parcels) DeleteProvisional(ctx context.Context, tracking, actor string) (err error) {
	defer obs.Time(ctx, "delete_provisional")(&err)

	var parcelID int64
	var queue string
	err = s.store.WithinTx(ctx, func(tx ports.Tx) error {
		parcel, err := tx.GetParcelByTracking(ctx, tracking)
		if err != nil {
			return fmt.Errorf("delete provisional %q: %w", tracking, err)
		}
		if !parcel.Deletable() {
			return fmt.Errorf("delete provisional %q: status is %s: %w",
				tracking, parcel.Status, domain.ErrIllegalTransition)
		}

		// The ticket returns to its original partition (the date embedded
		// in the ticket), not necessarily today's.
		part := domain.Partition{Carrier: parcel.Carrier, Date: domain.TicketDate(parcel.QueueNumber)}
		if err := tx.LockPartition(ctx, part); err != nil {
			return fmt.Errorf("delete provisional %q: lock partition: %w", tracking, err)
		}
		if err := tx.PushRecycled(ctx, part, parcel.QueueNumber); err != nil {
			return fmt.Errorf("delete provisional %q: recycle %s: %w", tracking, parcel.QueueNumber, err)
		}
		if err := tx.DeleteParcel(ctx, parcel.ID); err != nil {
			return fmt.Errorf("delete provisional %q: delete row: %w", tracking, err)
		}
		parcelID = parcel.ID
		queue = parcel.QueueNumber
		return nil
	})
	if err != nil {
		return err
	}

	s.afterTransition(ctx, parcelID, "delete", actor,
		fmt.Sprintf("tracking=%s queue=%s recycled", tracking, queue), tracking)
	return nil
}

// BulkDelete removes an arbitrary set of parcels by id or tracking number
// regardless of status. Their tickets were genuinely used and are not
// recycled.
func (s *Parcels) BulkDelete(ctx context.Context, ids []int64, trackings []string, actor string) (deleted int, err error) {
	defer obs.Time(ctx, "bulk_delete")(&err)

	err = s.store.WithinTx(ctx, func(tx ports.Tx) error {
		n, err := tx.DeleteParcels(ctx, ids, trackings)
		if err != nil {
			return fmt.Errorf("bulk delete: %w", err)
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, tracking := range trackings {
		s.invalidate(ctx, tracking)
	}
	s.recordAudit(ctx, 0, "bulk_delete", actor,
		fmt.Sprintf("ids=%d trackings=%d deleted=%d", len(ids), len(trackings), deleted))
	return deleted, nil
}

// Get looks a parcel up by tracking number, reading through the ticket
// cache when one is wired.
func (s *Parcels) Get(ctx context.Context, tracking string) (parcel *domain.Parcel, err error) {
	defer obs.Time(ctx, "get_parcel")(&err)

	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, tracking); err != nil {
			log.Printf("ticket cache get failed: tracking=%s err=%v", tracking, err)
		} else if ok {
			return cached, nil
		}
	}

	err = s.store.WithinTx(ctx, func(tx ports.Tx) error {
		p, err := tx.GetParcelByTracking(ctx, tracking)
		if err != nil {
			return fmt.Errorf("get parcel %q: %w", tracking, err)
		}
		parcel = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, parcel); err != nil {
			log.Printf("ticket cache set failed: tracking=%s err=%v", tracking, err)
		}
	}
	return parcel, nil
}

// List returns the most recently checked-in parcels, newest first.
func (s *Parcels) List(ctx context.Context, limit int) (parcels []*domain.Parcel, err error) {
	defer obs.Time(ctx, "list_parcels")(&err)

	if limit <= 0 {
		limit = DefaultListLimit
	}
	err = s.store.WithinTx(ctx, func(tx ports.Tx) error {
		ps, err := tx.ListParcels(ctx, limit)
		if err != nil {
			return fmt.Errorf("list parcels: %w", err)
		}
		parcels = ps
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parcels, nil
}

// afterTransition pairs the audit event and cache invalidation every real
// state change needs. Both are best-effort.
func (s *Parcels) afterTransition(ctx context.Context, id int64, action, actor, details, tracking string) {
	s.recordAudit(ctx, id, action, actor, details)
	s.invalidate(ctx, tracking)
}

// Audit is best-effort: failures are logged and never abort or roll back
// the operation that triggered them.
func (s *Parcels) recordAudit(ctx context.Context, id int64, action, actor, details string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, "parcel", id, action, actor, details); err != nil {
		log.Printf("audit record failed: action=%s parcel_id=%d err=%v", action, id, err)
	}
}

func (s *Parcels) invalidate(ctx context.Context, tracking string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, tracking); err != nil {
		log.Printf("ticket cache invalidate failed: tracking=%s err=%v", tracking, err)
	}
}
