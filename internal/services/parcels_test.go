package services

import (
	"context"
	"errors"
	"fmt"
	"parcel-queue-service/internal/adapters/repositories"
	"parcel-queue-service/internal/domain"
	"parcel-queue-service/internal/ports"
	"sync"
	"testing"
	"time"
)

// recordingSink captures audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Record(ctx context.Context, entity string, entityID int64, action, actor, details string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, action)
	return nil
}

func (r *recordingSink) count(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.events {
		if a == action {
			n++
		}
	}
	return n
}

// failingSink always errors; lifecycle operations must still succeed.
type failingSink struct{}

func (failingSink) Record(ctx context.Context, entity string, entityID int64, action, actor, details string) error {
	return errors.New("audit store down")
}

func newTestService(t *testing.T) (*Parcels, *repositories.MemStore, *recordingSink) {
	t.Helper()

	store := repositories.NewMemStore()
	sink := &recordingSink{}
	svc := NewParcels(store, NewAllocator(domain.DefaultTicketFormat), sink, nil)
	svc.now = func() time.Time {
		return time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC)
	}
	return svc, store, sink
}

func TestCreateDeleteRecycleRoundTrip(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateRequest{
		TrackingNumber: "SPX123",
		Carrier:        "SPX",
		Provisional:    true,
		Actor:          "staff",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", res.Status)
	}
	if res.QueueNumber != "NUD0001-20250114" {
		t.Fatalf("queue = %q, want NUD0001-20250114", res.QueueNumber)
	}

	if err := svc.DeleteProvisional(ctx, "SPX123", "staff"); err != nil {
		t.Fatalf("delete provisional: %v", err)
	}

	// The released ticket is pooled for its partition.
	part := domain.Partition{Carrier: "SPX", Date: "20250114"}
	err = store.WithinTx(ctx, func(tx ports.Tx) error {
		queue, ok, err := tx.PopSmallestRecycled(ctx, part)
		if err != nil {
			return err
		}
		if !ok || queue != "NUD0001-20250114" {
			t.Fatalf("recycled = %q ok=%t, want NUD0001-20250114", queue, ok)
		}
		// Leave the pool as it was.
		return tx.PushRecycled(ctx, part, queue)
	})
	if err != nil {
		t.Fatalf("inspect pool: %v", err)
	}

	// A new check-in reuses the recycled ticket byte for byte.
	res2, err := svc.Create(ctx, CreateRequest{
		TrackingNumber: "SPX124",
		Carrier:        "SPX",
		Actor:          "staff",
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if res2.Status != domain.StatusReceived {
		t.Fatalf("status = %s, want RECEIVED", res2.Status)
	}
	if res2.QueueNumber != "NUD0001-20250114" {
		t.Fatalf("queue = %q, want reused NUD0001-20250114", res2.QueueNumber)
	}
}

func TestCreateDuplicateTrackingMutatesNothing(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{TrackingNumber: "SPX123", Carrier: "SPX"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := svc.Create(ctx, CreateRequest{TrackingNumber: "SPX123", Carrier: "SPX"})
	if !errors.Is(err, domain.ErrDuplicateTracking) {
		t.Fatalf("err = %v, want ErrDuplicateTracking", err)
	}

	// Counter untouched, pool empty: the failed attempt issued nothing.
	part := domain.Partition{Carrier: "SPX", Date: "20250114"}
	err = store.WithinTx(ctx, func(tx ports.Tx) error {
		seq, err := tx.LastSeq(ctx, part)
		if err != nil {
			return err
		}
		if seq != 1 {
			t.Fatalf("last_seq = %d, want 1", seq)
		}
		if _, ok, _ := tx.PopSmallestRecycled(ctx, part); ok {
			t.Fatal("recycle pool should be empty")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect store: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateRequest{TrackingNumber: "   "})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestConfirmPending(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{TrackingNumber: "SPX123", Carrier: "SPX", Provisional: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := svc.ConfirmPending(ctx, "SPX123", "staff")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !res.Changed || res.Status != domain.StatusReceived {
		t.Fatalf("changed=%t status=%s, want changed RECEIVED", res.Changed, res.Status)
	}

	// Repeat confirm is a successful no-op with no extra audit event.
	res, err = svc.ConfirmPending(ctx, "SPX123", "staff")
	if err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if res.Changed {
		t.Fatal("repeat confirm should be unchanged")
	}
	if n := sink.count("confirm"); n != 1 {
		t.Fatalf("confirm audit events = %d, want 1", n)
	}

	if _, err := svc.ConfirmPending(ctx, "NOPE", "staff"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConfirmPickupIdempotent(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{TrackingNumber: "SPX123", Carrier: "SPX"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := svc.ConfirmPickup(ctx, "SPX123", "Ploy", "staff")
	if err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if !res.Changed || res.Status != domain.StatusPickedUp || res.RecipientName != "Ploy" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = svc.ConfirmPickup(ctx, "SPX123", "Someone Else", "staff")
	if err != nil {
		t.Fatalf("repeat pickup: %v", err)
	}
	if res.Changed {
		t.Fatal("repeat pickup should be unchanged")
	}
	if res.Status != domain.StatusPickedUp {
		t.Fatalf("status = %s, want PICKED_UP", res.Status)
	}
	if res.RecipientName != "Ploy" {
		t.Fatalf("recipient = %q, want unchanged Ploy", res.RecipientName)
	}
	if n := sink.count("pickup"); n != 1 {
		t.Fatalf("pickup audit events = %d, want 1", n)
	}
}

func TestPickupFromPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{TrackingNumber: "SPX123", Carrier: "SPX", Provisional: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := svc.ConfirmPickup(ctx, "SPX123", "", "staff")
	if err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if !res.Changed || res.Status != domain.StatusPickedUp {
		t.Fatalf("PENDING parcel should be directly pickable, got %+v", res)
	}
}

func TestDeleteNonPendingFails(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateRequest{TrackingNumber: "SPX123", Carrier: "SPX"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := svc.DeleteProvisional(ctx, "SPX123", "staff")
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}

	// Nothing mutated: the parcel is still there, nothing pooled.
	err = store.WithinTx(ctx, func(tx ports.Tx) error {
		if _, err := tx.GetParcelByTracking(ctx, "SPX123"); err != nil {
			t.Fatalf("parcel should survive: %v", err)
		}
		part := domain.Partition{Carrier: "SPX", Date: "20250114"}
		if _, ok, _ := tx.PopSmallestRecycled(ctx, part); ok {
			t.Fatal("recycle pool should be empty")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect store: %v", err)
	}

	if err := svc.DeleteProvisional(ctx, "NOPE", "staff"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBulkDeleteNeverRecycles(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	ids := make([]int64, 0, 2)
	for i := 1; i <= 3; i++ {
		res, err := svc.Create(ctx, CreateRequest{
			TrackingNumber: fmt.Sprintf("SPX%03d", i),
			Carrier:        "SPX",
			Provisional:    i == 1,
		})
		if err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
		if i <= 2 {
			ids = append(ids, res.ID)
		}
	}

	deleted, err := svc.BulkDelete(ctx, ids, []string{"SPX003", "UNKNOWN"}, "admin")
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("deleted = %d, want 3", deleted)
	}

	// Bulk delete leaves the pool alone, even for the PENDING parcel.
	part := domain.Partition{Carrier: "SPX", Date: "20250114"}
	err = store.WithinTx(ctx, func(tx ports.Tx) error {
		if _, ok, _ := tx.PopSmallestRecycled(ctx, part); ok {
			t.Fatal("recycle pool should be empty after bulk delete")
		}
		seq, err := tx.LastSeq(ctx, part)
		if err != nil {
			return err
		}
		if seq != 3 {
			t.Fatalf("last_seq = %d, want 3", seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect store: %v", err)
	}
}

func TestConcurrentCreatesConsecutiveNumbers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const workers = 8

	var mu sync.Mutex
	var wg sync.WaitGroup
	queues := make(map[string]bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Create(ctx, CreateRequest{
				TrackingNumber: fmt.Sprintf("SPX%03d", i),
				Carrier:        "SPX",
			})
			if err != nil {
				t.Errorf("create #%d: %v", i, err)
				return
			}
			mu.Lock()
			queues[res.QueueNumber] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(queues) != workers {
		t.Fatalf("got %d distinct queue numbers, want %d", len(queues), workers)
	}
	for seq := 1; seq <= workers; seq++ {
		q := fmt.Sprintf("NUD%04d-20250114", seq)
		if !queues[q] {
			t.Errorf("missing consecutive number %q", q)
		}
	}
}

func TestAuditFailureNeverPropagates(t *testing.T) {
	store := repositories.NewMemStore()
	svc := NewParcels(store, NewAllocator(domain.DefaultTicketFormat), failingSink{}, nil)
	svc.now = func() time.Time {
		return time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC)
	}
	ctx := context.Background()

	res, err := svc.Create(ctx, CreateRequest{TrackingNumber: "SPX123", Carrier: "SPX", Provisional: true})
	if err != nil {
		t.Fatalf("create with failing audit: %v", err)
	}
	if _, err := svc.ConfirmPending(ctx, "SPX123", "staff"); err != nil {
		t.Fatalf("confirm with failing audit: %v", err)
	}
	if _, err := svc.ConfirmPickup(ctx, "SPX123", "", "staff"); err != nil {
		t.Fatalf("pickup with failing audit: %v", err)
	}
	if res.QueueNumber != "NUD0001-20250114" {
		t.Fatalf("queue = %q", res.QueueNumber)
	}
}

func TestGetAndList(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 14, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		created := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return created }
		if _, err := svc.Create(ctx, CreateRequest{TrackingNumber: fmt.Sprintf("SPX%03d", i), Carrier: "SPX"}); err != nil {
			t.Fatalf("create #%d: %v", i, err)
		}
	}

	p, err := svc.Get(ctx, "SPX002")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.QueueNumber != "NUD0002-20250114" {
		t.Fatalf("queue = %q", p.QueueNumber)
	}

	if _, err := svc.Get(ctx, "NOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	parcels, err := svc.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(parcels) != 2 {
		t.Fatalf("len = %d, want 2", len(parcels))
	}
	if parcels[0].TrackingNumber != "SPX003" || parcels[1].TrackingNumber != "SPX002" {
		t.Fatalf("order = %s, %s; want newest first", parcels[0].TrackingNumber, parcels[1].TrackingNumber)
	}
}
