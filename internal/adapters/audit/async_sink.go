package audit

import (
	"context"
	"log"
	"parcel-queue-service/internal/ports"
	"sync"
)

type event struct {
	entity   string
	entityID int64
	action   string
	actor    string
	details  string
}

// AsyncSink decouples audit writes from the operations that emit them:
// Record enqueues and returns immediately, a single worker drains the
// buffer, and events are dropped (with a log line) when the buffer is
// full. Audit is best-effort by contract, so dropping beats blocking a
// check-in on a slow audit store.
type AsyncSink struct {
	inner ports.AuditSink
	ch    chan event
	wg    sync.WaitGroup

	closeOnce sync.Once
}

func NewAsyncSink(inner ports.AuditSink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 64
	}
	s := &AsyncSink{
		inner: inner,
		ch:    make(chan event, buffer),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer s.wg.Done()
	for ev := range s.ch {
		// The emitting operation may be long finished; deliver with a
		// fresh context.
		if err := s.inner.Record(context.Background(), ev.entity, ev.entityID, ev.action, ev.actor, ev.details); err != nil {
			log.Printf("audit sink: record failed action=%s entity_id=%d err=%v", ev.action, ev.entityID, err)
		}
	}
}

// Record never blocks and never fails from the caller's point of view.
func (s *AsyncSink) Record(ctx context.Context, entity string, entityID int64, action, actor, details string) error {
	select {
	case s.ch <- event{entity: entity, entityID: entityID, action: action, actor: actor, details: details}:
	default:
		log.Printf("audit sink: buffer full, dropping action=%s entity_id=%d", action, entityID)
	}
	return nil
}

// Close stops accepting events and waits for the buffer to drain.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
	s.wg.Wait()
}
