package app

import (
	"context"
	"sync/atomic"

	"github.com/skobkin/reefdash/internal/bus"
	"github.com/skobkin/reefdash/internal/connectors"
)

type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

type JournalRepository interface {
	InsertEvent(ctx context.Context, rec connectors.EventRecord) error
	InsertDataSample(ctx context.Context, dp connectors.DataPoint) error
	InsertConnectionStatus(ctx context.Context, st connectors.ConnectionStatus) error
}

// JournalProjection copies bus traffic into the journal through the writer queue.
// Data samples arrive four times a second, so they are recorded only on request.
type JournalProjection struct {
	queue      WriteQueue
	repo       JournalRepository
	recordData atomic.Bool
}

func StartJournalProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, repo JournalRepository, recordData bool) *JournalProjection {
	p := &JournalProjection{queue: queue, repo: repo}
	p.recordData.Store(recordData)

	bus.Listen(ctx, b, connectors.TopicConnStatus, func(status connectors.ConnectionStatus) {
		p.queue.Enqueue("insert_connection_status", func(writeCtx context.Context) error {
			return p.repo.InsertConnectionStatus(writeCtx, status)
		})
	})
	bus.Listen(ctx, b, connectors.TopicEventReceived, func(rec connectors.EventRecord) {
		p.queue.Enqueue("insert_event", func(writeCtx context.Context) error {
			return p.repo.InsertEvent(writeCtx, rec)
		})
	})
	bus.Listen(ctx, b, connectors.TopicDataReceived, func(dp connectors.DataPoint) {
		if !p.recordData.Load() {
			return
		}
		p.queue.Enqueue("insert_data_sample", func(writeCtx context.Context) error {
			return p.repo.InsertDataSample(writeCtx, dp)
		})
	})

	return p
}

func (p *JournalProjection) SetRecordData(enabled bool) {
	p.recordData.Store(enabled)
}

func (p *JournalProjection) RecordData() bool {
	return p.recordData.Load()
}
