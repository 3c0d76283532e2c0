package production

import (
	"context"
	"sync/atomic"

	"github.com/comalice/hsmkit/internal/core"
)

// PublishedRecord is a StepRecord tagged with the instance that emitted it.
type PublishedRecord struct {
	Instance string
	Record   core.StepRecord
}

// ChannelPublisher forwards StepRecords to a channel. It is a core.Observer;
// publishing never blocks the engine, records that do not fit are dropped
// and counted.
type ChannelPublisher struct {
	ctx      context.Context
	instance string
	ch       chan<- PublishedRecord
	dropped  atomic.Uint64
}

// NewChannelPublisher publishes records of the named instance until ctx is
// done.
func NewChannelPublisher(ctx context.Context, instance string, ch chan<- PublishedRecord) *ChannelPublisher {
	return &ChannelPublisher{ctx: ctx, instance: instance, ch: ch}
}

// Observe implements core.Observer.
func (p *ChannelPublisher) Observe(r core.StepRecord) {
	if p.ctx.Err() != nil {
		p.dropped.Add(1)
		return
	}
	select {
	case p.ch <- PublishedRecord{Instance: p.instance, Record: r}:
	default:
		p.dropped.Add(1)
	}
}

// Dropped is the number of records not delivered.
func (p *ChannelPublisher) Dropped() uint64 { return p.dropped.Load() }

// Close closes the output channel.
func (p *ChannelPublisher) Close() error {
	close(p.ch)
	return nil
}

// Recorder collects records in memory.
type Recorder struct {
	Records []core.StepRecord
}

// Observe implements core.Observer.
func (r *Recorder) Observe(rec core.StepRecord) { r.Records = append(r.Records, rec) }
