// Package bus fans one bar channel out to several consumers.
package bus

import (
	"context"
	"log"
	"sync"

	"featureflow/internal/model"
)

type output struct {
	ch    chan model.Bar
	lossy bool
}

// FanOut broadcasts bars from a single input channel to N output channels.
// Lossless subscribers apply backpressure to the whole pipeline; lossy ones
// drop the bar when their buffer is full so they can never stall it.
type FanOut struct {
	mu      sync.RWMutex
	outputs []output
	bufSize int

	// OnDrop is called when a bar is dropped for a lossy subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int, bar model.Bar)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates a lossless output channel.
func (f *FanOut) Subscribe() <-chan model.Bar {
	return f.subscribe(false)
}

// SubscribeLossy creates an output channel that drops bars when full.
func (f *FanOut) SubscribeLossy() <-chan model.Bar {
	return f.subscribe(true)
}

func (f *FanOut) subscribe(lossy bool) <-chan model.Bar {
	ch := make(chan model.Bar, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, output{ch: ch, lossy: lossy})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers, in
// subscription order. Every output is closed when Run returns.
// Blocks until ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Bar) {
	defer func() {
		f.mu.RLock()
		for _, o := range f.outputs {
			close(o.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-input:
			if !ok {
				return
			}
			if !f.broadcast(ctx, bar) {
				return
			}
		}
	}
}

func (f *FanOut) broadcast(ctx context.Context, bar model.Bar) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, o := range f.outputs {
		if o.lossy {
			select {
			case o.ch <- bar:
			default:
				if f.OnDrop != nil {
					f.OnDrop(i, bar)
				} else {
					log.Printf("[bus] output channel %d full, dropping bar %s@%s", i, bar.Symbol, bar.TS)
				}
			}
			continue
		}
		select {
		case o.ch <- bar:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}
