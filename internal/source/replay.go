package source

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"featureflow/internal/model"
)

const maxReplayGap = 5 * time.Second

// Replayer emits a fixed bar history into a channel at a speed multiplier.
// It implements model.BarStreamer.
type Replayer struct {
	bars  []model.Bar
	speed float64

	// Emitted is the number of bars sent by the last StreamBars call.
	Emitted int
}

// NewReplayer sorts bars by timestamp (stable, so equal timestamps keep file
// order) and prepares them for playback. speed: 1.0 = real-time,
// 10.0 = 10x, 0 = as fast as possible.
func NewReplayer(bars []model.Bar, speed float64) *Replayer {
	sorted := make([]model.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })
	return &Replayer{bars: sorted, speed: speed}
}

// FromReader loads every symbol's bars after afterTS (unix ms) and merges them
// into one time-ordered replay.
func FromReader(reader model.BarReader, symbols []string, afterTS int64, speed float64) (*Replayer, error) {
	var all []model.Bar
	for _, s := range symbols {
		bars, err := reader.ReadBars(s, afterTS)
		if err != nil {
			return nil, fmt.Errorf("read bars %s: %w", s, err)
		}
		all = append(all, bars...)
	}
	return NewReplayer(all, speed), nil
}

// Len returns the number of bars queued.
func (r *Replayer) Len() int { return len(r.bars) }

// StreamBars sends every bar to out, sleeping the scaled gap between bars
// (capped at 5s). Returns nil once all bars are sent.
func (r *Replayer) StreamBars(ctx context.Context, out chan<- model.Bar) error {
	if len(r.bars) == 0 {
		log.Println("[replay] no bars to replay")
		return nil
	}
	log.Printf("[replay] replaying %d bars, speed=%.1fx", len(r.bars), r.speed)

	r.Emitted = 0
	var prevTS time.Time
	for _, b := range r.bars {
		if r.speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / r.speed)
				if scaled > maxReplayGap {
					scaled = maxReplayGap
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = b.TS

		select {
		case out <- b:
			r.Emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", r.Emitted)
			return ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d bars replayed", r.Emitted)
	return nil
}

// Close is a no-op; the history is held in memory.
func (r *Replayer) Close() error { return nil }
