package gateway

import (
	"strconv"
	"time"
)

// replayDepth is the number of envelopes kept per channel for backfill.
const replayDepth = 500

// FeatureChannel is the hub channel carrying one symbol's feature records.
func FeatureChannel(symbol string) string { return "feat:" + symbol }

// appendEnvelope hand-crafts the envelope JSON
// {"channel":..,"data":..,"ts":..,"seq":..,"channel_seq":..}.
// data must already be valid JSON.
func appendEnvelope(buf []byte, channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	return append(buf, '}')
}

// Broadcast stores data as the channel's latest value, assigns the global and
// per-channel sequence numbers, and fans the envelope out to every client
// subscribed to channel. Slow clients drop messages rather than block.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayDepth)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := appendEnvelope(make([]byte, 0, len(channel)+len(data)+160), channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matches(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			h.dropped.Add(1)
		}
	}
}
