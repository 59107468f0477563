package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"featureflow/internal/model"
)

// Key layout:
//
//	bar:{symbol}           input bar stream (XADD by producers, XREADGROUP here)
//	feat:{symbol}          feature stream
//	feat:latest:{symbol}   newest feature record
//	pub:feat:{symbol}      feature pubsub channel
const (
	barStreamPrefix   = "bar:"
	featStreamPrefix  = "feat:"
	featLatestPrefix  = "feat:latest:"
	featChannelPrefix = "pub:feat:"

	payloadField = "data"
)

var errNoPayload = errors.New("stream message has no data field")

func BarStreamKey(symbol string) string { return barStreamPrefix + symbol }
func FeatureStreamKey(symbol string) string { return featStreamPrefix + symbol }
func FeatureLatestKey(symbol string) string { return featLatestPrefix + symbol }
func FeatureChannel(symbol string) string { return featChannelPrefix + symbol }
func SymbolFromBarStream(stream string) string { return strings.TrimPrefix(stream, barStreamPrefix) }

// BarStreams maps symbols to their bar stream keys.
func BarStreams(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = BarStreamKey(s)
	}
	return out
}

// decodeBar parses a stream message into a bar. A bar without a symbol takes
// it from the stream key.
func decodeBar(stream string, values map[string]interface{}) (model.Bar, error) {
	var bar model.Bar
	data, ok := values[payloadField].(string)
	if !ok {
		return bar, errNoPayload
	}
	if err := json.Unmarshal([]byte(data), &bar); err != nil {
		return bar, fmt.Errorf("unmarshal bar: %w", err)
	}
	if bar.Symbol == "" {
		bar.Symbol = SymbolFromBarStream(stream)
	}
	return bar, nil
}
