package api

import (
	"encoding/json"
	"time"
)

// UsageWindow represents a single quota window from the usage API.
// The API reports point-in-time utilization as a percentage (0-100);
// the token/message fields are present only on some plan tiers.
type UsageWindow struct {
	Utilization   float64 `json:"utilization"`
	ResetsAt      string  `json:"resets_at,omitempty"`
	ResetTime     string  `json:"reset_time,omitempty"`
	TokensConsumed *int64 `json:"tokens_consumed,omitempty"`
	MessagesCount  *int64 `json:"messages_count,omitempty"`
	TokensLimit    *int64 `json:"tokens_limit,omitempty"`
	MessagesLimit  *int64 `json:"messages_limit,omitempty"`
}

// ResetTimestamp returns the window's reset time string, preferring
// resets_at over the legacy reset_time key. Empty when neither is present.
func (w *UsageWindow) ResetTimestamp() string {
	if w.ResetsAt != "" {
		return w.ResetsAt
	}
	return w.ResetTime
}

// ParsedReset parses the reset timestamp. Returns nil when absent or
// unparseable.
func (w *UsageWindow) ParsedReset() *time.Time {
	s := w.ResetTimestamp()
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// UsageResponse is the parsed body of a successful usage API call.
type UsageResponse struct {
	FiveHour *UsageWindow `json:"five_hour"`
	SevenDay *UsageWindow `json:"seven_day"`
}

// usageEnvelope matches responses that wrap the windows in a "data" key.
type usageEnvelope struct {
	Data     *UsageResponse `json:"data"`
	FiveHour *UsageWindow   `json:"five_hour"`
	SevenDay *UsageWindow   `json:"seven_day"`
}

// ParseUsageResponse parses raw JSON bytes into a UsageResponse,
// unwrapping an optional top-level "data" envelope.
func ParseUsageResponse(data []byte) (*UsageResponse, error) {
	var env usageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Data != nil {
		return env.Data, nil
	}
	return &UsageResponse{FiveHour: env.FiveHour, SevenDay: env.SevenDay}, nil
}
