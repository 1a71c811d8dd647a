package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onllm-dev/logwatch/internal/api"
	"github.com/onllm-dev/logwatch/internal/metrics"
	"github.com/onllm-dev/logwatch/internal/store"
)

// TokenSource yields the current OAuth token. Each call is a fresh lookup
// against the credential store.
type TokenSource interface {
	Token() (string, error)
}

// Poller runs the usage poll cycle against the remote API and persists
// snapshots when the watermark triggers. Failures never propagate to the
// web layer; callers get the last cached reading or an error value to
// render.
type Poller struct {
	client    *api.Client
	tokens    TokenSource
	store     *store.Store
	watermark *Watermark
	logger    *slog.Logger
	sessionID string

	interval time.Duration
	cacheTTL time.Duration

	// fetchMu serializes the network half of a cycle so concurrent Poll
	// calls (the Run ticker plus web fetch-through) cannot interleave
	// token rotation with an in-flight request or stampede the API on a
	// cache miss.
	fetchMu sync.Mutex

	mu       sync.Mutex
	cached   *api.UsageResponse
	cachedAt time.Time
}

// New creates a poller. The interval governs the Run loop; cacheTTL bounds
// how long a successful reading is served without a new API call.
func New(client *api.Client, tokens TokenSource, st *store.Store, logger *slog.Logger, interval, cacheTTL time.Duration) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:    client,
		tokens:    tokens,
		store:     st,
		watermark: NewWatermark(),
		logger:    logger,
		sessionID: uuid.New().String(),
		interval:  interval,
		cacheTTL:  cacheTTL,
	}
}

// PrimeWatermark seeds the watermark from the latest stored snapshot so a
// restart does not re-trigger on the first reading. No snapshot means both
// slots stay unset.
func (p *Poller) PrimeWatermark() error {
	snap, err := p.store.GetLatestSnapshot()
	if err != nil {
		return fmt.Errorf("priming watermark: %w", err)
	}
	if snap == nil {
		return nil
	}

	fiveHour := snap.FiveHourPct
	if fiveHour == nil {
		v := float64(snap.FiveHourUsed)
		fiveHour = &v
	}
	sevenDay := snap.SevenDayPct
	if sevenDay == nil {
		v := float64(snap.SevenDayUsed)
		sevenDay = &v
	}
	p.watermark.Prime(fiveHour, sevenDay)

	p.logger.Info("watermark primed from latest snapshot",
		"snapshot_id", snap.ID,
		"timestamp", snap.Timestamp)
	return nil
}

// Cached returns the most recent successful reading regardless of TTL,
// with its fetch time. ok is false before the first success.
func (p *Poller) Cached() (resp *api.UsageResponse, fetchedAt time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached, p.cachedAt, p.cached != nil
}

// Poll executes one cycle: serve from cache inside the TTL, otherwise
// look up the token, fetch usage with at most one auth-retry, reconcile
// against the watermark, and persist a snapshot when it triggers.
func (p *Poller) Poll(ctx context.Context) (*api.UsageResponse, error) {
	if resp, ok := p.fresh(); ok {
		metrics.PollCycles.WithLabelValues("cached").Inc()
		return resp, nil
	}

	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	// The cycle this caller waited on may have refreshed the cache.
	if resp, ok := p.fresh(); ok {
		metrics.PollCycles.WithLabelValues("cached").Inc()
		return resp, nil
	}

	token, err := p.tokens.Token()
	if err != nil {
		metrics.PollCycles.WithLabelValues("credential_error").Inc()
		p.logger.Warn("credential lookup failed, skipping poll cycle",
			"poll_session", p.sessionID, "error", err)
		return nil, err
	}
	p.client.SetToken(token)

	resp, err := p.client.FetchUsage(ctx)
	if errors.Is(err, api.ErrUnauthorized) {
		resp, err = p.retryWithFreshToken(ctx, token)
	}
	if err != nil {
		metrics.PollCycles.WithLabelValues(outcomeLabel(err)).Inc()
		p.logger.Warn("usage poll failed",
			"poll_session", p.sessionID, "error", err)
		return nil, err
	}

	p.recordReading(resp)

	p.mu.Lock()
	p.cached = resp
	p.cachedAt = time.Now()
	p.mu.Unlock()

	metrics.PollCycles.WithLabelValues("success").Inc()
	return resp, nil
}

// fresh returns the cached reading when it is still inside the TTL.
func (p *Poller) fresh() (*api.UsageResponse, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil && time.Since(p.cachedAt) < p.cacheTTL {
		return p.cached, true
	}
	return nil, false
}

// retryWithFreshToken handles a 401: re-read the credential store once; if
// the store yields the same token the rejection is final with one API call
// made, otherwise retry exactly once and take that outcome as final.
func (p *Poller) retryWithFreshToken(ctx context.Context, rejected string) (*api.UsageResponse, error) {
	metrics.TokenRefreshes.Inc()

	fresh, err := p.tokens.Token()
	if err != nil {
		p.logger.Warn("token refresh after 401 failed",
			"poll_session", p.sessionID, "error", err)
		return nil, api.ErrUnauthorized
	}
	if fresh == rejected {
		p.logger.Warn("credential store returned the rejected token, not retrying",
			"poll_session", p.sessionID)
		return nil, api.ErrUnauthorized
	}

	p.logger.Info("retrying usage poll with refreshed token",
		"poll_session", p.sessionID)
	p.client.SetToken(fresh)
	return p.client.FetchUsage(ctx)
}

// recordReading runs the watermark check and persists a phase-1 snapshot
// when it triggers. Storage failures are logged; the reading is still
// served.
func (p *Poller) recordReading(resp *api.UsageResponse) {
	var fiveUtil, sevenUtil float64
	var fiveReset, sevenReset *string
	if resp.FiveHour != nil {
		fiveUtil = resp.FiveHour.Utilization
		if r := resp.FiveHour.ResetTimestamp(); r != "" {
			fiveReset = &r
		}
	}
	if resp.SevenDay != nil {
		sevenUtil = resp.SevenDay.Utilization
		if r := resp.SevenDay.ResetTimestamp(); r != "" {
			sevenReset = &r
		}
	}

	if !p.watermark.Observe(fiveUtil, sevenUtil) {
		return
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	id, err := p.store.InsertTick(timestamp,
		int64(fiveUtil), 100, int64(sevenUtil), 100,
		&fiveUtil, &sevenUtil, fiveReset, sevenReset)
	if err != nil {
		metrics.PollCycles.WithLabelValues("storage_error").Inc()
		p.logger.Error("failed to persist usage snapshot",
			"poll_session", p.sessionID, "error", err)
		return
	}

	metrics.SnapshotsInserted.Inc()
	p.logger.Info("usage snapshot recorded",
		"poll_session", p.sessionID,
		"snapshot_id", id,
		"five_hour", fiveUtil,
		"seven_day", sevenUtil)
}

// Run polls immediately, then on every interval tick until the context is
// canceled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("usage poller started",
		"poll_session", p.sessionID,
		"interval", p.interval)

	if _, err := p.Poll(ctx); err != nil {
		p.logger.Debug("initial poll failed", "error", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("usage poller stopped", "poll_session", p.sessionID)
			return
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Debug("poll failed", "error", err)
			}
		}
	}
}

// outcomeLabel maps a poll error to its metrics outcome.
func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, api.ErrNetworkError):
		return "network_error"
	case errors.Is(err, api.ErrServerError):
		return "server_error"
	default:
		return "error"
	}
}
