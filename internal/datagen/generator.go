package datagen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	v1 "github.com/mediant-lab/mediant/internal/api/v1"
	"golang.org/x/time/rate"
)

// Sender delivers one record to the engine. Delivery errors are counted and
// logged but never stop the run; a load generator that halts on the first
// refused record is useless.
type Sender interface {
	Send(ctx context.Context, rec *v1.DetailRecord) error
}

// maxDelayedRecords bounds the hold-back queue; when it fills up the oldest
// delayed records get flushed even mid-run.
const maxDelayedRecords = 100_000

// epochBackdate is how far in the past a backdated record is stamped. Far
// beyond any sane lateness bound.
const epochBackdate = 365 * 24 * time.Hour

// Stats counts what the generator did, by fate of each produced record.
type Stats struct {
	Produced   int64
	Sent       int64
	Dropped    int64
	Duplicated int64
	Delayed    int64
	Backdated  int64
	SendErrors int64
}

// Generator drives the synthetic stream. Not safe for concurrent use; run
// one Generator per goroutine with distinct Offset values instead.
type Generator struct {
	cfg    Config
	sender Sender
	rnd    *rand.Rand
	now    func() time.Time

	sessions map[int64]*Session
	delayed  []*v1.DetailRecord
	stats    Stats
}

type GeneratorOption func(*Generator)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// WithRand replaces the fault-draw source, for deterministic tests.
func WithRand(rnd *rand.Rand) GeneratorOption {
	return func(g *Generator) { g.rnd = rnd }
}

func NewGenerator(cfg Config, sender Sender, opts ...GeneratorOption) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}

	g := &Generator{
		cfg:      cfg,
		sender:   sender,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		sessions: make(map[int64]*Session, cfg.Users),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) Stats() Stats { return g.stats }

// Run emits records at the configured rate until the duration elapses or the
// context is cancelled, then flushes the hold-back queue so every delayed
// record eventually reaches the engine.
func (g *Generator) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), g.cfg.RatePerSecond)

	if g.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Duration)
		defer cancel()
	}

	slog.Info("[DataGenerator] Starting record stream",
		"users", g.cfg.Users,
		"rate", g.cfg.RatePerSecond,
		"duration", g.cfg.Duration,
		"target", g.cfg.TargetURL)

	lastReport := g.now()
	for {
		if err := limiter.Wait(ctx); err != nil {
			break // context done
		}

		g.emitOne(ctx)

		if g.now().Sub(lastReport) >= 10*time.Second {
			g.logStats()
			lastReport = g.now()
		}
	}

	// The run context is done; flush what was held back on a fresh context so
	// the delayed records still arrive.
	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g.flushDelayed(flushCtx, len(g.delayed))

	g.logStats()
	slog.Info("[DataGenerator] Record stream finished")
	return nil
}

func (g *Generator) emitOne(ctx context.Context) {
	userID := g.cfg.Offset + int64(g.rnd.Intn(g.cfg.Users))

	sess, exists := g.sessions[userID]
	if !exists || sess.Done() {
		sess = newSession(userID, g.now(), g.rnd)
		g.sessions[userID] = sess
	}

	rec := sess.NextRecord(g.now(), g.rnd)
	g.stats.Produced++

	if g.cfg.ShouldDrop(g.rnd) {
		g.stats.Dropped++
		return
	}

	if g.cfg.ShouldBackdate(g.rnd) {
		rec.RecordStartUTC = rec.RecordStartUTC.Add(-epochBackdate)
		rec.SessionStartUTC = rec.SessionStartUTC.Add(-epochBackdate)
		g.stats.Backdated++
	}

	if g.cfg.ShouldDelay(g.rnd) {
		g.stats.Delayed++
		g.delayed = append(g.delayed, rec)
		if len(g.delayed) > maxDelayedRecords {
			g.flushDelayed(ctx, len(g.delayed)/2)
		}
		return
	}

	g.send(ctx, rec)

	if g.cfg.ShouldDuplicate(g.rnd) {
		copies := 1 + g.rnd.Intn(10)
		for i := 0; i < copies; i++ {
			g.send(ctx, rec)
		}
		g.stats.Duplicated++
	}
}

// flushDelayed sends up to n held-back records in arrival order.
func (g *Generator) flushDelayed(ctx context.Context, n int) {
	if n > len(g.delayed) {
		n = len(g.delayed)
	}
	if n == 0 {
		return
	}
	slog.Info("[DataGenerator] Flushing delayed records", "count", n, "queued", len(g.delayed))
	for _, rec := range g.delayed[:n] {
		g.send(ctx, rec)
	}
	g.delayed = g.delayed[n:]
}

func (g *Generator) send(ctx context.Context, rec *v1.DetailRecord) {
	if err := g.sender.Send(ctx, rec); err != nil {
		g.stats.SendErrors++
		if g.stats.SendErrors%1000 == 1 {
			slog.Warn("[DataGenerator] Send failed", "error", err, "total_errors", g.stats.SendErrors)
		}
		return
	}
	g.stats.Sent++
}

func (g *Generator) logStats() {
	slog.Info("[DataGenerator] Progress",
		"produced", g.stats.Produced,
		"sent", g.stats.Sent,
		"dropped", g.stats.Dropped,
		"duplicated", g.stats.Duplicated,
		"delayed_queued", len(g.delayed),
		"backdated", g.stats.Backdated,
		"send_errors", g.stats.SendErrors)
}

// HTTPSender posts records as JSON to the ingest endpoint. Any 2xx, 409 or
// 422 response counts as delivered: rejections are the engine doing its job.
type HTTPSender struct {
	client *http.Client
	url    string
}

func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
	}
}

func (s *HTTPSender) Send(ctx context.Context, rec *v1.DetailRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver record: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusConflict, http.StatusUnprocessableEntity:
		return nil
	default:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, s.url)
	}
}
