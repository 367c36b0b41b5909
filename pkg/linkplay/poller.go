package linkplay

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/linkplay-community/linkplay-go/internal/log"
	"github.com/linkplay-community/linkplay-go/pkg/lperr"
)

const (
	defaultFastInterval = 10 * time.Second
	defaultFullInterval = 10 * time.Minute
)

// Poller keeps a fleet of players fresh on two lanes: a fast lane polling
// playback and group state, and a full lane re-reading device identity to
// pick up renames and firmware updates. Overlapping runs are skipped, so a
// slow device cannot pile up refreshes.
type Poller struct {
	cron   *cron.Cron
	logger zerolog.Logger
	fast   time.Duration
	full   time.Duration

	mu      sync.Mutex
	entries map[*Player][]cron.EntryID
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithFastInterval sets the playback-state polling cadence. Seconds are the
// finest granularity the scheduler supports.
func WithFastInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.fast = d }
}

// WithFullInterval sets the identity re-read cadence.
func WithFullInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.full = d }
}

// WithPollerLogger attaches a logger.
func WithPollerLogger(l zerolog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// NewPoller builds a stopped poller; call Start after adding players.
func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		fast:    defaultFastInterval,
		full:    defaultFullInterval,
		logger:  log.WithComponent("poller"),
		entries: make(map[*Player][]cron.EntryID),
	}
	for _, opt := range opts {
		opt(p)
	}
	cl := cronLogger{p.logger}
	p.cron = cron.New(cron.WithChain(
		cron.Recover(cl),
		cron.SkipIfStillRunning(cl),
	))
	return p
}

// Add schedules both lanes for a player. Adding a player twice is a no-op.
func (po *Poller) Add(p *Player) {
	po.mu.Lock()
	defer po.mu.Unlock()
	if _, ok := po.entries[p]; ok {
		return
	}
	fast := po.cron.Schedule(cron.Every(po.fast), cron.FuncJob(func() {
		po.poll(p, p.Refresh)
	}))
	full := po.cron.Schedule(cron.Every(po.full), cron.FuncJob(func() {
		po.poll(p, p.RefreshFull)
	}))
	po.entries[p] = []cron.EntryID{fast, full}
}

// Remove unschedules a player's lanes.
func (po *Poller) Remove(p *Player) {
	po.mu.Lock()
	defer po.mu.Unlock()
	for _, id := range po.entries[p] {
		po.cron.Remove(id)
	}
	delete(po.entries, p)
}

// Start launches the scheduler goroutine.
func (po *Poller) Start() {
	po.cron.Start()
}

// Stop halts scheduling and waits for in-flight refreshes, up to ctx.
func (po *Poller) Stop(ctx context.Context) error {
	done := po.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return lperr.Wrap(lperr.ErrTimeout, "poller.stop", ctx.Err())
	}
}

// poll runs one refresh. Successes stay silent; failures are already logged
// with escalation by the transport, so only a debug line is added here.
func (po *Poller) poll(p *Player, refresh func(context.Context) error) {
	if err := refresh(context.Background()); err != nil {
		po.logger.Debug().Err(err).Str("device", p.Host()).Msg("poll failed")
	}
}

// cronLogger adapts zerolog to the scheduler's logging interface. Scheduler
// chatter is debug; recovered panics and scheduling errors are warnings.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Warn().Err(err).Fields(keysAndValues).Msg(msg)
}
