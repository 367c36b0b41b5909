// Package linkplay is the high-level control plane for LinkPlay-based
// speakers. A Player wraps one device behind its HTTP API and optional UPnP
// eventing; a Group links Players into a multiroom with command routing and
// metadata propagation. State reads never touch the network: Refresh and the
// Poller keep the merged snapshot current, commands update it optimistically.
package linkplay

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkplay-community/linkplay-go/internal/log"
	"github.com/linkplay-community/linkplay-go/pkg/artwork"
	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
	"github.com/linkplay-community/linkplay-go/pkg/state"
	"github.com/linkplay-community/linkplay-go/pkg/transport"
	"github.com/linkplay-community/linkplay-go/pkg/upnp"
)

const (
	// defaultTimeout bounds a single command when the caller's context has
	// no tighter deadline. Refresh gets refreshBudget multiples of it: a
	// full refresh walks up to eight endpoints plus the initial port probe.
	defaultTimeout = 10 * time.Second
	refreshBudget  = 3

	// extrasInterval is the slow-lane cadence: EQ preset names, preset
	// stations, and bluetooth history change rarely and are re-fetched at
	// most this often during periodic refreshes.
	extrasInterval = time.Minute
)

// StateCallback is invoked after a refresh, event, or command changed the
// merged state. It runs on the goroutine that produced the change and must
// not block or call mutating Player methods; offload both to another
// goroutine. changed lists the affected fields in sorted order.
type StateCallback func(p *Player, changed []model.Field)

// Player is the handle for one device. All blocking methods take a context;
// getters read the merged snapshot and never perform I/O.
//
// A Player serializes its refreshes and commands on an internal mutex, so
// concurrent callers are safe but see commands applied in lock order.
type Player struct {
	host     string
	client   *transport.Client
	state    *state.Synchronizer
	art      *artwork.Cache
	artHTTP  *http.Client
	listener *upnp.Listener
	timeout  time.Duration
	now      func() time.Time

	// pinProtocol and pinPort stage transport options until the client is
	// built at the end of NewPlayer.
	pinProtocol string
	pinPort     int

	mu             sync.Mutex
	logger         zerolog.Logger
	prof           profile.Profile
	pinnedProfile  bool
	info           model.DeviceInfo
	slaves         []model.SlaveInfo
	group          *Group
	masterName     string
	onStateChanged StateCallback
	subscriber     *upnp.Subscriber
	eventingTried  bool
	refreshed      bool
	lastExtras     time.Time
	lastTrack      string
	metaSupported  *bool
	eqPresets      []string
	presets        []model.Preset
	btHistory      []model.BluetoothDevice
	audioOutput    *model.AudioOutput
	closed         bool
}

// Option configures a Player at construction.
type Option func(*Player) error

// WithProtocol pins the API scheme ("http" or "https"), skipping that half
// of the probe.
func WithProtocol(protocol string) Option {
	return func(p *Player) error {
		p.pinProtocol = protocol
		return nil
	}
}

// WithPort pins the API port, skipping that half of the probe.
func WithPort(port int) Option {
	return func(p *Player) error {
		p.pinPort = port
		return nil
	}
}

// WithProfile pins a device profile, typically one persisted from an earlier
// session via profile.EncodeYAML. Automatic resolution from device info is
// skipped and the profile's connection candidates seed the probe.
func WithProfile(prof profile.Profile) Option {
	return func(p *Player) error {
		p.prof = prof
		p.pinnedProfile = true
		return nil
	}
}

// WithTimeout replaces the default per-command deadline applied when the
// caller's context carries none. Refresh is allowed three times this budget.
func WithTimeout(d time.Duration) Option {
	return func(p *Player) error {
		if d <= 0 {
			return lperr.New(lperr.ErrPrecondition, "player.option").WithDevice(p.host, "", "")
		}
		p.timeout = d
		return nil
	}
}

// WithLogger attaches a logger; device context fields are added per §refresh.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Player) error {
		p.logger = l
		return nil
	}
}

// WithHTTPClient replaces the client used for cover art downloads. The device
// API transport manages its own connections and is not affected.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Player) error {
		p.artHTTP = c
		return nil
	}
}

// WithStateCallback registers the change callback at construction.
func WithStateCallback(cb StateCallback) Option {
	return func(p *Player) error {
		p.onStateChanged = cb
		return nil
	}
}

// WithEventListener enables UPnP eventing through a shared NOTIFY listener.
// The subscription is established after the first successful refresh; if the
// device refuses it the player stays on polling alone.
func WithEventListener(l *upnp.Listener) Option {
	return func(p *Player) error {
		p.listener = l
		return nil
	}
}

// WithArtworkCache shares a cover art cache across players.
func WithArtworkCache(c *artwork.Cache) Option {
	return func(p *Player) error {
		p.art = c
		return nil
	}
}

// WithClock substitutes the time source used for refresh cadence decisions.
func WithClock(now func() time.Time) Option {
	return func(p *Player) error {
		p.now = now
		return nil
	}
}

// NewPlayer builds a handle for the device at host. No I/O happens here; the
// first Refresh probes the endpoint, identifies the device, and resolves its
// profile.
func NewPlayer(host string, opts ...Option) (*Player, error) {
	p := &Player{
		host:    host,
		prof:    profile.Generic,
		timeout: defaultTimeout,
		now:     time.Now,
		logger:  log.WithComponent("player"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = log.Device(p.logger, host, "", "")

	topts := []transport.Option{transport.WithLogger(p.logger)}
	if p.pinProtocol != "" {
		topts = append(topts, transport.WithProtocol(p.pinProtocol))
	}
	if p.pinPort != 0 {
		topts = append(topts, transport.WithPort(p.pinPort))
	}
	client, err := transport.New(host, p.prof.Connection, topts...)
	if err != nil {
		return nil, err
	}
	p.client = client

	p.state = state.New(state.WithLogger(p.logger), state.WithClock(p.now))
	p.state.SetProfile(p.prof)

	if p.art == nil {
		p.art = artwork.NewCache()
	}
	if p.artHTTP == nil {
		p.artHTTP = &http.Client{Timeout: 15 * time.Second}
	}
	return p, nil
}

// Host returns the address the player was constructed with.
func (p *Player) Host() string { return p.host }

// Status returns the current merged snapshot. For a grouped slave playing
// from its master, SourceName carries the master's display name instead of
// the raw multiroom id.
func (p *Player) Status() model.PlayerStatus {
	snap := p.state.Snapshot()
	p.mu.Lock()
	master := p.masterName
	p.mu.Unlock()
	if snap.Role == model.RoleSlave && snap.Source == model.SourceMultiroom && master != "" {
		snap.SourceName = master
	}
	return snap
}

// DeviceInfo returns the identity block from the last refresh. Zero before
// the first refresh unless a profile pinned it.
func (p *Player) DeviceInfo() model.DeviceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Profile returns the resolved (or pinned) device profile.
func (p *Player) Profile() profile.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prof
}

// Reprobe clears the cached protocol/port tuple so the next request probes
// again. Transient failures never trigger this; it is for the caller to
// invoke after a firmware update may have moved the device between HTTP
// and HTTPS. The refresh that follows re-resolves the profile from the
// device's reported identity.
func (p *Player) Reprobe() {
	p.client.Reprobe()
}

// Name returns the device's friendly name, falling back to the host before
// the first refresh.
func (p *Player) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info.Name != "" {
		return p.info.Name
	}
	return p.host
}

// UUID returns the device id, empty before the first refresh.
func (p *Player) UUID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.UUID
}

// Role returns the merged multiroom role.
func (p *Player) Role() model.Role {
	return p.state.Snapshot().Role
}

// Group returns the linked group, nil when the player is not linked. Device
// role and linkage can disagree until callers join the player or run
// LinkGroups over a refreshed set.
func (p *Player) Group() *Group {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.group
}

// Slaves returns the authoritative slave list the device reported on the
// last refresh. Non-empty only while the device masters a group; entries
// cover every slave the hardware knows, including ones this process holds
// no Player for.
func (p *Player) Slaves() []model.SlaveInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SlaveInfo(nil), p.slaves...)
}

// SetStateCallback replaces the change callback.
func (p *Player) SetStateCallback(cb StateCallback) {
	p.mu.Lock()
	p.onStateChanged = cb
	p.mu.Unlock()
}

// PositionUpdatedAt reports when the playback position was last confirmed by
// the device, for caller-side extrapolation between polls.
func (p *Player) PositionUpdatedAt() time.Time {
	return p.state.PositionUpdatedAt()
}

// AvailableSources lists the selectable inputs: the profile's hardware table
// filtered against what the firmware advertises, plus the active streaming
// source when one is playing.
func (p *Player) AvailableSources() []model.Source {
	p.mu.Lock()
	info := p.info
	p.mu.Unlock()

	advertised := make([]model.Source, 0, len(info.InputList))
	for _, in := range info.InputList {
		advertised = append(advertised, model.Source(in))
	}
	sources := profile.FilterInputs(info.Model, advertised)

	snap := p.state.Snapshot()
	active := snap.Source
	if active == model.SourceNone || active == model.SourceMultiroom {
		return sources
	}
	for _, s := range sources {
		if s == active {
			return sources
		}
	}
	return append(sources, active)
}

// Shuffle returns the merged shuffle flag, nil when unknown or when the
// active source does not support loop modes.
func (p *Player) Shuffle() *bool {
	snap := p.state.Snapshot()
	if loopModeDenied[snap.Source] {
		return nil
	}
	return snap.Shuffle
}

// Repeat returns the merged repeat mode, nil when unknown or when the active
// source does not support loop modes.
func (p *Player) Repeat() *model.Repeat {
	snap := p.state.Snapshot()
	if loopModeDenied[snap.Source] {
		return nil
	}
	return snap.Repeat
}

// Artwork returns the cover art for the current track, or the bundled
// placeholder when the device reports none. Results are cached per URL.
func (p *Player) Artwork(ctx context.Context) ([]byte, string, error) {
	return p.art.Fetch(ctx, p.artHTTP, p.Status().ImageURL)
}

// EventingHealth classifies how reliably UPnP events track reality for this
// device. HealthUnknown when eventing is off or too little data exists.
func (p *Player) EventingHealth() upnp.HealthStatus {
	p.mu.Lock()
	sub := p.subscriber
	p.mu.Unlock()
	if sub == nil {
		return upnp.HealthUnknown
	}
	return sub.Health().Status()
}

// Close stops eventing and releases idle connections. The player must not be
// used afterwards. Safe to call more than once.
func (p *Player) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sub := p.subscriber
	p.subscriber = nil
	p.mu.Unlock()

	if sub != nil {
		sub.Stop(ctx)
	}
	p.client.Close()
	p.artHTTP.CloseIdleConnections()
	return nil
}

// opCtx applies the default deadline when the caller brought none.
func (p *Player) opCtx(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, budget)
}

// notify fires the state callback outside the player mutex.
func (p *Player) notify(changed []model.Field) {
	if len(changed) == 0 {
		return
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	p.mu.Lock()
	cb := p.onStateChanged
	p.mu.Unlock()
	if cb != nil {
		cb(p, changed)
	}
}

// mergeChanged folds newly changed fields into the refresh accumulator.
func mergeChanged(acc map[model.Field]struct{}, fields []model.Field) {
	for _, f := range fields {
		acc[f] = struct{}{}
	}
}

func changedList(acc map[model.Field]struct{}) []model.Field {
	if len(acc) == 0 {
		return nil
	}
	out := make([]model.Field, 0, len(acc))
	for f := range acc {
		out = append(out, f)
	}
	return out
}

// handleEvent merges a UPnP event into the snapshot. Runs on the listener
// goroutine; the synchronizer is internally locked, so no player mutex here.
func (p *Player) handleEvent(e upnp.Event) {
	p.notify(p.state.UpdateFromUPnP(e.Patch))
}

// maybeStartEventing subscribes once after the first successful refresh.
// Subscription failure is not an error: the player degrades to polling.
func (p *Player) maybeStartEventing(ctx context.Context) {
	p.mu.Lock()
	if p.listener == nil || p.subscriber != nil || p.eventingTried || p.closed {
		p.mu.Unlock()
		return
	}
	p.eventingTried = true
	logger := p.logger
	p.mu.Unlock()

	sub := upnp.NewSubscriber(p.host, p.listener, p.handleEvent,
		upnp.WithSubscriberLogger(logger))
	if err := sub.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("upnp eventing unavailable, staying on polling")
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.Stop(context.Background())
		return
	}
	p.subscriber = sub
	p.mu.Unlock()
}
