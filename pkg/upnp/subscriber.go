package upnp

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkplay-community/linkplay-go/internal/log"
	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/model"
)

const (
	defaultSubscribeTimeout = 1800
	defaultRenewalInterval  = 30 * time.Second
	renewalBuffer           = 60
	maxBackoff              = 600 * time.Second
)

// Subscriber keeps one device's GENA subscriptions alive and feeds parsed
// events to its owner. It renews before expiry, resubscribes on 412 and on
// empty-event signals, and backs off exponentially when the device stops
// cooperating. HTTP polling is unaffected either way: eventing is an
// accelerator, not a dependency.
type Subscriber struct {
	host    string
	descURL string
	logger  zerolog.Logger

	listener   *Listener
	client     *SubscriptionClient
	httpClient *http.Client
	health     *HealthTracker
	onEvent    func(Event)

	timeoutSec      int
	renewalInterval time.Duration
	now             func() time.Time

	mu          sync.Mutex
	token       string
	desc        *Description
	subs        map[Service]*activeSub
	failures    int
	lastAttempt time.Time
	started     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

type activeSub struct {
	sid      string
	eventURL string
	renewAt  time.Time
	seq      int
	seen     bool
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithDescriptionURL overrides the conventional :49152/description.xml
// location.
func WithDescriptionURL(u string) SubscriberOption {
	return func(s *Subscriber) { s.descURL = u }
}

// WithSubscribeTimeout sets the requested subscription lifetime in
// seconds. Devices may grant less.
func WithSubscribeTimeout(sec int) SubscriberOption {
	return func(s *Subscriber) { s.timeoutSec = sec }
}

// WithRenewalInterval sets how often the maintenance loop wakes up.
func WithRenewalInterval(d time.Duration) SubscriberOption {
	return func(s *Subscriber) { s.renewalInterval = d }
}

// WithSubscriberLogger attaches a logger.
func WithSubscriberLogger(logger zerolog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = logger }
}

// WithSubscriberClock substitutes the time source for tests.
func WithSubscriberClock(now func() time.Time) SubscriberOption {
	return func(s *Subscriber) { s.now = now }
}

// NewSubscriber returns a stopped subscriber for host. onEvent receives
// every parsed non-empty delivery; it runs on the listener's serving
// goroutine and must not block.
func NewSubscriber(host string, listener *Listener, onEvent func(Event), opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		host:            host,
		descURL:         DefaultDescriptionURL(host),
		logger:          log.WithComponent("upnp.subscriber").With().Str("host", host).Logger(),
		listener:        listener,
		client:          NewSubscriptionClient(10 * time.Second),
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		onEvent:         onEvent,
		timeoutSec:      defaultSubscribeTimeout,
		renewalInterval: defaultRenewalInterval,
		now:             time.Now,
		subs:            make(map[Service]*activeSub),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = NewHealthTracker(WithHealthLogger(s.logger))
	return s
}

// Health returns the tracker comparing eventing against HTTP polling.
// Callers feed it their poll-detected changes.
func (s *Subscriber) Health() *HealthTracker { return s.health }

// Description returns the device description fetched at Start, nil before.
func (s *Subscriber) Description() *Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// Start fetches the device description, subscribes to its evented
// services and launches the maintenance loop. At least one service must
// subscribe successfully.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.token = s.listener.Register(s.handleNotify)
	s.mu.Unlock()

	desc, err := FetchDescription(ctx, s.httpClient, s.descURL)
	if err != nil {
		s.listener.Unregister(s.token)
		return err
	}
	if _, ok := desc.EventURL(ServiceAVTransport); !ok {
		s.listener.Unregister(s.token)
		return lperr.New(lperr.ErrUnsupported, "upnp.subscribe").
			WithDevice(s.host, desc.ModelName, "").
			WithCause(errors.New("no evented AVTransport service"))
	}

	s.mu.Lock()
	s.desc = desc
	s.logger = log.Device(s.logger, s.host, desc.ModelName, "")
	s.mu.Unlock()

	if n := s.subscribeMissing(ctx); n == 0 {
		s.listener.Unregister(s.token)
		return lperr.New(lperr.ErrConnection, "upnp.subscribe").
			WithDevice(s.host, desc.ModelName, "").
			WithCause(errors.New("no service accepted a subscription"))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.maintain(loopCtx)
	return nil
}

// Stop cancels the maintenance loop, unsubscribes everywhere and detaches
// from the listener. Safe to call twice.
func (s *Subscriber) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	token := s.token
	subs := make([]*activeSub, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[Service]*activeSub)
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	for _, sub := range subs {
		s.client.Unsubscribe(ctx, sub.eventURL, sub.sid)
	}
	s.listener.Unregister(token)
	s.logger.Info().Msg("unsubscribed from device events")
}

// subscribeMissing subscribes every described service that has no active
// subscription. Returns the number of currently active subscriptions.
func (s *Subscriber) subscribeMissing(ctx context.Context) int {
	s.mu.Lock()
	desc := s.desc
	token := s.token
	s.lastAttempt = s.now()
	s.mu.Unlock()

	succeeded := 0
	failed := 0
	for _, service := range Services {
		eventURL, ok := desc.EventURL(service)
		if !ok {
			continue
		}
		s.mu.Lock()
		_, active := s.subs[service]
		s.mu.Unlock()
		if active {
			succeeded++
			continue
		}

		callbackURL := s.listener.CallbackURL(token, service)
		sid, granted, err := s.client.Subscribe(ctx, eventURL, callbackURL, s.timeoutSec)
		if err != nil {
			s.logger.Warn().Err(err).Str("service", string(service)).Msg("subscribe failed")
			failed++
			continue
		}

		s.mu.Lock()
		s.subs[service] = &activeSub{
			sid:      sid,
			eventURL: eventURL,
			renewAt:  s.now().Add(renewIn(granted)),
		}
		s.mu.Unlock()
		succeeded++
		s.logger.Info().Str("service", string(service)).Str("sid", sid).
			Int("timeout_s", granted).Msg("subscribed to device events")
	}

	s.mu.Lock()
	if failed > 0 && succeeded == 0 {
		s.failures++
	} else if failed == 0 {
		s.failures = 0
	}
	s.mu.Unlock()
	return succeeded
}

// maintain renews expiring subscriptions and re-establishes missing ones.
func (s *Subscriber) maintain(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.renewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.renewDue(ctx)
			if s.shouldAttempt() {
				s.subscribeMissing(ctx)
			}
		}
	}
}

func (s *Subscriber) renewDue(ctx context.Context) {
	s.mu.Lock()
	due := make(map[Service]*activeSub)
	for service, sub := range s.subs {
		if !s.now().Before(sub.renewAt) {
			due[service] = sub
		}
	}
	s.mu.Unlock()

	for service, sub := range due {
		opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		granted, err := s.client.Renew(opCtx, sub.eventURL, sub.sid, s.timeoutSec)
		cancel()

		switch {
		case errors.Is(err, ErrSubscriptionGone):
			s.logger.Info().Str("service", string(service)).Str("sid", sub.sid).
				Msg("subscription expired on device, resubscribing")
			s.dropSub(service, sub.sid)
			s.subscribeMissing(ctx)
		case err != nil:
			s.logger.Warn().Err(err).Str("service", string(service)).Msg("renew failed")
		default:
			s.mu.Lock()
			if cur, ok := s.subs[service]; ok && cur.sid == sub.sid {
				cur.renewAt = s.now().Add(renewIn(granted))
			}
			s.mu.Unlock()
		}
	}
}

// handleNotify runs on the listener's serving goroutine for every delivery
// addressed to this subscriber's token.
func (s *Subscriber) handleNotify(service Service, sid string, seq int, body []byte) {
	s.mu.Lock()
	sub := s.subs[service]
	if sub != nil && sub.sid == sid {
		if sub.seen && seq > 0 && seq != sub.seq+1 {
			s.logger.Debug().Int("expected", sub.seq+1).Int("got", seq).
				Str("service", string(service)).Msg("event sequence gap")
		}
		sub.seq = seq
		sub.seen = true
	}
	s.mu.Unlock()
	if sub == nil || sub.sid != sid {
		s.logger.Debug().Str("sid", sid).Str("service", string(service)).
			Msg("event for stale subscription")
		return
	}

	event, err := ParseNotify(service, body)
	if err != nil {
		s.logger.Warn().Err(err).Str("service", string(service)).Msg("unparseable event")
		return
	}
	if event.Empty {
		// Firmware sends variable-less frames when the subscription broke
		// on its side. Drop it and let the maintenance loop rebuild.
		s.logger.Warn().Str("service", string(service)).Str("sid", sid).
			Msg("empty event frame, scheduling resubscribe")
		s.dropSub(service, sid)
		return
	}

	s.health.RecordEvent(fieldsOf(event.Patch))
	if s.onEvent != nil {
		s.onEvent(event)
	}
}

func (s *Subscriber) dropSub(service Service, sid string) {
	s.mu.Lock()
	if cur, ok := s.subs[service]; ok && cur.sid == sid {
		delete(s.subs, service)
	}
	s.mu.Unlock()
}

// shouldAttempt gates resubscription attempts behind exponential backoff:
// 30s, 60s, 120s, ... capped at 10 minutes.
func (s *Subscriber) shouldAttempt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == len(s.describedServices()) {
		return false
	}
	if s.failures == 0 {
		return true
	}
	backoff := 30 * time.Second * (1 << s.failures)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	return s.now().Sub(s.lastAttempt) > backoff
}

// describedServices lists the services the description actually events.
// Caller holds mu.
func (s *Subscriber) describedServices() []Service {
	var out []Service
	for _, service := range Services {
		if _, ok := s.desc.EventURL(service); ok {
			out = append(out, service)
		}
	}
	return out
}

func renewIn(grantedSec int) time.Duration {
	sec := grantedSec - renewalBuffer
	if sec < 60 {
		sec = 60
	}
	return time.Duration(sec) * time.Second
}

func fieldsOf(patch model.StatusPatch) []model.Field {
	values := patch.FieldValues()
	out := make([]model.Field, 0, len(values))
	for f := range values {
		out = append(out, f)
	}
	return out
}
