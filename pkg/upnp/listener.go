package upnp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/linkplay-community/linkplay-go/internal/log"
)

func init() {
	// GENA delivers events with a method net/http knows nothing about.
	chi.RegisterMethod("NOTIFY")
}

// NotifyHandler receives one NOTIFY delivery for a registered token.
type NotifyHandler func(service Service, sid string, seq int, body []byte)

// Listener is the shared NOTIFY endpoint for every subscriber in the
// process. Each subscriber registers under a random token; devices post
// events to /notify/{token}/{service} and the listener dispatches by
// token. One port serves any number of devices.
type Listener struct {
	listenAddr  string
	advertiseIP string
	logger      zerolog.Logger

	server *http.Server
	ln     net.Listener
	wg     sync.WaitGroup

	mu      sync.RWMutex
	routes  map[string]NotifyHandler
	started bool
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenAddr sets the TCP address to bind. Defaults to ":0", an
// ephemeral port on all interfaces.
func WithListenAddr(addr string) ListenerOption {
	return func(l *Listener) { l.listenAddr = addr }
}

// WithAdvertiseIP sets the IP written into callback URLs. Defaults to the
// local address of an outbound route, which is what devices on the same
// LAN can reach.
func WithAdvertiseIP(ip string) ListenerOption {
	return func(l *Listener) { l.advertiseIP = ip }
}

// WithListenerLogger attaches a logger.
func WithListenerLogger(logger zerolog.Logger) ListenerOption {
	return func(l *Listener) { l.logger = logger }
}

// NewListener returns an unstarted listener.
func NewListener(opts ...ListenerOption) *Listener {
	l := &Listener{
		listenAddr: ":0",
		logger:     log.WithComponent("upnp.listener"),
		routes:     make(map[string]NotifyHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start binds the port and begins serving NOTIFY requests.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}

	ln, err := net.Listen("tcp", l.listenAddr)
	if err != nil {
		return fmt.Errorf("bind notify listener: %w", err)
	}
	l.ln = ln

	if l.advertiseIP == "" {
		ip, err := outboundIP()
		if err != nil {
			ln.Close()
			return fmt.Errorf("discover advertise ip: %w", err)
		}
		l.advertiseIP = ip
	}

	router := chi.NewRouter()
	router.Method("NOTIFY", "/notify/{token}/{service}", http.HandlerFunc(l.handleNotify))

	l.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	l.started = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error().Err(err).Msg("notify listener stopped")
		}
	}()

	l.logger.Info().Str("addr", ln.Addr().String()).Str("advertise_ip", l.advertiseIP).
		Msg("notify listener started")
	return nil
}

// Stop shuts the listener down, waiting for in-flight deliveries up to the
// context deadline.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = false
	server := l.server
	l.mu.Unlock()

	err := server.Shutdown(ctx)
	l.wg.Wait()
	return err
}

// Register installs a handler and returns its routing token.
func (l *Listener) Register(h NotifyHandler) string {
	token := uuid.NewString()
	l.mu.Lock()
	l.routes[token] = h
	l.mu.Unlock()
	return token
}

// Unregister removes a token. Deliveries for it answer 404 afterwards.
func (l *Listener) Unregister(token string) {
	l.mu.Lock()
	delete(l.routes, token)
	l.mu.Unlock()
}

// CallbackURL returns the URL a device should NOTIFY for one token and
// service. Valid only after Start.
func (l *Listener) CallbackURL(token string, s Service) string {
	return fmt.Sprintf("http://%s/notify/%s/%s",
		net.JoinHostPort(l.advertiseIP, fmt.Sprint(l.Port())), token, pathSegment(s))
}

// Port returns the bound port, 0 before Start.
func (l *Listener) Port() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.ln == nil {
		return 0
	}
	return l.ln.Addr().(*net.TCPAddr).Port
}

func (l *Listener) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("NT") != "upnp:event" || r.Header.Get("NTS") != "upnp:propchange" {
		http.Error(w, "invalid event headers", http.StatusBadRequest)
		return
	}
	sid := r.Header.Get("SID")
	if sid == "" {
		http.Error(w, "missing SID", http.StatusBadRequest)
		return
	}

	service, ok := serviceFromSegment(chi.URLParam(r, "service"))
	if !ok {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}

	token := chi.URLParam(r, "token")
	l.mu.RLock()
	handler := l.routes[token]
	l.mu.RUnlock()
	if handler == nil {
		l.logger.Debug().Str("token", token).Str("sid", sid).Msg("notify for unknown token")
		http.Error(w, "unknown callback", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusInternalServerError)
		return
	}

	handler(service, sid, parseSEQ(r.Header.Get("SEQ")), body)
	w.WriteHeader(http.StatusOK)
}

func pathSegment(s Service) string {
	return strings.ToLower(string(s))
}

func serviceFromSegment(seg string) (Service, bool) {
	switch seg {
	case "avtransport":
		return ServiceAVTransport, true
	case "renderingcontrol":
		return ServiceRenderingControl, true
	}
	return "", false
}

// outboundIP finds the local address of the default route without sending
// any packets.
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
