// Package transport implements the device HTTP(S) client: one-shot
// protocol/port probing with a permanently cached endpoint tuple,
// self-signed and mutual TLS, bounded retries with escalating log levels,
// and the logical-endpoint chain resolver.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/linkplay-community/linkplay-go/internal/certs"
	"github.com/linkplay-community/linkplay-go/internal/log"
	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
)

const (
	apiPath      = "/httpapi.asp?command="
	probeCommand = "getStatusEx"
	rawOKBody    = `{"raw":"OK"}`

	// probeFloor is the minimum per-candidate probe timeout. Mutual-TLS
	// handshakes on the weaker SoCs run to several seconds.
	probeFloor = 5 * time.Second

	maxAttempts  = 4
	maxBodyBytes = 1 << 20
)

// standardCandidates is the probe order when neither the caller nor the
// profile pins a port. HTTPS first: recent firmware answers 443 and refuses
// plain HTTP entirely.
var standardCandidates = []profile.PortSpec{
	{Protocol: "https", Port: 443},
	{Protocol: "https", Port: 4443},
	{Protocol: "https", Port: 8443},
	{Protocol: "http", Port: 80},
	{Protocol: "http", Port: 8080},
}

// Client is the HTTP(S) transport for a single device. Safe for concurrent
// use. The first request probes for a working (protocol, port) pair and
// caches it for the lifetime of the client; only Reprobe clears it.
type Client struct {
	host string
	conn profile.Conn
	log  zerolog.Logger

	forcedProtocol string
	forcedPort     int

	plain  *http.Client
	secure *http.Client

	mu       sync.Mutex
	baseURL  string
	protocol string
	port     int

	metaMu   sync.Mutex
	failures int
	model    string
	firmware string
}

// Option configures a Client.
type Option func(*Client)

// WithProtocol pins the protocol ("http" or "https"). Combined with
// WithPort the probe tries exactly that pair and nothing else.
func WithProtocol(protocol string) Option {
	return func(c *Client) { c.forcedProtocol = strings.ToLower(protocol) }
}

// WithPort pins the port. Without WithProtocol the probe tries HTTPS then
// HTTP on it.
func WithPort(port int) Option {
	return func(c *Client) { c.forcedPort = port }
}

// WithLogger replaces the package logger, typically with a Player's
// device-scoped logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a transport for host using the profile's connection settings.
// It fails only when the profile requires the embedded client certificate
// and the certificate cannot be loaded.
func New(host string, conn profile.Conn, opts ...Option) (*Client, error) {
	if conn.ConnectTimeout <= 0 {
		conn.ConnectTimeout = time.Second
	}
	if conn.ResponseTimeout <= 0 {
		conn.ResponseTimeout = 3 * time.Second
	}

	c := &Client{
		host: host,
		conn: conn,
		log:  log.WithComponent("transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("host", host).Logger()

	dialer := &net.Dialer{Timeout: conn.ConnectTimeout}
	c.plain = &http.Client{
		Timeout: conn.ResponseTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConnsPerHost: 2,
		},
	}

	// Devices present self-signed certificates with bogus hostnames;
	// verification is impossible by design of the platform.
	tlsCfg := &tls.Config{InsecureSkipVerify: true}
	secureTimeout := conn.ResponseTimeout
	if conn.RequiresClientCert {
		pair, err := certs.Pair()
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
		if secureTimeout < probeFloor {
			secureTimeout = probeFloor
		}
	}
	c.secure = &http.Client{
		Timeout: secureTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSClientConfig:     tlsCfg,
			TLSHandshakeTimeout: secureTimeout,
			MaxIdleConnsPerHost: 2,
		},
	}
	return c, nil
}

// Host returns the device address the client talks to.
func (c *Client) Host() string { return c.host }

// Close releases pooled connections. The client stays usable; subsequent
// requests dial fresh.
func (c *Client) Close() {
	c.plain.CloseIdleConnections()
	c.secure.CloseIdleConnections()
}

// SetDeviceContext attaches model and firmware to subsequent log lines and
// errors. Called by the Player after the first device-info fetch.
func (c *Client) SetDeviceContext(deviceModel, firmware string) {
	c.metaMu.Lock()
	c.model, c.firmware = deviceModel, firmware
	c.metaMu.Unlock()
}

// ProbeResult returns the cached endpoint tuple for caller-side
// persistence. ok is false before the first successful probe.
func (c *Client) ProbeResult() (protocol string, port int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol, c.port, c.baseURL != ""
}

// Reprobe clears the cached endpoint tuple. Transient request failures
// never clear it; this is for the caller to invoke after a firmware update
// may have changed the device's protocol.
func (c *Client) Reprobe() {
	c.mu.Lock()
	c.baseURL, c.protocol, c.port = "", "", 0
	c.mu.Unlock()
	c.event(zerolog.InfoLevel).Msg("endpoint cache cleared")
}

// Execute runs one command and returns the response body, which is
// guaranteed to be valid JSON: non-JSON bodies are accepted only for
// commands in the raw allow-list and come back as {"raw":"OK"}.
func (c *Client) Execute(ctx context.Context, command string) ([]byte, error) {
	body, err := c.do(ctx, command)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if json.Valid(trimmed) {
		return trimmed, nil
	}
	if AllowsRawResponse(command) {
		return []byte(rawOKBody), nil
	}
	deviceModel, firmware := c.deviceContext()
	return nil, lperr.New(lperr.ErrMalformed, "transport.execute").
		WithEndpoint(command).
		WithDevice(c.host, deviceModel, firmware).
		WithCause(fmt.Errorf("body %q is not JSON", clip(trimmed)))
}

// ExecuteOK runs an imperative command whose success answer is "OK", an
// empty body, or a JSON acknowledgement.
func (c *Client) ExecuteOK(ctx context.Context, command string) error {
	body, err := c.do(ctx, command)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(string(body))
	deviceModel, firmware := c.deviceContext()
	switch {
	case trimmed == "" || strings.EqualFold(trimmed, "OK"):
		return nil
	case strings.Contains(strings.ToLower(trimmed), "unknown command"):
		return lperr.New(lperr.ErrUnsupported, "transport.execute").
			WithEndpoint(command).
			WithDevice(c.host, deviceModel, firmware).
			WithCause(errors.New(trimmed))
	case json.Valid([]byte(trimmed)):
		return nil
	case AllowsRawResponse(command):
		return nil
	}
	return lperr.New(lperr.ErrMalformed, "transport.execute").
		WithEndpoint(command).
		WithDevice(c.host, deviceModel, firmware).
		WithCause(fmt.Errorf("unexpected body %q", clip([]byte(trimmed))))
}

// ExecuteChain walks the command variants in order and returns the first
// successful body together with the command that produced it. The chain is
// re-walked on every call; a working variant is never pinned.
func (c *Client) ExecuteChain(ctx context.Context, commands []string) ([]byte, string, error) {
	if len(commands) == 0 {
		deviceModel, firmware := c.deviceContext()
		return nil, "", lperr.New(lperr.ErrUnsupported, "transport.chain").
			WithDevice(c.host, deviceModel, firmware)
	}
	var lastErr error
	for _, command := range commands {
		body, err := c.Execute(ctx, command)
		if err == nil {
			return body, command, nil
		}
		lastErr = err
		if errors.Is(err, lperr.ErrCancelled) || ctx.Err() != nil {
			break
		}
	}
	return nil, "", lastErr
}

// do resolves the endpoint tuple and runs command with bounded retries on
// transient failures. Semantic failures are never retried.
func (c *Client) do(ctx context.Context, command string) ([]byte, error) {
	base, err := c.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	operation := func() ([]byte, error) {
		body, err := c.roundTrip(ctx, base, command)
		if err != nil {
			if lperr.IsTransient(err) && ctx.Err() == nil {
				c.noteFailure(command, err)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		c.noteSuccess()
		return body, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = 2 * time.Second

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(maxAttempts),
	)
	if err != nil {
		if lperr.KindOf(err) == nil {
			err = c.classify("transport.request", command, err)
		}
		return nil, err
	}
	return body, nil
}

// ensureReady returns the cached base URL, probing for one on first use.
// Probing is serialized; concurrent first requests share the winner.
func (c *Client) ensureReady(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseURL != "" {
		return c.baseURL, nil
	}

	attemptTimeout := c.conn.ResponseTimeout
	if attemptTimeout < probeFloor {
		attemptTimeout = probeFloor
	}

	var lastErr error
	for _, cand := range c.candidates() {
		if err := ctx.Err(); err != nil {
			return "", c.classify("transport.probe", probeCommand, err)
		}
		base := cand.Protocol + "://" + net.JoinHostPort(c.host, strconv.Itoa(cand.Port))
		probeCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		body, err := c.roundTrip(probeCtx, base, probeCommand)
		cancel()
		if err == nil && !probeBodyOK(body) {
			err = lperr.New(lperr.ErrMalformed, "transport.probe").
				WithEndpoint(probeCommand).
				WithCause(fmt.Errorf("unparseable probe body %q", clip(body)))
		}
		if err == nil {
			c.baseURL, c.protocol, c.port = base, cand.Protocol, cand.Port
			c.event(zerolog.InfoLevel).
				Str("protocol", cand.Protocol).
				Int("port", cand.Port).
				Msg("endpoint probe succeeded")
			return base, nil
		}
		if errors.Is(err, lperr.ErrCancelled) {
			return "", err
		}
		c.event(zerolog.DebugLevel).
			Err(err).
			Str("protocol", cand.Protocol).
			Int("port", cand.Port).
			Msg("endpoint probe candidate failed")
		lastErr = err
	}

	deviceModel, firmware := c.deviceContext()
	return "", lperr.Wrap(lperr.ErrConnection, "transport.probe", lastErr).
		WithDevice(c.host, deviceModel, firmware)
}

// candidates builds the probe order from caller pins, profile preferences,
// and the standard list.
func (c *Client) candidates() []profile.PortSpec {
	switch {
	case c.forcedProtocol != "" && c.forcedPort != 0:
		return []profile.PortSpec{{Protocol: c.forcedProtocol, Port: c.forcedPort}}
	case c.forcedPort != 0:
		return []profile.PortSpec{
			{Protocol: "https", Port: c.forcedPort},
			{Protocol: "http", Port: c.forcedPort},
		}
	}

	merged := make([]profile.PortSpec, 0, len(c.conn.Candidates)+len(standardCandidates))
	merged = append(merged, c.conn.Candidates...)
	merged = append(merged, standardCandidates...)

	seen := make(map[profile.PortSpec]struct{}, len(merged))
	out := merged[:0]
	for _, cand := range merged {
		if c.forcedProtocol != "" && cand.Protocol != c.forcedProtocol {
			continue
		}
		if _, dup := seen[cand]; dup {
			continue
		}
		seen[cand] = struct{}{}
		out = append(out, cand)
	}
	return out
}

// roundTrip is a single request attempt with no retry policy.
func (c *Client) roundTrip(ctx context.Context, base, command string) ([]byte, error) {
	const op = "transport.request"

	// Device firmwares do not URL-decode the command parameter; it is
	// appended verbatim.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+apiPath+command, nil)
	if err != nil {
		return nil, c.classify(op, command, err)
	}
	httpc := c.plain
	if strings.HasPrefix(base, "https:") {
		httpc = c.secure
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, c.classify(op, command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		deviceModel, firmware := c.deviceContext()
		return nil, lperr.New(lperr.ErrConnection, op).
			WithEndpoint(command).
			WithDevice(c.host, deviceModel, firmware).
			WithCause(fmt.Errorf("http status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.classify(op, command, err)
	}
	return body, nil
}

// classify maps a low-level failure onto the error taxonomy with device
// context attached.
func (c *Client) classify(op, command string, err error) error {
	kind := lperr.ErrConnection
	switch {
	case errors.Is(err, context.Canceled):
		kind = lperr.ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		kind = lperr.ErrTimeout
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			kind = lperr.ErrTimeout
		}
	}
	deviceModel, firmware := c.deviceContext()
	return lperr.Wrap(kind, op, err).
		WithEndpoint(command).
		WithDevice(c.host, deviceModel, firmware)
}

// noteFailure counts a transient failure and logs it at the escalated
// level: the first two consecutive failures warn, the next two drop to
// debug so an unplugged device cannot flood the log, and persistent
// failure escalates to error.
func (c *Client) noteFailure(command string, err error) {
	c.metaMu.Lock()
	c.failures++
	n := c.failures
	c.metaMu.Unlock()

	level := zerolog.WarnLevel
	switch {
	case n > 4:
		level = zerolog.ErrorLevel
	case n > 2:
		level = zerolog.DebugLevel
	}
	c.event(level).
		Err(err).
		Str("command", command).
		Int("consecutive_failures", n).
		Msg("request failed")
}

func (c *Client) noteSuccess() {
	c.metaMu.Lock()
	c.failures = 0
	c.metaMu.Unlock()
}

func (c *Client) deviceContext() (deviceModel, firmware string) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	return c.model, c.firmware
}

func (c *Client) event(level zerolog.Level) *zerolog.Event {
	deviceModel, firmware := c.deviceContext()
	return c.log.WithLevel(level).Str("model", deviceModel).Str("firmware", firmware)
}

// probeBodyOK accepts a parseable JSON body or a plain OK.
func probeBodyOK(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if json.Valid(trimmed) {
		return true
	}
	return strings.EqualFold(string(trimmed), "OK")
}

func clip(b []byte) string {
	const max = 64
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
