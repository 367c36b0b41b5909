// Package discovery locates LinkPlay devices on the local network. It
// searches SSDP for MediaRenderers, filters out responders that are known
// to be other ecosystems, and API-probes the ambiguous rest. SSDP is a
// hint channel only: results are candidates for the control plane, and
// hosts the caller already knows about can be folded in without SSDP
// seeing them.
package discovery

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/linkplay-community/linkplay-go/internal/log"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
	"github.com/linkplay-community/linkplay-go/pkg/transport"
	"github.com/linkplay-community/linkplay-go/pkg/upnp"
)

// Device is one confirmed LinkPlay candidate.
type Device struct {
	Host           string
	DescriptionURL string
	USN            string
	Server         string
}

// VerifyFunc decides whether a host actually speaks the LinkPlay API.
type VerifyFunc func(ctx context.Context, host string) error

// Finder runs discovery rounds.
type Finder struct {
	passes       int
	passInterval time.Duration
	window       time.Duration
	probeTimeout time.Duration
	knownHosts   []string
	verify       VerifyFunc
	logger       zerolog.Logger
}

// Option configures a Finder.
type Option func(*Finder)

// WithPasses sets how many M-SEARCH datagrams one round sends.
func WithPasses(n int) Option {
	return func(f *Finder) { f.passes = n }
}

// WithPassInterval sets the gap between search datagrams.
func WithPassInterval(d time.Duration) Option {
	return func(f *Finder) { f.passInterval = d }
}

// WithWindow sets how long the socket collects replies after the last
// search datagram.
func WithWindow(d time.Duration) Option {
	return func(f *Finder) { f.window = d }
}

// WithKnownHosts adds hosts to probe even when SSDP never mentions them.
// Devices on another subnet or with multicast filtered still show up this
// way.
func WithKnownHosts(hosts ...string) Option {
	return func(f *Finder) { f.knownHosts = append(f.knownHosts, hosts...) }
}

// WithVerify replaces the API probe.
func WithVerify(fn VerifyFunc) Option {
	return func(f *Finder) { f.verify = fn }
}

// WithFinderLogger attaches a logger.
func WithFinderLogger(logger zerolog.Logger) Option {
	return func(f *Finder) { f.logger = logger }
}

// NewFinder returns a Finder with the standard search cadence.
func NewFinder(opts ...Option) *Finder {
	f := &Finder{
		passes:       3,
		passInterval: 500 * time.Millisecond,
		window:       3 * time.Second,
		probeTimeout: 10 * time.Second,
		verify:       probePlayerStatus,
		logger:       log.WithComponent("discovery"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// deniedMarkers identify MediaRenderer responders that are never LinkPlay
// firmware. Checking the announcement text saves an API probe against
// every chatty neighbor on the LAN.
var deniedMarkers = []string{"sonos", "samsung", "chromecast", "denon-heos", "roku"}

// acceptedMarkers accept a responder on its SERVER string alone.
var acceptedMarkers = []string{"wiim", "linkplay"}

type match int

const (
	matchUnknown match = iota
	matchFastPath
	matchDenied
)

func classify(resp Response) match {
	haystack := strings.ToLower(resp.Server + " " + resp.ST + " " + resp.USN)
	for _, marker := range deniedMarkers {
		if strings.Contains(haystack, marker) {
			return matchDenied
		}
	}
	server := strings.ToLower(resp.Server)
	for _, marker := range acceptedMarkers {
		if strings.Contains(server, marker) {
			return matchFastPath
		}
	}
	return matchUnknown
}

// Find runs one SSDP round plus known-host probes and returns confirmed
// devices sorted by host.
func (f *Finder) Find(ctx context.Context) ([]Device, error) {
	responses, err := f.search(ctx)
	if err != nil {
		if len(f.knownHosts) == 0 {
			return nil, err
		}
		// Multicast can be filtered or unavailable; the known hosts
		// still get their probes.
		f.logger.Warn().Err(err).Msg("ssdp search failed, probing known hosts only")
	}

	var (
		mu      sync.Mutex
		devices []Device
	)
	seen := make(map[string]struct{})
	var g errgroup.Group
	g.SetLimit(4)

	for _, resp := range responses {
		host := hostOf(resp.Location)
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}

		switch classify(resp) {
		case matchDenied:
			f.logger.Debug().Str("host", host).Str("server", resp.Server).
				Msg("responder denylisted")
		case matchFastPath:
			f.logger.Debug().Str("host", host).Str("server", resp.Server).
				Msg("accepted on server string")
			mu.Lock()
			devices = append(devices, deviceFrom(resp, host))
			mu.Unlock()
		case matchUnknown:
			g.Go(func() error {
				probeCtx, cancel := context.WithTimeout(ctx, f.probeTimeout)
				defer cancel()
				if err := f.verify(probeCtx, host); err != nil {
					f.logger.Debug().Err(err).Str("host", host).
						Msg("responder failed api probe")
					return nil
				}
				mu.Lock()
				devices = append(devices, deviceFrom(resp, host))
				mu.Unlock()
				return nil
			})
		}
	}

	for _, host := range f.knownHosts {
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, f.probeTimeout)
			defer cancel()
			if err := f.verify(probeCtx, host); err != nil {
				f.logger.Debug().Err(err).Str("host", host).
					Msg("known host failed api probe")
				return nil
			}
			mu.Lock()
			devices = append(devices, Device{
				Host:           host,
				DescriptionURL: upnp.DefaultDescriptionURL(host),
			})
			mu.Unlock()
			return nil
		})
	}

	g.Wait()

	sort.Slice(devices, func(i, j int) bool { return devices[i].Host < devices[j].Host })
	f.logger.Info().Int("devices", len(devices)).Int("responses", len(responses)).
		Msg("discovery round complete")
	return devices, nil
}

func deviceFrom(resp Response, host string) Device {
	return Device{
		Host:           host,
		DescriptionURL: resp.Location,
		USN:            resp.USN,
		Server:         resp.Server,
	}
}

func hostOf(location string) string {
	if location == "" {
		return ""
	}
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// probePlayerStatus confirms a host speaks the LinkPlay API by walking the
// player status command chain under the generic profile.
func probePlayerStatus(ctx context.Context, host string) error {
	client, err := transport.New(host, profile.Generic.Connection)
	if err != nil {
		return err
	}
	_, _, err = client.ExecuteChain(ctx, transport.Chain(profile.Generic, transport.EndpointPlayerStatus))
	return err
}
