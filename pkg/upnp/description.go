// Package upnp implements the eventing side of a device: GENA
// subscriptions to AVTransport and RenderingControl, a shared NOTIFY
// listener, LastChange parsing into canonical status patches, and the
// health tracker that compares eventing against HTTP polling.
package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
)

// Service identifies one evented UPnP service.
type Service string

const (
	ServiceAVTransport      Service = "AVTransport"
	ServiceRenderingControl Service = "RenderingControl"
)

// Services lists everything a subscriber attaches to.
var Services = []Service{ServiceAVTransport, ServiceRenderingControl}

// descriptionPort is where LinkPlay firmware serves the MediaRenderer
// description document.
const descriptionPort = "49152"

// DefaultDescriptionURL returns the conventional description.xml location
// for a device host.
func DefaultDescriptionURL(host string) string {
	return "http://" + net.JoinHostPort(host, descriptionPort) + "/description.xml"
}

// Description is the parsed device description document: identity plus the
// event and control URLs of the services we subscribe to.
type Description struct {
	DeviceType   string
	FriendlyName string
	Manufacturer string
	ModelName    string
	UDN          string

	base     *url.URL
	services map[Service]descService
}

type descService struct {
	eventSubURL string
	controlURL  string
}

type descRoot struct {
	XMLName xml.Name   `xml:"root"`
	URLBase string     `xml:"URLBase"`
	Device  descDevice `xml:"device"`
}

type descDevice struct {
	DeviceType   string           `xml:"deviceType"`
	FriendlyName string           `xml:"friendlyName"`
	Manufacturer string           `xml:"manufacturer"`
	ModelName    string           `xml:"modelName"`
	UDN          string           `xml:"UDN"`
	Services     []descServiceXML `xml:"serviceList>service"`
	// Embedded devices nest their own service lists.
	Devices []descDevice `xml:"deviceList>device"`
}

type descServiceXML struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// FetchDescription downloads and parses a device description document.
func FetchDescription(ctx context.Context, client *http.Client, descURL string) (*Description, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descURL, nil)
	if err != nil {
		return nil, lperr.Wrap(lperr.ErrConnection, "upnp.describe", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, lperr.Wrap(lperr.ErrConnection, "upnp.describe", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, lperr.New(lperr.ErrConnection, "upnp.describe").
			WithCause(fmt.Errorf("status %s", resp.Status))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, lperr.Wrap(lperr.ErrConnection, "upnp.describe", err)
	}
	return ParseDescription(descURL, body)
}

// ParseDescription parses a description document fetched from descURL.
// Relative service URLs resolve against URLBase when present, the
// document's own URL otherwise.
func ParseDescription(descURL string, body []byte) (*Description, error) {
	var root descRoot
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, lperr.Wrap(lperr.ErrMalformed, "upnp.describe", err)
	}

	base, err := url.Parse(descURL)
	if err != nil {
		return nil, lperr.Wrap(lperr.ErrMalformed, "upnp.describe", err)
	}
	if root.URLBase != "" {
		if u, err := url.Parse(root.URLBase); err == nil {
			base = u
		}
	}

	d := &Description{
		DeviceType:   root.Device.DeviceType,
		FriendlyName: root.Device.FriendlyName,
		Manufacturer: root.Device.Manufacturer,
		ModelName:    root.Device.ModelName,
		UDN:          root.Device.UDN,
		base:         base,
		services:     make(map[Service]descService),
	}
	collectServices(d, root.Device)
	return d, nil
}

func collectServices(d *Description, dev descDevice) {
	for _, svc := range dev.Services {
		for _, want := range Services {
			if !strings.Contains(svc.ServiceType, string(want)) {
				continue
			}
			if _, taken := d.services[want]; taken {
				continue
			}
			d.services[want] = descService{
				eventSubURL: svc.EventSubURL,
				controlURL:  svc.ControlURL,
			}
		}
	}
	for _, sub := range dev.Devices {
		collectServices(d, sub)
	}
}

// IsMediaRenderer reports whether the described device is a MediaRenderer.
func (d *Description) IsMediaRenderer() bool {
	return strings.Contains(d.DeviceType, "MediaRenderer")
}

// EventURL returns the absolute event subscription URL for a service.
func (d *Description) EventURL(s Service) (string, bool) {
	svc, ok := d.services[s]
	if !ok || svc.eventSubURL == "" {
		return "", false
	}
	return d.resolve(svc.eventSubURL), true
}

// ControlURL returns the absolute SOAP control URL for a service.
func (d *Description) ControlURL(s Service) (string, bool) {
	svc, ok := d.services[s]
	if !ok || svc.controlURL == "" {
		return "", false
	}
	return d.resolve(svc.controlURL), true
}

func (d *Description) resolve(raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return d.base.ResolveReference(ref).String()
}
