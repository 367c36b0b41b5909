package discovery

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
)

const (
	ssdpAddr     = "239.255.255.250:1900"
	searchTarget = "urn:schemas-upnp-org:device:MediaRenderer:1"
)

// Response is one SSDP search reply, deduplicated by USN.
type Response struct {
	Location string
	USN      string
	Server   string
	ST       string
	Headers  map[string]string
	FromIP   string
}

// search sends multi-pass M-SEARCH probes and collects replies until the
// listen window closes. Devices answer unicast on the socket that asked,
// so one ephemeral port serves the whole search.
func (f *Finder) search(ctx context.Context) ([]Response, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, lperr.Wrap(lperr.ErrConnection, "discovery.search", err)
	}
	defer conn.Close()

	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, lperr.Wrap(lperr.ErrConnection, "discovery.search", err)
	}

	// Repeated sends cover UDP loss; devices answer every pass and the
	// USN map collapses the duplicates.
	for pass := 0; pass < f.passes; pass++ {
		if err := sendSearch(conn, addr); err != nil {
			return nil, lperr.Wrap(lperr.ErrConnection, "discovery.search", err)
		}
		if pass < f.passes-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.passInterval):
			}
		}
	}

	deadline := time.Now().Add(f.window)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, lperr.Wrap(lperr.ErrConnection, "discovery.search", err)
	}

	byUSN := make(map[string]Response)
	buf := make([]byte, 2048)
	for {
		n, raddr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return responseList(byUSN), lperr.Wrap(lperr.ErrConnection, "discovery.search", err)
		}

		resp := parseResponse(string(buf[:n]))
		if resp.Location == "" || resp.USN == "" {
			continue
		}
		resp.FromIP = raddr.String()
		if _, exists := byUSN[resp.USN]; !exists {
			byUSN[resp.USN] = resp
		}
	}
	return responseList(byUSN), nil
}

func sendSearch(conn net.PacketConn, addr *net.UDPAddr) error {
	msg := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		"MAN: \"ssdp:discover\"",
		"MX: 2",
		"ST: " + searchTarget,
		"",
		"",
	}, "\r\n")
	_, err := conn.WriteTo([]byte(msg), addr)
	return err
}

func parseResponse(raw string) Response {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	headers := make(map[string]string)

	// Status line.
	scanner.Scan()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		headers[key] = strings.TrimSpace(parts[1])
	}

	return Response{
		Location: headers["LOCATION"],
		USN:      headers["USN"],
		Server:   headers["SERVER"],
		ST:       headers["ST"],
		Headers:  headers,
	}
}

func responseList(byUSN map[string]Response) []Response {
	out := make([]Response, 0, len(byUSN))
	for _, r := range byUSN {
		out = append(out, r)
	}
	return out
}
