package upnp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
)

// ErrSubscriptionGone indicates the device no longer knows the SID
// (HTTP 412). The caller must subscribe from scratch.
var ErrSubscriptionGone = errors.New("upnp: subscription gone")

// SubscriptionClient speaks GENA against device event URLs.
type SubscriptionClient struct {
	httpClient *http.Client
}

// NewSubscriptionClient returns a client whose requests time out after
// timeout.
func NewSubscriptionClient(timeout time.Duration) *SubscriptionClient {
	return &SubscriptionClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Subscribe sends a SUBSCRIBE for callbackURL and returns the SID granted
// by the device together with the timeout it actually accepted.
func (c *SubscriptionClient) Subscribe(ctx context.Context, eventURL, callbackURL string, timeoutSec int) (sid string, granted int, err error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventURL, nil)
	if err != nil {
		return "", 0, lperr.Wrap(lperr.ErrConnection, "upnp.subscribe", err)
	}
	req.Header.Set("CALLBACK", fmt.Sprintf("<%s>", callbackURL))
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSec))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, lperr.Wrap(lperr.ErrConnection, "upnp.subscribe", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return "", 0, lperr.New(lperr.ErrConnection, "upnp.subscribe").
			WithCause(fmt.Errorf("status %s", resp.Status))
	}

	sid = resp.Header.Get("SID")
	if sid == "" {
		return "", 0, lperr.New(lperr.ErrMalformed, "upnp.subscribe").
			WithCause(errors.New("no SID in response"))
	}
	return sid, parseTimeout(resp.Header.Get("TIMEOUT")), nil
}

// Renew extends an existing subscription. Returns ErrSubscriptionGone when
// the device answers 412, which means the SID has expired server-side.
func (c *SubscriptionClient) Renew(ctx context.Context, eventURL, sid string, timeoutSec int) (granted int, err error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventURL, nil)
	if err != nil {
		return 0, lperr.Wrap(lperr.ErrConnection, "upnp.renew", err)
	}
	// Renewals carry the SID instead of CALLBACK and NT.
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSec))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, lperr.Wrap(lperr.ErrConnection, "upnp.renew", err)
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusPreconditionFailed {
		return 0, ErrSubscriptionGone
	}
	if resp.StatusCode != http.StatusOK {
		return 0, lperr.New(lperr.ErrConnection, "upnp.renew").
			WithCause(fmt.Errorf("status %s", resp.Status))
	}
	return parseTimeout(resp.Header.Get("TIMEOUT")), nil
}

// Unsubscribe cancels a subscription. Network errors and 412 are swallowed:
// an unreachable or forgetful device has already achieved the goal.
func (c *SubscriptionClient) Unsubscribe(ctx context.Context, eventURL, sid string) error {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", eventURL, nil)
	if err != nil {
		return lperr.Wrap(lperr.ErrConnection, "upnp.unsubscribe", err)
	}
	req.Header.Set("SID", sid)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusOK {
		return nil
	}
	return lperr.New(lperr.ErrConnection, "upnp.unsubscribe").
		WithCause(fmt.Errorf("status %s", resp.Status))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// parseTimeout reads a GENA TIMEOUT header ("Second-1800" or "infinite").
// Infinite becomes 24 hours so renewal arithmetic stays positive.
func parseTimeout(header string) int {
	if header == "infinite" {
		return 86400
	}
	header = strings.TrimPrefix(header, "Second-")
	if n, err := strconv.Atoi(header); err == nil && n > 0 {
		return n
	}
	return 1800
}

// parseSEQ reads a NOTIFY SEQ header; malformed values count as 0.
func parseSEQ(header string) int {
	if n, err := strconv.Atoi(header); err == nil && n >= 0 {
		return n
	}
	return 0
}
