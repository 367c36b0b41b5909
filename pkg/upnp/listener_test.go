package upnp

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type capturedNotify struct {
	service Service
	sid     string
	seq     int
	body    []byte
}

func startTestListener(t *testing.T) *Listener {
	t.Helper()
	l := NewListener(WithListenAddr("127.0.0.1:0"), WithAdvertiseIP("127.0.0.1"))
	require.NoError(t, l.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, l.Stop(ctx))
	})
	return l
}

func sendNotify(t *testing.T, url string, mutate func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequest("NOTIFY", url, bytes.NewReader([]byte("<e:propertyset/>")))
	require.NoError(t, err)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", "uuid:test-sid")
	if mutate != nil {
		mutate(req)
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestListenerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewListener(WithListenAddr("127.0.0.1:0"), WithAdvertiseIP("127.0.0.1"))
	require.NoError(t, l.Start())
	assert.Greater(t, l.Port(), 0)

	// Start is idempotent.
	require.NoError(t, l.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	require.NoError(t, l.Stop(ctx))
}

func TestListenerCallbackURL(t *testing.T) {
	l := startTestListener(t)
	token := l.Register(func(Service, string, int, []byte) {})

	url := l.CallbackURL(token, ServiceAVTransport)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d/notify/%s/avtransport", l.Port(), token), url)

	url = l.CallbackURL(token, ServiceRenderingControl)
	assert.True(t, strings.HasSuffix(url, "/renderingcontrol"))
}

func TestListenerDispatchesNotify(t *testing.T) {
	l := startTestListener(t)

	got := make(chan capturedNotify, 1)
	token := l.Register(func(service Service, sid string, seq int, body []byte) {
		got <- capturedNotify{service: service, sid: sid, seq: seq, body: body}
	})

	resp := sendNotify(t, l.CallbackURL(token, ServiceAVTransport), func(r *http.Request) {
		r.Header.Set("SEQ", "3")
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case n := <-got:
		assert.Equal(t, ServiceAVTransport, n.service)
		assert.Equal(t, "uuid:test-sid", n.sid)
		assert.Equal(t, 3, n.seq)
		assert.Equal(t, "<e:propertyset/>", string(n.body))
	default:
		t.Fatal("handler not invoked")
	}

	resp = sendNotify(t, l.CallbackURL(token, ServiceRenderingControl), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	n := <-got
	assert.Equal(t, ServiceRenderingControl, n.service)
	assert.Zero(t, n.seq)
}

func TestListenerRejectsBadRequests(t *testing.T) {
	l := startTestListener(t)
	token := l.Register(func(Service, string, int, []byte) {
		t.Error("handler must not run for rejected requests")
	})
	base := l.CallbackURL(token, ServiceAVTransport)

	t.Run("wrong NT header", func(t *testing.T) {
		resp := sendNotify(t, base, func(r *http.Request) {
			r.Header.Set("NT", "upnp:something")
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing SID", func(t *testing.T) {
		resp := sendNotify(t, base, func(r *http.Request) {
			r.Header.Del("SID")
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown service segment", func(t *testing.T) {
		resp := sendNotify(t, strings.Replace(base, "/avtransport", "/connectionmanager", 1), nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("unknown token", func(t *testing.T) {
		resp := sendNotify(t, l.CallbackURL("not-a-token", ServiceAVTransport), nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestListenerUnregister(t *testing.T) {
	l := startTestListener(t)

	token := l.Register(func(Service, string, int, []byte) {
		t.Error("handler must not run after unregister")
	})
	l.Unregister(token)

	resp := sendNotify(t, l.CallbackURL(token, ServiceAVTransport), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
