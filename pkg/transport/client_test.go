package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkplay-community/linkplay-go/pkg/lperr"
	"github.com/linkplay-community/linkplay-go/pkg/profile"
)

// fakeDevice is a minimal httpapi.asp responder. handler maps command to
// body; unknown commands answer like real firmware.
type fakeDevice struct {
	srv      *httptest.Server
	requests atomic.Int64
	handler  func(command string) (int, string)
}

func newFakeDevice(t *testing.T, handler func(command string) (int, string)) *fakeDevice {
	t.Helper()
	f := &fakeDevice{handler: handler}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		command := r.URL.Query().Get("command")
		status, body := f.handler(command)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDevice) hostPort(t *testing.T) (string, int) {
	t.Helper()
	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func statusHandler(command string) (int, string) {
	if command == "getStatusEx" {
		return http.StatusOK, `{"uuid":"FF31F09E","project":"WiiM Pro"}`
	}
	return http.StatusOK, "unknown command"
}

// deadPort grabs a free port and releases it so connections get refused.
func deadPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConn(candidates ...profile.PortSpec) profile.Conn {
	return profile.Conn{
		Candidates:      candidates,
		ConnectTimeout:  500 * time.Millisecond,
		ResponseTimeout: time.Second,
	}
}

func TestCandidateOrder(t *testing.T) {
	t.Run("standard list", func(t *testing.T) {
		c, err := New("192.0.2.1", profile.Conn{})
		require.NoError(t, err)
		assert.Equal(t, standardCandidates, c.candidates())
	})

	t.Run("profile candidates first, deduped", func(t *testing.T) {
		c, err := New("192.0.2.1", profile.Conn{
			Candidates: []profile.PortSpec{{Protocol: "https", Port: 443}},
		})
		require.NoError(t, err)
		got := c.candidates()
		require.Equal(t, len(standardCandidates), len(got))
		assert.Equal(t, profile.PortSpec{Protocol: "https", Port: 443}, got[0])
	})

	t.Run("forced port tries https then http", func(t *testing.T) {
		c, err := New("192.0.2.1", profile.Conn{}, WithPort(8089))
		require.NoError(t, err)
		assert.Equal(t, []profile.PortSpec{
			{Protocol: "https", Port: 8089},
			{Protocol: "http", Port: 8089},
		}, c.candidates())
	})

	t.Run("forced pair is exact", func(t *testing.T) {
		c, err := New("192.0.2.1", profile.Conn{}, WithProtocol("http"), WithPort(80))
		require.NoError(t, err)
		assert.Equal(t, []profile.PortSpec{{Protocol: "http", Port: 80}}, c.candidates())
	})
}

func TestProbeWalksCandidatesAndCaches(t *testing.T) {
	dev := newFakeDevice(t, statusHandler)
	host, port := dev.hostPort(t)
	dead := deadPort(t)

	c, err := New(host, testConn(
		profile.PortSpec{Protocol: "http", Port: dead},
		profile.PortSpec{Protocol: "http", Port: port},
	), WithProtocol("http"))
	require.NoError(t, err)

	_, _, ok := c.ProbeResult()
	assert.False(t, ok, "no tuple before first request")

	body, err := c.Execute(context.Background(), "getStatusEx")
	require.NoError(t, err)
	assert.Contains(t, string(body), "WiiM Pro")

	protocol, gotPort, ok := c.ProbeResult()
	require.True(t, ok)
	assert.Equal(t, "http", protocol)
	assert.Equal(t, port, gotPort)
}

func TestEndpointCacheSurvivesFailures(t *testing.T) {
	dev := newFakeDevice(t, statusHandler)
	host, port := dev.hostPort(t)

	c, err := New(host, testConn(profile.PortSpec{Protocol: "http", Port: port}))
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), "getStatusEx")
	require.NoError(t, err)

	dev.srv.Close()

	for i := 0; i < 3; i++ {
		_, err = c.Execute(context.Background(), "getStatusEx")
		require.Error(t, err)
		assert.True(t, lperr.IsTransient(err), "expected transient kind, got %v", err)
	}

	protocol, gotPort, ok := c.ProbeResult()
	require.True(t, ok, "failures must not clear the endpoint cache")
	assert.Equal(t, "http", protocol)
	assert.Equal(t, port, gotPort)
}

func TestReprobeClearsCache(t *testing.T) {
	dev := newFakeDevice(t, statusHandler)
	host, port := dev.hostPort(t)

	c, err := New(host, testConn(profile.PortSpec{Protocol: "http", Port: port}))
	require.NoError(t, err)

	_, err = c.Execute(context.Background(), "getStatusEx")
	require.NoError(t, err)
	_, _, ok := c.ProbeResult()
	require.True(t, ok)

	c.Reprobe()
	_, _, ok = c.ProbeResult()
	assert.False(t, ok)

	before := dev.requests.Load()
	_, err = c.Execute(context.Background(), "getStatusEx")
	require.NoError(t, err)
	assert.Greater(t, dev.requests.Load(), before, "reprobe must trigger a fresh probe")
}

func TestExecuteRawAllowList(t *testing.T) {
	dev := newFakeDevice(t, func(command string) (int, string) {
		switch command {
		case "getStatusEx":
			return http.StatusOK, `{"uuid":"A"}`
		case "EQLoad:Flat", "reboot":
			return http.StatusOK, "OK"
		case "getPlayerStatusEx":
			return http.StatusOK, "OK"
		}
		return http.StatusOK, "unknown command"
	})
	host, port := dev.hostPort(t)

	c, err := New(host, testConn(profile.PortSpec{Protocol: "http", Port: port}))
	require.NoError(t, err)

	t.Run("allow-listed command", func(t *testing.T) {
		body, err := c.Execute(context.Background(), "EQLoad:Flat")
		require.NoError(t, err)
		assert.JSONEq(t, `{"raw":"OK"}`, string(body))
	})

	t.Run("json expected elsewhere", func(t *testing.T) {
		_, err := c.Execute(context.Background(), "getPlayerStatusEx")
		require.Error(t, err)
		assert.ErrorIs(t, err, lperr.ErrMalformed)
	})
}

func TestExecuteOK(t *testing.T) {
	dev := newFakeDevice(t, func(command string) (int, string) {
		switch command {
		case "getStatusEx":
			return http.StatusOK, `{"uuid":"A"}`
		case "setPlayerCmd:play":
			return http.StatusOK, "OK"
		case "setPlayerCmd:switchmode:optical":
			return http.StatusOK, ""
		case "setPlayerCmd:vol:200":
			return http.StatusOK, "Failed"
		}
		return http.StatusOK, "unknown command"
	})
	host, port := dev.hostPort(t)

	c, err := New(host, testConn(profile.PortSpec{Protocol: "http", Port: port}))
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, c.ExecuteOK(ctx, "setPlayerCmd:play"))
	assert.NoError(t, c.ExecuteOK(ctx, "setPlayerCmd:switchmode:optical"), "empty body is success for switchmode")

	err = c.ExecuteOK(ctx, "getLED")
	require.Error(t, err)
	assert.ErrorIs(t, err, lperr.ErrUnsupported, "unknown command answer maps to unsupported")

	err = c.ExecuteOK(ctx, "setPlayerCmd:vol:200")
	require.Error(t, err)
	assert.ErrorIs(t, err, lperr.ErrMalformed)
}

func TestExecuteChain(t *testing.T) {
	dev := newFakeDevice(t, func(command string) (int, string) {
		switch command {
		case "getStatusEx":
			return http.StatusOK, `{"uuid":"A"}`
		case "getPlayerStatus":
			return http.StatusOK, `{"status":"play"}`
		}
		return http.StatusOK, "unknown command"
	})
	host, port := dev.hostPort(t)

	c, err := New(host, testConn(profile.PortSpec{Protocol: "http", Port: port}))
	require.NoError(t, err)

	t.Run("falls back past unsupported variants", func(t *testing.T) {
		body, used, err := c.ExecuteChain(context.Background(), []string{"getPlayerStatusEx", "getPlayerStatus"})
		require.NoError(t, err)
		assert.Equal(t, "getPlayerStatus", used)
		assert.Contains(t, string(body), "play")
	})

	t.Run("empty chain fails without io", func(t *testing.T) {
		before := dev.requests.Load()
		_, _, err := c.ExecuteChain(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, lperr.ErrUnsupported)
		assert.Equal(t, before, dev.requests.Load())
	})
}

func TestDeviceContextOnErrors(t *testing.T) {
	dead := deadPort(t)
	c, err := New("127.0.0.1", testConn(profile.PortSpec{Protocol: "http", Port: dead}), WithProtocol("http"), WithPort(dead))
	require.NoError(t, err)
	c.SetDeviceContext("WiiM Pro", "4.8.618434")

	_, err = c.Execute(context.Background(), "getStatusEx")
	require.Error(t, err)
	assert.ErrorIs(t, err, lperr.ErrConnection)

	var lpe *lperr.Error
	require.ErrorAs(t, err, &lpe)
	assert.Equal(t, "127.0.0.1", lpe.Host)
	assert.Equal(t, "WiiM Pro", lpe.Model)
	assert.Equal(t, "4.8.618434", lpe.Firmware)
}

func TestCancelledRequest(t *testing.T) {
	dev := newFakeDevice(t, func(command string) (int, string) {
		time.Sleep(300 * time.Millisecond)
		return http.StatusOK, `{"uuid":"A"}`
	})
	host, port := dev.hostPort(t)

	c, err := New(host, testConn(profile.PortSpec{Protocol: "http", Port: port}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = c.Execute(ctx, "getStatusEx")
	require.Error(t, err)
	assert.ErrorIs(t, err, lperr.ErrCancelled)
}
