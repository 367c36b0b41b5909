package upnp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		header string
		want   int
	}{
		{"Second-1800", 1800},
		{"Second-300", 300},
		{"infinite", 86400},
		{"", 1800},
		{"Second-0", 1800},
		{"Second-bogus", 1800},
	}
	for _, tc := range tests {
		t.Run(tc.header, func(t *testing.T) {
			assert.Equal(t, tc.want, parseTimeout(tc.header))
		})
	}
}

func TestParseSEQ(t *testing.T) {
	assert.Equal(t, 0, parseSEQ(""))
	assert.Equal(t, 0, parseSEQ("garbage"))
	assert.Equal(t, 0, parseSEQ("-3"))
	assert.Equal(t, 7, parseSEQ("7"))
}

func TestSubscribeSendsGENAHeaders(t *testing.T) {
	var gotCallback, gotNT, gotTimeout string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCallback = r.Header.Get("CALLBACK")
		gotNT = r.Header.Get("NT")
		gotTimeout = r.Header.Get("TIMEOUT")
		w.Header().Set("SID", "uuid:abc")
		w.Header().Set("TIMEOUT", "Second-600")
	}))
	defer srv.Close()

	client := NewSubscriptionClient(2 * time.Second)
	defer client.httpClient.CloseIdleConnections()

	sid, granted, err := client.Subscribe(context.Background(), srv.URL, "http://10.0.0.5:8089/notify/tok/avtransport", 1800)
	require.NoError(t, err)
	assert.Equal(t, "uuid:abc", sid)
	assert.Equal(t, 600, granted)
	assert.Equal(t, "<http://10.0.0.5:8089/notify/tok/avtransport>", gotCallback)
	assert.Equal(t, "upnp:event", gotNT)
	assert.Equal(t, "Second-1800", gotTimeout)
}

func TestRenewSendsSIDOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "uuid:abc", r.Header.Get("SID"))
		assert.Empty(t, r.Header.Get("CALLBACK"))
		assert.Empty(t, r.Header.Get("NT"))
		w.Header().Set("TIMEOUT", "Second-600")
	}))
	defer srv.Close()

	client := NewSubscriptionClient(2 * time.Second)
	defer client.httpClient.CloseIdleConnections()

	granted, err := client.Renew(context.Background(), srv.URL, "uuid:abc", 1800)
	require.NoError(t, err)
	assert.Equal(t, 600, granted)
}

func TestRenewGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	client := NewSubscriptionClient(2 * time.Second)
	defer client.httpClient.CloseIdleConnections()

	_, err := client.Renew(context.Background(), srv.URL, "uuid:gone", 1800)
	assert.ErrorIs(t, err, ErrSubscriptionGone)
}

func TestUnsubscribeSwallowsExpectedFailures(t *testing.T) {
	t.Run("unreachable device", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		target := srv.URL
		srv.Close()

		client := NewSubscriptionClient(2 * time.Second)
		assert.NoError(t, client.Unsubscribe(context.Background(), target, "uuid:abc"))
	})

	t.Run("already expired", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPreconditionFailed)
		}))
		defer srv.Close()

		client := NewSubscriptionClient(2 * time.Second)
		defer client.httpClient.CloseIdleConnections()
		assert.NoError(t, client.Unsubscribe(context.Background(), srv.URL, "uuid:abc"))
	})

	t.Run("unexpected status surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		client := NewSubscriptionClient(2 * time.Second)
		defer client.httpClient.CloseIdleConnections()
		assert.Error(t, client.Unsubscribe(context.Background(), srv.URL, "uuid:abc"))
	})
}
