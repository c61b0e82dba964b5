package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndpointProbeStatusMapping(t *testing.T) {
	reachable := []int{200, 301, 302, 400, 403, 404, 405}
	transient := []int{500, 502, 503, 504}

	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := NewProbeClient(5 * time.Second)
	probe := EndpointProbe(client, srv.URL)

	for _, code := range reachable {
		status = code
		outcome := probe(context.Background())
		assert.Equal(t, ProbeSuccess, outcome.State, "HTTP %d should count as reachable", code)
	}

	for _, code := range transient {
		status = code
		outcome := probe(context.Background())
		assert.Equal(t, ProbeTransient, outcome.State, "HTTP %d should be retried", code)
	}
}

func TestEndpointProbeConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	probe := EndpointProbe(NewProbeClient(time.Second), url)
	outcome := probe(context.Background())
	assert.Equal(t, ProbeTransient, outcome.State)
	assert.Contains(t, outcome.Reason, "connection error")
}

func TestVerifyRecoversAfterConnectionErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			// drop the connection so the client sees a transport error
			hj, ok := w.(http.Hijacker)
			if assert.True(t, ok) {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := EndpointProbe(NewProbeClient(time.Second), srv.URL)
	ok, reason := Verify(context.Background(), probe, RetryPolicy{MaxAttempts: 5})

	assert.True(t, ok, "probe should succeed on the third attempt: %s", reason)
	assert.Equal(t, 3, attempts)
}

func TestEndpointProbeDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://127.0.0.1:1/unreachable", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	probe := EndpointProbe(NewProbeClient(time.Second), srv.URL)
	outcome := probe(context.Background())
	assert.Equal(t, ProbeSuccess, outcome.State, "a 301 is proof of reachability, not something to chase")
}
