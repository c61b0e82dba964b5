package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const probeUserAgent = "talaria-deploy/1.0"

// NewProbeClient returns the HTTP client used by endpoint probes. Retries
// are scheduled by Verify, not the client, so the client's own retry loop is
// disabled to keep attempt counts exact. Redirects are not followed because a
// 301/302 already proves the infrastructure is reachable.
func NewProbeClient(timeout time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout

	client := rc.StandardClient()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client
}

// EndpointProbe probes url with a GET and maps the response onto a
// ProbeOutcome. Any well-formed application response, including 4xx, counts
// as success: the infrastructure answered even if the request was rejected.
// Connection-level errors and 5xx are transient, since a fresh deployment,
// DNS record, or CDN distribution can take minutes to start answering.
func EndpointProbe(client *http.Client, url string) Probe {
	return func(ctx context.Context) ProbeOutcome {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return GiveUp(fmt.Sprintf("building request for %s: %v", url, err))
		}
		req.Header.Set("User-Agent", probeUserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return Retry(fmt.Sprintf("connection error: %v", err))
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusMovedPermanently, http.StatusFound:
			return Healthy()
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusMethodNotAllowed:
			// the application rejected the request, which still proves the
			// endpoint is up and routing
			return Healthy()
		default:
			return Retry(fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url))
		}
	}
}
