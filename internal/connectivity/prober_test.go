package connectivity

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leafscan/leafscan/internal/httpclient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const probeURL = "https://backend.test/rest/v1/"

func newMockedClient(t *testing.T) (*httpclient.Client, *httpmock.MockTransport) {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	client := httpclient.New(&cfg)
	transport := httpmock.NewMockTransport()
	client.HTTPClient().Transport = transport
	return client, transport
}

func TestProbeStatus(t *testing.T) {
	t.Parallel()

	client, transport := newMockedClient(t)
	p, err := NewProber(client, probeURL, time.Second, func(bool) {})
	require.NoError(t, err)

	transport.RegisterResponder(http.MethodGet, probeURL, httpmock.NewStringResponder(http.StatusUnauthorized, ""))
	assert.True(t, p.Probe(t.Context()), "any answer below 500 means reachable")

	transport.RegisterResponder(http.MethodGet, probeURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	assert.False(t, p.Probe(t.Context()))

	transport.RegisterResponder(http.MethodGet, probeURL, httpmock.NewErrorResponder(assert.AnError))
	assert.False(t, p.Probe(t.Context()))
}

func TestProberReportsUntilStopped(t *testing.T) {
	t.Parallel()

	client, transport := newMockedClient(t)
	transport.RegisterResponder(http.MethodGet, probeURL, httpmock.NewStringResponder(http.StatusOK, "{}"))

	var mu sync.Mutex
	var results []bool
	p, err := NewProber(client, probeURL, 10*time.Millisecond, func(online bool) {
		mu.Lock()
		results = append(results, online)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, p.Start(t.Context()))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop(t.Context()))
	require.NoError(t, p.Stop(t.Context()), "second stop is a no-op")

	mu.Lock()
	defer mu.Unlock()
	for _, r := range results {
		assert.True(t, r)
	}
}

func TestNewProberRequiresURL(t *testing.T) {
	t.Parallel()
	_, err := NewProber(nil, "", 0, nil)
	require.Error(t, err)
}
