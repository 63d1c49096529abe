package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/errors"
)

func isMosquittoTestServerAvailable() bool {
	conn, err := net.DialTimeout("tcp", "test.mosquitto.org:1883", 5*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Broker: "tcp://127.0.0.1:1883"})
	err := c.Publish(t.Context(), "leafscan/test", "hello")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.False(t, c.IsConnected())
	c.Disconnect()
}

func TestConnectRejectsInvalidBroker(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Broker: "://missing-scheme"})
	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestConnectUnresolvableHost(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Broker: "tcp://unresolvable.invalid:1883"})
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	err := c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestConnectCooldown(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{Broker: "://bad", ReconnectCooldown: time.Hour})
	require.Error(t, c.Connect(t.Context()))

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

func TestPublishToPublicBroker(t *testing.T) {
	if testing.Short() || !isMosquittoTestServerAvailable() {
		t.Skip("test.mosquitto.org is not available")
	}

	c := NewClient(Config{Broker: "tcp://test.mosquitto.org:1883", ClientID: "leafscan-test"})
	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Publish(ctx, "leafscan/test", `{"succeeded":1,"failed":0}`))
	c.Disconnect()
	assert.False(t, c.IsConnected())
}
