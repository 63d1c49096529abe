package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
)

type recordingProvider struct {
	name string
	err  error

	mu   sync.Mutex
	sent []*Notification
}

func (p *recordingProvider) Name() string { return p.name }

func (p *recordingProvider) Send(_ context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return p.err
}

type fakeMQTT struct {
	connected  bool
	connectErr error
	topic      string
	payload    string
}

func (f *fakeMQTT) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeMQTT) Publish(_ context.Context, topic, payload string) error {
	f.topic, f.payload = topic, payload
	return nil
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }
func (f *fakeMQTT) Disconnect()       { f.connected = false }

func TestDispatcherFansOutAndJoinsErrors(t *testing.T) {
	t.Parallel()

	ok := &recordingProvider{name: "ok"}
	failing := &recordingProvider{name: "failing", err: errors.NewStd("boom")}
	last := &recordingProvider{name: "last"}
	d := NewDispatcher(nil, ok, failing, last)

	err := d.Send(t.Context(), &Notification{Type: TypeInfo, Title: "drain", Message: "done"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotification))
	assert.Len(t, ok.sent, 1)
	assert.Len(t, last.sent, 1, "a failing provider must not stop the others")
	assert.False(t, ok.sent[0].Timestamp.IsZero())
}

func TestDispatcherWithoutProviders(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NewDispatcher(nil).Send(t.Context(), &Notification{Message: "x"}))
}

func TestMQTTProviderConnectsLazily(t *testing.T) {
	t.Parallel()

	client := &fakeMQTT{}
	p := NewMQTTProvider(client, "leafscan/pending")
	n := &Notification{Type: TypeInfo, Title: "drain", Message: "2 succeeded", Fields: map[string]any{"succeeded": 2}}
	require.NoError(t, p.Send(t.Context(), n))

	assert.True(t, client.connected)
	assert.Equal(t, "leafscan/pending", client.topic)
	var decoded Notification
	require.NoError(t, json.Unmarshal([]byte(client.payload), &decoded))
	assert.Equal(t, "2 succeeded", decoded.Message)

	p.Close()
	assert.False(t, client.connected)
}

func TestMQTTProviderReportsConnectFailure(t *testing.T) {
	t.Parallel()

	client := &fakeMQTT{connectErr: errors.NewStd("refused")}
	err := NewMQTTProvider(client, "t").Send(t.Context(), &Notification{})
	require.Error(t, err)
	assert.Empty(t, client.payload)
}

func TestShoutrrrProvider(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrProvider(nil, 0)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	_, err = NewShoutrrrProvider([]string{"nosuchservice://token@host"}, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	p, err := NewShoutrrrProvider([]string{"logger://"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "shoutrrr", p.Name())
	assert.NoError(t, p.Send(t.Context(), &Notification{Title: "drain", Message: "1 succeeded"}))
}

func TestLogProvider(t *testing.T) {
	t.Parallel()

	p := NewLogProvider()
	for _, typ := range []Type{TypeInfo, TypeWarning, TypeError} {
		assert.NoError(t, p.Send(t.Context(), &Notification{Type: typ, Message: "m", Fields: map[string]any{"k": 1}}))
	}
}

func TestLogProviderLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	p := &LogProvider{log: logger.NewWriterLogger(buf, logger.LogLevelWarn).Module("notification")}

	require.NoError(t, p.Send(t.Context(), &Notification{Type: TypeInfo, Message: "drain finished"}))
	require.NoError(t, p.Send(t.Context(), &Notification{Type: TypeError, Message: "drain failed", Fields: map[string]any{"failed": 2}}))

	out := buf.String()
	assert.NotContains(t, out, "drain finished")
	assert.Contains(t, out, "drain failed")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "failed=2")
}
