package device

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/sandgarden/internal/core"
	"github.com/chaz8081/sandgarden/internal/scriptstore"
)

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func (l *eventLog) Broadcast(ev core.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) messages(kind core.EventKind) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev.Message)
		}
	}
	return out
}

func newTestController(t *testing.T, store *scriptstore.Store) (*Controller, *core.Core, *eventLog, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC))
	d := New(store, clock)
	c := core.New(d, core.Options{Clock: clock})
	d.Bind(c)
	log := &eventLog{}
	c.AddObserver(log)
	return d, c, log, clock
}

func TestStopClearsRunState(t *testing.T) {
	_, c, log, _ := newTestController(t, nil)
	_, err := c.Apply(core.SetRunState{Value: true})
	require.NoError(t, err)

	_, err = c.Apply(core.GenericCommand{Raw: "stop"})
	require.NoError(t, err)

	assert.False(t, c.RunState())
	assert.True(t, c.AutoMode())
	assert.Equal(t, []string{"[CMD] RX STOP"}, log.messages(core.EventStatus))
}

func TestHomePausesAutoMode(t *testing.T) {
	_, c, _, _ := newTestController(t, nil)
	_, err := c.Apply(core.SetRunState{Value: true})
	require.NoError(t, err)

	_, err = c.Apply(core.GenericCommand{Raw: "HOME"})
	require.NoError(t, err)

	assert.False(t, c.RunState())
	assert.False(t, c.AutoMode())
}

func TestSelfTestPublishesTelemetry(t *testing.T) {
	_, c, log, clock := newTestController(t, nil)
	clock.Advance(90 * time.Second)

	_, err := c.Apply(core.GenericCommand{Raw: "selftest"})
	require.NoError(t, err)

	telemetry := log.messages(core.EventTelemetry)
	require.Len(t, telemetry, 1)
	assert.Equal(t, "SELFTEST ok uptime=1m30s speed=1.00 pattern=1 auto=true run=false scripts=0", telemetry[0])
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	_, c, log, _ := newTestController(t, nil)
	before := c.Snapshot()

	_, err := c.Apply(core.GenericCommand{Raw: "DANCE"})
	require.NoError(t, err)
	assert.Equal(t, before, c.Snapshot())
	assert.Empty(t, log.messages(core.EventTelemetry))
}

func TestScriptIsSaved(t *testing.T) {
	store := scriptstore.New(afero.NewMemMapFs(), "/scripts", nil)
	d, c, _, _ := newTestController(t, store)
	script := "move 1 2\nend\n"

	for _, cmd := range []core.Command{
		core.ScriptBegin{Length: len(script), Slot: 4},
		core.ScriptChunk{Data: []byte(script)},
		core.ScriptEnd{},
	} {
		_, err := c.Apply(cmd)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, d.ScriptsReceived())
	data, e, err := store.Load(4)
	require.NoError(t, err)
	assert.Equal(t, script, string(data))
	assert.Equal(t, scriptstore.Digest([]byte(script)), e.Digest)
}

func TestScriptSaveFailureReportsStatus(t *testing.T) {
	store := scriptstore.New(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/scripts", nil)
	_, c, log, _ := newTestController(t, store)

	for _, cmd := range []core.Command{
		core.ScriptBegin{Length: 1, Slot: core.NoSlot},
		core.ScriptChunk{Data: []byte("x")},
		core.ScriptEnd{},
	} {
		_, err := c.Apply(cmd)
		require.NoError(t, err)
	}

	status := log.messages(core.EventStatus)
	require.NotEmpty(t, status)
	assert.Equal(t, "[SCRIPT] READY len=1", status[len(status)-2])
	assert.Equal(t, "[STORE] ERR slot=-1", status[len(status)-1])
}

func TestWiFiCredentials(t *testing.T) {
	d, c, log, _ := newTestController(t, nil)

	_, err := c.Apply(core.SetWiFiSSID{Value: "garden-net"})
	require.NoError(t, err)
	assert.Empty(t, d.WiFiSSID(), "password still missing")

	_, err = c.Apply(core.SetWiFiPassword{Value: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "garden-net", d.WiFiSSID())

	wifi := log.messages(core.EventWiFiStatus)
	require.Len(t, wifi, 1)
	assert.True(t, strings.HasSuffix(wifi[0], "garden-net"))
	assert.NotContains(t, wifi[0], "hunter22")
}

func TestCommandBeforeBind(t *testing.T) {
	d := New(nil, clockwork.NewFakeClock())
	assert.NotPanics(t, func() { d.OnCommandReceived(CommandStop, "STOP") })
	assert.NotPanics(t, func() { d.OnWiFiCredentialsReceived("a", "b") })
}
