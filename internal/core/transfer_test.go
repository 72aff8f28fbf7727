package core

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferHappyPath(t *testing.T) {
	c, l, log, _ := newTestCore(t)

	mustApply(t, c, ScriptBegin{Length: 100, Slot: 2})
	mustApply(t, c, ScriptChunk{Data: bytes.Repeat([]byte{'a'}, 60)})
	mustApply(t, c, ScriptChunk{Data: bytes.Repeat([]byte{'b'}, 40)})
	mustApply(t, c, ScriptEnd{})

	_, scripts, status := l.snapshot()
	require.Len(t, scripts, 1)
	assert.Len(t, scripts[0].Data, 100)
	assert.Equal(t, 2, scripts[0].Slot)
	assert.Equal(t, append(bytes.Repeat([]byte{'a'}, 60), bytes.Repeat([]byte{'b'}, 40)...), scripts[0].Data)

	want := []string{"[SCRIPT] BEGIN len=100 slot=2", "[SCRIPT] READY len=100"}
	assert.Equal(t, want, status)
	assert.Equal(t, want, log.messages())

	active, received, expected := c.TransferProgress()
	assert.False(t, active)
	assert.Zero(t, received)
	assert.Zero(t, expected)
}

func TestTransferOverflowResets(t *testing.T) {
	c, l, _, _ := newTestCore(t)
	mustApply(t, c, ScriptBegin{Length: 100, Slot: NoSlot})

	_, err := c.Apply(ScriptChunk{Data: make([]byte, 150)})
	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "Chunk overflow", err.Error())

	active, _, _ := c.TransferProgress()
	assert.False(t, active)

	_, err = c.Apply(ScriptEnd{})
	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "No active script transfer", err.Error())

	_, scripts, status := l.snapshot()
	assert.Empty(t, scripts)
	assert.Contains(t, status, "[SCRIPT] RESET reason=overflow")
}

func TestTransferSizeMismatchResets(t *testing.T) {
	c, l, _, _ := newTestCore(t)
	mustApply(t, c, ScriptBegin{Length: 100, Slot: NoSlot})
	mustApply(t, c, ScriptChunk{Data: make([]byte, 50)})

	_, err := c.Apply(ScriptEnd{})
	require.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "Size mismatch recv=50 exp=100", err.Error())

	active, _, _ := c.TransferProgress()
	assert.False(t, active)
	_, scripts, status := l.snapshot()
	assert.Empty(t, scripts)
	assert.Equal(t, "[SCRIPT] RESET reason=size", status[len(status)-1])
}

func TestTransferBeginPreempts(t *testing.T) {
	c, l, _, _ := newTestCore(t)
	mustApply(t, c, ScriptBegin{Length: 50, Slot: 1})
	mustApply(t, c, ScriptChunk{Data: make([]byte, 10)})
	mustApply(t, c, ScriptBegin{Length: 80, Slot: 3})

	active, received, expected := c.TransferProgress()
	assert.True(t, active)
	assert.Zero(t, received)
	assert.Equal(t, 80, expected)

	_, _, status := l.snapshot()
	assert.Equal(t, []string{
		"[SCRIPT] BEGIN len=50 slot=1",
		"[SCRIPT] PREEMPT prev=10/50",
		"[SCRIPT] BEGIN len=80 slot=3",
	}, status)
}

func TestTransferBeginValidatesLength(t *testing.T) {
	for _, n := range []int{0, -1, 1025} {
		c, l, _, _ := newTestCore(t)
		_, err := c.Apply(ScriptBegin{Length: n, Slot: NoSlot})
		require.ErrorIs(t, err, ErrValidation, "length %d", n)
		active, _, _ := c.TransferProgress()
		assert.False(t, active)
		_, _, status := l.snapshot()
		assert.Empty(t, status)
	}
}

func TestTransferInvalidBeginKeepsSession(t *testing.T) {
	c, _, _, _ := newTestCore(t)
	mustApply(t, c, ScriptBegin{Length: 20, Slot: NoSlot})
	mustApply(t, c, ScriptChunk{Data: make([]byte, 5)})

	_, err := c.Apply(ScriptBegin{Length: 0, Slot: NoSlot})
	require.Error(t, err)

	active, received, _ := c.TransferProgress()
	assert.True(t, active)
	assert.Equal(t, 5, received)
}

func TestTransferChunkWithoutBegin(t *testing.T) {
	c, _, _, _ := newTestCore(t)
	_, err := c.Apply(ScriptChunk{Data: []byte("x")})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestTransferTimeout(t *testing.T) {
	c, l, log, clock := newTestCore(t)
	mustApply(t, c, ScriptBegin{Length: 100, Slot: NoSlot})

	clock.Advance(DefaultScriptTimeout)
	c.Tick()
	active, _, _ := c.TransferProgress()
	assert.True(t, active, "exactly at the threshold the session survives")

	clock.Advance(time.Millisecond)
	c.Tick()
	active, _, _ = c.TransferProgress()
	assert.False(t, active)

	_, _, status := l.snapshot()
	assert.Equal(t, []string{
		"[SCRIPT] BEGIN len=100 slot=-1",
		"[SCRIPT] ERR timeout after 5001ms",
	}, status)
	assert.Equal(t, status, log.messages())
}

func TestTransferChunkRefreshesTimeout(t *testing.T) {
	c, _, _, clock := newTestCore(t)
	mustApply(t, c, ScriptBegin{Length: 100, Slot: NoSlot})

	for i := 0; i < 4; i++ {
		clock.Advance(4 * time.Second)
		mustApply(t, c, ScriptChunk{Data: make([]byte, 10)})
		c.Tick()
	}
	active, received, _ := c.TransferProgress()
	assert.True(t, active)
	assert.Equal(t, 40, received)
}

func TestTransferProgressThrottled(t *testing.T) {
	c, l, _, clock := newTestCore(t)
	mustApply(t, c, ScriptBegin{Length: 100, Slot: NoSlot})
	mustApply(t, c, ScriptChunk{Data: make([]byte, 30)})

	c.Tick()
	clock.Advance(DefaultProgressInterval)
	c.Tick()
	c.Tick()

	_, _, status := l.snapshot()
	assert.Equal(t, []string{
		"[SCRIPT] BEGIN len=100 slot=-1",
		"[SCRIPT] RECV 30/100",
	}, status)
}

func TestTransferExplicitReset(t *testing.T) {
	c, l, _, _ := newTestCore(t)

	res := mustApply(t, c, ScriptReset{})
	assert.False(t, res.Changed)
	_, _, status := l.snapshot()
	assert.Empty(t, status, "reset without a session is silent")

	mustApply(t, c, ScriptBegin{Length: 10, Slot: NoSlot})
	res = mustApply(t, c, ScriptReset{})
	assert.True(t, res.Changed)

	_, _, status = l.snapshot()
	assert.Equal(t, "[SCRIPT] RESET reason=abort", status[len(status)-1])
}

func TestTransferStandalone(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := NewTransfer(8, time.Second, time.Second)

	status, err := tr.Begin(4, 0, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"[SCRIPT] BEGIN len=4 slot=0"}, status)

	_, err = tr.Chunk([]byte("sand"), now)
	require.NoError(t, err)

	script, status, err := tr.End()
	require.NoError(t, err)
	assert.Equal(t, []byte("sand"), script.Data)
	assert.Equal(t, []string{"[SCRIPT] READY len=4"}, status)
	assert.False(t, tr.Active())
	assert.Equal(t, NoSlot, tr.Slot())
}
