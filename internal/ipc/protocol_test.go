package ipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"flood-duel/internal/events"
	"flood-duel/internal/game"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(version uint64) *game.Snapshot {
	return &game.Snapshot{
		SessionID:      "s-1",
		Version:        version,
		Phase:          game.PhaseInProgress,
		ElapsedTime:    12.5,
		WaterLevel:     0.75,
		ConnectedCount: 2,
		WinnerID:       game.NoWinner,
		Players: []game.PlayerSnapshot{
			{ID: 1, Name: "Alice", Status: game.StatusConnected, TotalHeight: 2, Layers: []game.LayerSnapshot{
				{Material: "stone", Health: 80, MaxHealth: 100, HealthPercent: 80},
			}},
			{ID: 2, Name: "Bob", Status: game.StatusReconnecting, TotalHeight: 1},
		},
		CapturedAt: time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC),
	}
}

func TestStateFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, MsgTypeState, snapshot(3)))

	msgType, body, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeState, msgType)

	var got game.Snapshot
	require.NoError(t, Decode(body, &got))
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, uint64(3), got.Version)
	assert.Equal(t, game.PhaseInProgress, got.Phase)
	assert.Equal(t, game.NoWinner, got.WinnerID)
	assert.True(t, got.CapturedAt.Equal(snapshot(3).CapturedAt))
	require.Len(t, got.Players, 2)
	assert.Equal(t, game.StatusReconnecting, got.Players[1].Status)
	require.Len(t, got.Players[0].Layers, 1)
	assert.Equal(t, game.Material("stone"), got.Players[0].Layers[0].Material)
	assert.Equal(t, 80.0, got.Players[0].Layers[0].Health)
}

func TestEventPayloadSurvivesFraming(t *testing.T) {
	in := events.Event{
		Kind:     events.KindGameEnded,
		Sequence: 42,
		Elapsed:  61,
		Payload:  events.Outcome{WinnerID: 1, LoserID: 2, Condition: "flooding", Overtime: true},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, MsgTypeEvent, in))
	_, body, err := ReadMessage(&buf)
	require.NoError(t, err)

	var out events.Event
	require.NoError(t, Decode(body, &out))
	assert.Equal(t, events.KindGameEnded, out.Kind)
	assert.Equal(t, uint64(42), out.Sequence)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, MsgTypePing, nil))
	assert.Equal(t, HeaderSize, buf.Len())

	msgType, body, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypePing, msgType)
	assert.Empty(t, body)
}

func header(version uint16, length uint32) []byte {
	h := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(h[0:2], version)
	h[2] = MsgTypeState
	binary.LittleEndian.PutUint32(h[4:8], length)
	return h
}

func TestReadMessageRejectsBadFrames(t *testing.T) {
	_, _, err := ReadMessage(bytes.NewReader(header(ProtocolVersion+1, 0)))
	assert.ErrorIs(t, err, ErrVersionMismatch)

	_, _, err = ReadMessage(bytes.NewReader(header(ProtocolVersion, MaxMessageSize+1)))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	_, _, err = ReadMessage(bytes.NewReader(header(ProtocolVersion, 10)[:5]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	truncated := append(header(ProtocolVersion, 10), 1, 2, 3)
	_, _, err = ReadMessage(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var snap game.Snapshot
	assert.Error(t, Decode([]byte{0xff, 0x00, 0x13}, &snap))
}
