package common

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBroadcaster_Publish(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())

	first := make(chan []byte, 1)
	second := make(chan []byte, 1)
	b.RegisterReceiver(first)
	b.RegisterReceiver(second)
	require.Equal(t, 2, b.Receivers())

	err := b.Publish(TickerEvent{
		Kind:       TickerMinted,
		Name:       "Test Asset",
		Valuation:  "150000",
		RiskScore:  15,
		Originator: "0x1111111111111111111111111111111111111111",
		Timestamp:  time.Unix(1700000000, 0).UTC(),
	})
	require.NoError(t, err)

	for _, ch := range []chan []byte{first, second} {
		frame := string(<-ch)
		kind, body, ok := strings.Cut(frame, " ")
		require.True(t, ok)
		assert.Equal(t, "MINTED", kind)

		var decoded TickerEvent
		require.NoError(t, json.Unmarshal([]byte(body), &decoded))
		assert.Equal(t, "Test Asset", decoded.Name)
		assert.Equal(t, uint64(15), decoded.RiskScore)
	}
}

func TestBroadcaster_FullReceiverDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())

	full := make(chan []byte) // unbuffered, nobody reading
	b.RegisterReceiver(full)

	done := make(chan struct{})
	go func() {
		b.Broadcast([]byte("REJECTED {}"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full receiver")
	}
}

func TestBroadcaster_Unregister(t *testing.T) {
	b := NewBroadcaster(nil)

	ch := make(chan []byte, 1)
	id := b.RegisterReceiver(ch)
	b.UnregisterReceiver(id)

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Receivers())

	// unknown ids are ignored
	b.UnregisterReceiver(id)
}

func TestBroadcaster_LateUnregisterAfterClose(t *testing.T) {
	b := NewBroadcaster(nil)

	stale := b.RegisterReceiver(make(chan []byte, 1))
	b.Close()

	fresh := make(chan []byte, 1)
	id := b.RegisterReceiver(fresh)
	require.NotEqual(t, stale, id)

	// a handler that registered before Close unregisters late
	b.UnregisterReceiver(stale)
	assert.Equal(t, 1, b.Receivers())

	b.Broadcast([]byte("MINTED {}"))
	assert.Equal(t, "MINTED {}", string(<-fresh))
}

func TestIntString_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    IntString
		wantErr bool
	}{
		{name: "string literal", input: `"150000"`, want: "150000"},
		{name: "number literal", input: `150000`, want: "150000"},
		{name: "exponent kept verbatim", input: `1.5e3`, want: "1.5e3"},
		{name: "null", input: `null`, want: ""},
		{name: "boolean rejected", input: `true`, wantErr: true},
		{name: "object rejected", input: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got IntString
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntString_ErrorCarriesFieldPath(t *testing.T) {
	var req MintIntentRequest
	err := json.Unmarshal([]byte(`{"signature":"0x00","userAddress":"0x00","assetData":{"valuation":true}}`), &req)
	require.Error(t, err)

	var typeErr *json.UnmarshalTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "assetData.valuation", typeErr.Field)
}
