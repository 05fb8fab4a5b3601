package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloq/notifyd/internal/event"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"hello":"world"}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 100)))

	_, err := ReadFrame(&buf, 10)
	require.Error(t, err)
	var tooLarge *ErrFrameTooLarge
	assert.True(t, errors.As(err, &tooLarge))
}

func TestEnvelopeRoundTripsSendEventRequest(t *testing.T) {
	clientID := int64(7)
	seq := int64(1)
	req := SendEventRequest{
		ClientID:       &clientID,
		SequenceNumber: &seq,
		Event:          event.Event{Key: "k", Value: "v", Namespace: "a"},
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	env := Envelope{Kind: KindSendEvent, Payload: payload}

	var buf bytes.Buffer
	encoded, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&buf, encoded))

	frame, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)

	var decodedEnv Envelope
	require.NoError(t, json.Unmarshal(frame, &decodedEnv))
	assert.Equal(t, KindSendEvent, decodedEnv.Kind)

	var decodedReq SendEventRequest
	require.NoError(t, json.Unmarshal(decodedEnv.Payload, &decodedReq))
	assert.Equal(t, req.Event.Key, decodedReq.Event.Key)
	require.NotNil(t, decodedReq.ClientID)
	assert.Equal(t, clientID, *decodedReq.ClientID)
}
