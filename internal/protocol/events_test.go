package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseEnvelope(t *testing.T) {
	room := uuid.New()
	raw, err := Encode(TypeUserTyping, Typing{Room: room, Username: "ana"})
	require.NoError(t, err)

	env, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeUserTyping, env.Type)

	var got Typing
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, room, got.Room)
	assert.Equal(t, "ana", got.Username)
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	_, err := ParseEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestSendMessageOptionalFields(t *testing.T) {
	var msg SendMessage
	err := json.Unmarshal([]byte(`{"room":"`+uuid.NewString()+`","content":"hi"}`), &msg)
	require.NoError(t, err)
	assert.Nil(t, msg.SenderID)
	assert.Nil(t, msg.ReplyToMessageID)
	assert.Empty(t, msg.MessageType)
}
