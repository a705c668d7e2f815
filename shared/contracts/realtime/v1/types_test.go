package v1

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ok := Envelope{V: Version, Type: TypeJoinTransactionRoom, ID: "1", TS: time.Now()}
	require.NoError(t, ok.Validate())

	cases := map[string]Envelope{
		"missing v":    {Type: TypeHello},
		"bad version":  {V: "v2", Type: TypeHello},
		"missing type": {V: Version},
		"unknown type": {V: Version, Type: "message_send"},
	}
	for name, e := range cases {
		assert.Error(t, e.Validate(), name)
	}
}

func TestIsClientType(t *testing.T) {
	t.Parallel()

	assert.True(t, IsClientType(TypeHello))
	assert.True(t, IsClientType(TypeLeaveTransactionRoom))
	assert.False(t, IsClientType(TypeTransactionCreated))
	assert.False(t, IsClientType(TypeHelloAck))
}

func TestRoomPayloadWireName(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(RoomPayload{GroupID: "g1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"group_id":"g1"}`, string(b))
}
