package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayed(t *testing.T) {
	for _, typ := range []string{TypeConnect, TypeAccept, TypeData, TypeClose, TypeOffer, TypeAnswer, TypeCandidate, TypeLeave} {
		assert.True(t, Relayed(typ), typ)
	}
	for _, typ := range []string{TypeOpen, TypeError, TypePing, TypePong, "whoami", ""} {
		assert.False(t, Relayed(typ), typ)
	}
}

func TestEnvelopeOmitsEmpty(t *testing.T) {
	b, err := json.Marshal(Envelope{Type: TypeOpen, ID: "abc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"open","id":"abc"}`, string(b))
}
