package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	offer, err := NewOffer("srv_abc123", kp.Public, "relay.example.com:443")
	require.NoError(t, err)

	fragment, err := Encode(offer)
	require.NoError(t, err)
	assert.NotContains(t, fragment, "=")

	decoded, err := Decode(fragment)
	require.NoError(t, err)
	assert.Equal(t, offer, decoded)
}

func TestEncodeRejectsWrongVersion(t *testing.T) {
	fragment, err := Encode(&Offer{
		V:                  1,
		ServerID:           "s",
		DaemonPublicKeyB64: "x",
		Relay:              Relay{Endpoint: "e"},
	})
	require.Error(t, err)
	assert.Empty(t, fragment)
}

func TestEncodeRejectsMissingFields(t *testing.T) {
	cases := []*Offer{
		{V: 2, ServerID: "", DaemonPublicKeyB64: "x", Relay: Relay{Endpoint: "e"}},
		{V: 2, ServerID: "s", DaemonPublicKeyB64: "", Relay: Relay{Endpoint: "e"}},
		{V: 2, ServerID: "s", DaemonPublicKeyB64: "x", Relay: Relay{Endpoint: ""}},
	}
	for _, c := range cases {
		_, err := Encode(c)
		assert.Error(t, err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not-valid-base64url!!!")
	assert.Error(t, err)

	_, err = Decode("aGVsbG8") // valid base64url, not JSON
	assert.Error(t, err)
}

func TestURL(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	offer, err := NewOffer("srv_abc", kp.Public, "relay:443")
	require.NoError(t, err)

	url, err := URL("example.com", offer)
	require.NoError(t, err)
	assert.Regexp(t, `^https://example\.com/#offer=[A-Za-z0-9_-]+$`, url)
}
