// Package pairing generates the daemon's long-term key material and encodes/decodes
// the pairing offer that clients use to discover how to reach this daemon.
package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// OfferVersion is the only offer version this daemon emits or accepts.
const OfferVersion = 2

// Relay describes the relay endpoint a client may use to reach this daemon
// when direct connections are not possible.
type Relay struct {
	Endpoint string `json:"endpoint"`
}

// Offer is ConnectionOfferV2: the payload encoded into a pairing URL fragment.
type Offer struct {
	V                 int    `json:"v"`
	ServerID          string `json:"serverId"`
	DaemonPublicKeyB64 string `json:"daemonPublicKeyB64"`
	Relay             Relay  `json:"relay"`
}

// ErrInvalidOffer is returned for any offer that fails validation on decode.
// The error code this maps to on the wire is "invalid_offer" (spec error taxonomy).
type ErrInvalidOffer struct {
	Reason string
}

func (e *ErrInvalidOffer) Error() string {
	return fmt.Sprintf("invalid_offer: %s", e.Reason)
}

// NewOffer builds a v2 offer for the given daemon identity.
func NewOffer(serverID string, publicKey ed25519.PublicKey, relayEndpoint string) (*Offer, error) {
	if serverID == "" {
		return nil, &ErrInvalidOffer{Reason: "empty serverId"}
	}
	if len(publicKey) == 0 {
		return nil, &ErrInvalidOffer{Reason: "empty public key"}
	}
	if relayEndpoint == "" {
		return nil, &ErrInvalidOffer{Reason: "empty relay endpoint"}
	}
	return &Offer{
		V:                  OfferVersion,
		ServerID:           serverID,
		DaemonPublicKeyB64: base64.StdEncoding.EncodeToString(publicKey),
		Relay:              Relay{Endpoint: relayEndpoint},
	}, nil
}

// Encode renders the offer as a base64url JSON fragment, without the leading "#offer=".
func Encode(o *Offer) (string, error) {
	if err := validate(o); err != nil {
		return "", err
	}
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("marshal offer: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// URL renders the full pairing URL for a given host, e.g. "https://host/#offer=...".
func URL(host string, o *Offer) (string, error) {
	fragment, err := Encode(o)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s/#offer=%s", host, fragment), nil
}

// Decode parses a base64url JSON fragment (the part after "#offer=") back into an Offer.
// Any missing or malformed field is a fatal *ErrInvalidOffer.
func Decode(fragment string) (*Offer, error) {
	data, err := base64.RawURLEncoding.DecodeString(fragment)
	if err != nil {
		// Some callers may still include padding; tolerate it before giving up.
		data, err = base64.URLEncoding.DecodeString(fragment)
		if err != nil {
			return nil, &ErrInvalidOffer{Reason: "not valid base64url"}
		}
	}
	var o Offer
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, &ErrInvalidOffer{Reason: "not valid JSON"}
	}
	if err := validate(&o); err != nil {
		return nil, err
	}
	return &o, nil
}

func validate(o *Offer) error {
	if o == nil {
		return &ErrInvalidOffer{Reason: "nil offer"}
	}
	if o.V != OfferVersion {
		return &ErrInvalidOffer{Reason: fmt.Sprintf("unsupported version %d (only v=%d accepted)", o.V, OfferVersion)}
	}
	if o.ServerID == "" {
		return &ErrInvalidOffer{Reason: "empty serverId"}
	}
	if o.DaemonPublicKeyB64 == "" {
		return &ErrInvalidOffer{Reason: "empty daemonPublicKeyB64"}
	}
	if o.Relay.Endpoint == "" {
		return &ErrInvalidOffer{Reason: "empty relay.endpoint"}
	}
	return nil
}

// KeyPair is the daemon's long-term Ed25519 identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new long-term identity for the daemon.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate pairing key: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// PublicKeyB64 returns the standard-base64 encoding used in offers.
func (k *KeyPair) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(k.Public)
}
