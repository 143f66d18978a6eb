package pairing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/moby/sys/atomicwriter"
)

const identityFileName = "identity.json"

type identityFile struct {
	ServerID   string `json:"serverId"`
	PrivateKey string `json:"privateKeyB64"`
}

// LoadOrCreateIdentity reads the daemon's persisted identity from paseoHome, or
// generates and persists a new one on first boot. The server id, once generated,
// never changes (spec §6: PASEO_SERVER_ID, "if absent a new one is generated on
// first boot and persisted").
func LoadOrCreateIdentity(paseoHome, overrideServerID string) (serverID string, keys *KeyPair, err error) {
	path := filepath.Join(paseoHome, identityFileName)

	if data, readErr := os.ReadFile(path); readErr == nil {
		var f identityFile
		if jsonErr := json.Unmarshal(data, &f); jsonErr == nil {
			priv, decodeErr := base64.StdEncoding.DecodeString(f.PrivateKey)
			if decodeErr == nil && len(priv) == ed25519.PrivateKeySize {
				kp := &KeyPair{
					Private: ed25519.PrivateKey(priv),
					Public:  ed25519.PrivateKey(priv).Public().(ed25519.PublicKey),
				}
				id := f.ServerID
				if overrideServerID != "" {
					id = overrideServerID
				}
				return id, kp, nil
			}
		}
	}

	kp, genErr := GenerateKeyPair()
	if genErr != nil {
		return "", nil, genErr
	}
	id := overrideServerID
	if id == "" {
		id = "srv_" + uuid.NewString()
	}

	f := identityFile{
		ServerID:   id,
		PrivateKey: base64.StdEncoding.EncodeToString(kp.Private),
	}
	data, marshalErr := json.MarshalIndent(f, "", "  ")
	if marshalErr != nil {
		return "", nil, fmt.Errorf("marshal identity: %w", marshalErr)
	}
	if mkErr := os.MkdirAll(paseoHome, 0o700); mkErr != nil {
		return "", nil, fmt.Errorf("create paseo home: %w", mkErr)
	}
	if writeErr := atomicwriter.WriteFile(path, data, 0o600); writeErr != nil {
		return "", nil, fmt.Errorf("persist identity: %w", writeErr)
	}
	return id, kp, nil
}
