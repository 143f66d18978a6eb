package sessionmux

import "encoding/json"

// Framing choice (spec §9 open question): this implementation picks
// one-JSON-object-per-text-frame, matching the teacher's websocket gateway
// rather than length-prefixing. The session contract in spec §4.2 is
// framing-agnostic; this is the documented choice at the boundary.
func decodeJSON(frame []byte, v any) error {
	return json.Unmarshal(frame, v)
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
