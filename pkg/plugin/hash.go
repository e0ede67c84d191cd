package plugin

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// canonicalize round-trips v through JSON so that maps have sorted keys and
// numbers are json.Number. It returns the decoded value and its encoding.
func canonicalize(v any) (any, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode value: %w", err)
	}
	out, err := decodeJSON(data)
	if err != nil {
		return nil, nil, err
	}
	canon, err := json.Marshal(out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return out, canon, nil
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return out, nil
}

// hashParts returns the hex sha256 over length-prefixed parts
func hashParts(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
