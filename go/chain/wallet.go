// Package chain wraps the Solana RPC surface used by the pipeline:
// wallet key handling, transaction assembly and submission, confirmation
// polling, and explorer links.
package chain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const privateKeyLen = 64

// ParsePrivateKey decodes a wallet key from any of the encodings found in
// deployment environments: a JSON byte array (the solana-keygen file
// format), base58, or standard base64. The decoded key must be a 64-byte
// ed25519 private key.
func ParsePrivateKey(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("wallet key is empty")
	}

	if strings.HasPrefix(raw, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(raw), &ints); err != nil {
			return nil, fmt.Errorf("parsing wallet key JSON array: %w", err)
		}
		var b = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("wallet key array element %d out of byte range", i)
			}
			b[i] = byte(v)
		}
		return validateKey(solana.PrivateKey(b))
	}

	if pk, err := solana.PrivateKeyFromBase58(raw); err == nil {
		return validateKey(pk)
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return validateKey(solana.PrivateKey(b))
	}
	return nil, errors.New("wallet key is not base58, base64, or a JSON byte array")
}

func validateKey(pk solana.PrivateKey) (solana.PrivateKey, error) {
	if len(pk) != privateKeyLen {
		return nil, fmt.Errorf("wallet key is %d bytes, want %d", len(pk), privateKeyLen)
	}
	return pk, nil
}
