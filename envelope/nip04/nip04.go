// Package nip04 implements the legacy NIP-04 sealed envelope: AES-256-CBC
// under an ECDH shared secret, with opportunistic gzip compression and no
// authentication of its own (spec §4.4).
package nip04

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/unicitynetwork/nostr-go-sdk/keys"
)

// ErrMalformedEnvelope is returned when the ciphertext grammar is not
// satisfied: a missing or duplicated "?iv=" separator, or an IV that is
// not exactly 16 bytes once decoded.
var ErrMalformedEnvelope = errors.New("nip04: malformed envelope")

// ErrDecryptionFailed is returned when the AES-CBC layer itself fails
// (bad padding, wrong key). NIP-04 has no MAC, so this is the only
// integrity signal available — callers must verify provenance via the
// signed outer event.
var ErrDecryptionFailed = errors.New("nip04: decryption failed")

const gzPrefix = "gz:"
const ivSeparator = "?iv="
const gzipThreshold = 1024

// Encrypt seals plaintext for peerPub using holder's secret via ECDH.
func Encrypt(holder *keys.Holder, peerPub [32]byte, plaintext []byte) (string, error) {
	provider := holder.Provider()
	secret, err := holder.ECDHLegacySharedSecret(peerPub)
	if err != nil {
		return "", err
	}

	var iv [16]byte
	if err := provider.Read(iv[:]); err != nil {
		return "", err
	}

	payload := plaintext
	compressed := false
	if len(plaintext) > gzipThreshold {
		gz, err := provider.Gzip(plaintext)
		if err == nil && len(gz) < len(plaintext) {
			payload = gz
			compressed = true
		}
	}

	ciphertext, err := provider.EncryptCBC(secret[:], iv[:], payload)
	if err != nil {
		return "", err
	}

	out := base64.StdEncoding.EncodeToString(ciphertext) + ivSeparator + base64.StdEncoding.EncodeToString(iv[:])
	if compressed {
		out = gzPrefix + out
	}
	return out, nil
}

// Decrypt opens an envelope produced by Encrypt, using the counter-party's
// peerPub and holder's secret via the same ECDH derivation.
func Decrypt(holder *keys.Holder, peerPub [32]byte, envelope string) ([]byte, error) {
	provider := holder.Provider()

	body := envelope
	compressed := false
	if strings.HasPrefix(body, gzPrefix) {
		compressed = true
		body = body[len(gzPrefix):]
	}

	parts := strings.Split(body, ivSeparator)
	if len(parts) != 2 {
		return nil, ErrMalformedEnvelope
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) != 16 {
		return nil, ErrMalformedEnvelope
	}

	secret, err := holder.ECDHLegacySharedSecret(peerPub)
	if err != nil {
		return nil, err
	}

	plaintext, err := provider.DecryptCBC(secret[:], iv, ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	if compressed {
		plaintext, err = provider.Gunzip(plaintext)
		if err != nil {
			return nil, ErrDecryptionFailed
		}
	}
	return plaintext, nil
}
