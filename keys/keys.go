// Package keys owns a Nostr identity's secret key, the derived public key,
// and the signing/ECDH operations bound to it (spec §4.1).
package keys

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/unicitynetwork/nostr-go-sdk/cryptoprovider"
)

// ErrInvalidKeyLength is returned when raw secret key material is not
// exactly 32 bytes.
var ErrInvalidKeyLength = errors.New("keys: secret must be exactly 32 bytes")

// ErrCleared is returned by any secret- or public-key-using operation once
// Clear has been called.
var ErrCleared = errors.New("keys: holder has been cleared")

// ErrInvalidBech32 is returned when an nsec string fails to decode.
var ErrInvalidBech32 = errors.New("keys: invalid bech32 nsec")

const nsecHRP = "nsec"
const npubHRP = "npub"

// Holder owns a 32-byte secp256k1 secret and its derived x-only public
// key. Every accessor returns a fresh copy; nothing aliases internal
// storage. Clear overwrites the secret with zero bytes and disables all
// further secret- and public-key-using operations.
type Holder struct {
	provider cryptoprovider.Provider

	mu      sync.Mutex
	secret  [32]byte
	public  [32]byte
	cleared bool
}

// FromBytes builds a Holder from a raw 32-byte secret.
func FromBytes(provider cryptoprovider.Provider, secret []byte) (*Holder, error) {
	if len(secret) != 32 {
		return nil, ErrInvalidKeyLength
	}
	var buf [32]byte
	copy(buf[:], secret)
	pub, err := provider.PublicKey(buf)
	if err != nil {
		return nil, err
	}
	return &Holder{provider: provider, secret: buf, public: pub}, nil
}

// FromHex builds a Holder from a hex-encoded 32-byte secret.
func FromHex(provider cryptoprovider.Provider, secretHex string) (*Holder, error) {
	b, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, ErrInvalidKeyLength
	}
	return FromBytes(provider, b)
}

// FromNsec builds a Holder from a Bech32-encoded "nsec" secret key.
func FromNsec(provider cryptoprovider.Provider, nsec string) (*Holder, error) {
	hrp, data, err := provider.Decode(nsec)
	if err != nil || hrp != nsecHRP {
		return nil, ErrInvalidBech32
	}
	return FromBytes(provider, data)
}

// Generate creates a Holder from fresh cryptographically secure randomness.
func Generate(provider cryptoprovider.Provider) (*Holder, error) {
	var buf [32]byte
	if err := provider.Read(buf[:]); err != nil {
		return nil, err
	}
	return FromBytes(provider, buf[:])
}

// SecretBytes returns a copy of the 32-byte secret.
func (h *Holder) SecretBytes() ([32]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero [32]byte
	if h.cleared {
		return zero, ErrCleared
	}
	return h.secret, nil
}

// SecretHex returns the secret as a lowercase hex string.
func (h *Holder) SecretHex() (string, error) {
	b, err := h.SecretBytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Nsec returns the secret Bech32-encoded with the "nsec" human-readable part.
func (h *Holder) Nsec() (string, error) {
	b, err := h.SecretBytes()
	if err != nil {
		return "", err
	}
	return h.provider.Encode(nsecHRP, b[:])
}

// PublicBytes returns a copy of the 32-byte x-only public key. Public key
// access after Clear fails: the public key is considered linkable to the
// now-cleared identity.
func (h *Holder) PublicBytes() ([32]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero [32]byte
	if h.cleared {
		return zero, ErrCleared
	}
	return h.public, nil
}

// PublicHex returns the public key as a lowercase hex string.
func (h *Holder) PublicHex() (string, error) {
	b, err := h.PublicBytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Npub returns the public key Bech32-encoded with the "npub" human-readable
// part.
func (h *Holder) Npub() (string, error) {
	b, err := h.PublicBytes()
	if err != nil {
		return "", err
	}
	return h.provider.Encode(npubHRP, b[:])
}

// Sign produces a 64-byte BIP-340 Schnorr signature over a 32-byte digest.
func (h *Holder) Sign(digest [32]byte) ([64]byte, error) {
	var zero [64]byte
	secret, err := h.SecretBytes()
	if err != nil {
		return zero, err
	}
	return h.provider.Sign(secret, digest)
}

// SignHex is Sign with hex-encoded output.
func (h *Holder) SignHex(digest [32]byte) (string, error) {
	sig, err := h.Sign(digest)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig[:]), nil
}

// ECDHLegacySharedSecret computes the NIP-04 shared secret
// SHA-256(x(secret * peerPub)).
func (h *Holder) ECDHLegacySharedSecret(peerPub [32]byte) ([32]byte, error) {
	var zero [32]byte
	secret, err := h.SecretBytes()
	if err != nil {
		return zero, err
	}
	x, err := h.provider.SharedSecretX(secret, peerPub)
	if err != nil {
		return zero, err
	}
	return h.provider.SHA256(x[:]), nil
}

// nip44Salt is the fixed HKDF-extract salt mandated by NIP-44.
const nip44Salt = "nip44-v2"

// ConversationKey computes the NIP-44 conversation key
// HKDF-Extract(salt="nip44-v2", ikm=x(secret * peerPub)).
func (h *Holder) ConversationKey(peerPub [32]byte) ([32]byte, error) {
	var zero [32]byte
	secret, err := h.SecretBytes()
	if err != nil {
		return zero, err
	}
	x, err := h.provider.SharedSecretX(secret, peerPub)
	if err != nil {
		return zero, err
	}
	out := h.provider.HKDFExtract([]byte(nip44Salt), x[:])
	var key [32]byte
	copy(key[:], out)
	return key, nil
}

// IsMyPubkey compares a hex-encoded public key against this holder's own,
// case-insensitively.
func (h *Holder) IsMyPubkey(pubHex string) bool {
	mine, err := h.PublicHex()
	if err != nil {
		return false
	}
	return strings.EqualFold(mine, pubHex)
}

// Clear overwrites the secret buffer with zero bytes. Every subsequent
// secret- or public-key-using operation fails with ErrCleared.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.secret {
		h.secret[i] = 0
	}
	for i := range h.public {
		h.public[i] = 0
	}
	h.cleared = true
}

// Provider returns the cryptoprovider.Provider this holder was built with,
// so envelope packages can share it without re-threading configuration.
func (h *Holder) Provider() cryptoprovider.Provider {
	return h.provider
}
