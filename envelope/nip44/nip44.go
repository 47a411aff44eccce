// Package nip44 implements the NIP-44 v2 sealed envelope: a conversation
// key derived once via HKDF-extract, a per-message HKDF-expand into
// stream-cipher/MAC subkeys, length-padded plaintext, and an explicit
// HMAC-SHA-256 authentication tag (spec §4.5).
package nip44

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"

	"github.com/unicitynetwork/nostr-go-sdk/keys"
)

var (
	ErrUnsupportedVersion  = errors.New("nip44: unsupported version")
	ErrPayloadTooShort     = errors.New("nip44: payload too short")
	ErrAuthenticationFailed = errors.New("nip44: authentication failed")
	ErrInvalidPadding      = errors.New("nip44: invalid padding")
	ErrMessageTooShort     = errors.New("nip44: message too short")
	ErrMessageTooLong      = errors.New("nip44: message too long")
)

const (
	version        = 0x02
	nonceLen       = 32
	macLen         = 32
	chachaKeyLen   = 32
	chachaNonceLen = 12
	hmacKeyLen     = 32
	hkdfInfo       = "nip44-v2"
	maxMessageLen  = 65535
)

// minPayloadLen is 1 (version) + 32 (nonce) + 2+32 (smallest padded body,
// padded_len(1) = 32) + 32 (mac).
const minPayloadLen = 1 + nonceLen + 2 + 32 + macLen

// paddedLen computes NIP-44's padding target for an n-byte plaintext.
func paddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	p := nextPowerOfTwo(n)
	chunk := p / 8
	if chunk < 32 {
		chunk = 32
	}
	return ((n + chunk - 1) / chunk) * chunk
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

type subkeys struct {
	chachaKey   [chachaKeyLen]byte
	chachaNonce [chachaNonceLen]byte
	hmacKey     [hmacKeyLen]byte
}

func deriveSubkeys(holder *keys.Holder, peerPub [32]byte, nonce []byte) (subkeys, error) {
	var out subkeys
	convKey, err := holder.ConversationKey(peerPub)
	if err != nil {
		return out, err
	}
	expanded, err := holder.Provider().HKDFExpand(convKey[:], nonce, chachaKeyLen+chachaNonceLen+hmacKeyLen)
	if err != nil {
		return out, err
	}
	copy(out.chachaKey[:], expanded[:chachaKeyLen])
	copy(out.chachaNonce[:], expanded[chachaKeyLen:chachaKeyLen+chachaNonceLen])
	copy(out.hmacKey[:], expanded[chachaKeyLen+chachaNonceLen:])
	return out, nil
}

// Encrypt seals plaintext for peerPub using holder's conversation key.
func Encrypt(holder *keys.Holder, peerPub [32]byte, plaintext []byte) (string, error) {
	n := len(plaintext)
	if n < 1 {
		return "", ErrMessageTooShort
	}
	if n > maxMessageLen {
		return "", ErrMessageTooLong
	}

	var nonce [nonceLen]byte
	if err := holder.Provider().Read(nonce[:]); err != nil {
		return "", err
	}

	sub, err := deriveSubkeys(holder, peerPub, nonce[:])
	if err != nil {
		return "", err
	}

	padded := make([]byte, 2+paddedLen(n))
	binary.BigEndian.PutUint16(padded[:2], uint16(n))
	copy(padded[2:2+n], plaintext)

	ciphertext, err := holder.Provider().ChaCha20(sub.chachaKey, sub.chachaNonce[:], padded)
	if err != nil {
		return "", err
	}

	mac := computeMAC(sub.hmacKey, nonce[:], ciphertext)

	payload := make([]byte, 0, 1+nonceLen+len(ciphertext)+macLen)
	payload = append(payload, version)
	payload = append(payload, nonce[:]...)
	payload = append(payload, ciphertext...)
	payload = append(payload, mac...)

	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens an envelope produced by Encrypt.
func Decrypt(holder *keys.Holder, peerPub [32]byte, envelope string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil || len(payload) == 0 || payload[0] != version {
		return nil, ErrUnsupportedVersion
	}
	if len(payload) < minPayloadLen {
		return nil, ErrPayloadTooShort
	}

	nonce := payload[1 : 1+nonceLen]
	mac := payload[len(payload)-macLen:]
	ciphertext := payload[1+nonceLen : len(payload)-macLen]

	sub, err := deriveSubkeys(holder, peerPub, nonce)
	if err != nil {
		return nil, err
	}

	expectedMAC := computeMAC(sub.hmacKey, nonce, ciphertext)
	if !hmac.Equal(expectedMAC, mac) {
		return nil, ErrAuthenticationFailed
	}

	var chachaNonce [chachaNonceLen]byte
	copy(chachaNonce[:], sub.chachaNonce[:])
	padded, err := holder.Provider().ChaCha20(sub.chachaKey, chachaNonce[:], ciphertext)
	if err != nil {
		return nil, err
	}
	if len(padded) < 2 {
		return nil, ErrInvalidPadding
	}

	declaredLen := int(binary.BigEndian.Uint16(padded[:2]))
	if declaredLen == 0 {
		return nil, ErrInvalidPadding
	}
	if declaredLen > len(padded)-2 || 2+paddedLen(declaredLen) != len(padded) {
		return nil, ErrInvalidPadding
	}

	return padded[2 : 2+declaredLen], nil
}

func computeMAC(key [hmacKeyLen]byte, nonce, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key[:])
	h.Write(nonce)
	h.Write(ciphertext)
	return h.Sum(nil)
}
