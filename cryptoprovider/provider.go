// Package cryptoprovider defines the primitive operations the rest of the
// SDK treats as externally supplied: secp256k1/Schnorr, ECDH, AES-CBC,
// XChaCha20, HKDF, SHA-256, gzip, Bech32 and secure randomness. Callers
// inject a Provider at construction time; nothing in this package or its
// callers reaches into process-wide globals to discover an implementation.
package cryptoprovider

// Signer produces and checks BIP-340 Schnorr signatures over 32-byte
// digests, and derives the 32-byte x-only public key for a secret.
type Signer interface {
	PublicKey(secret [32]byte) ([32]byte, error)
	Sign(secret [32]byte, digest [32]byte) ([64]byte, error)
	Verify(pubkey [32]byte, digest [32]byte, sig [64]byte) bool
}

// ECDH derives shared secrets from a local secret and a peer's x-only
// public key, assuming even parity for the peer's point as NIP-04/NIP-44
// require.
type ECDH interface {
	// SharedSecretX returns the raw x-coordinate of secret*peerPub, used as
	// input to both the legacy NIP-04 hash and the NIP-44 HKDF extract.
	SharedSecretX(secret [32]byte, peerPub [32]byte) ([32]byte, error)
}

// Hasher wraps SHA-256.
type Hasher interface {
	SHA256(data []byte) [32]byte
}

// KDF wraps HKDF extract/expand.
type KDF interface {
	HKDFExtract(salt, ikm []byte) []byte
	HKDFExpand(prk []byte, info []byte, length int) ([]byte, error)
}

// BlockCipher provides AES-256-CBC for NIP-04.
type BlockCipher interface {
	EncryptCBC(key, iv, plaintext []byte) ([]byte, error)
	DecryptCBC(key, iv, ciphertext []byte) ([]byte, error)
}

// StreamCipher provides the unauthenticated ChaCha20 family stream used
// by NIP-44 (the MAC is computed separately, over nonce||ciphertext).
// nonce may be 12 bytes (IETF ChaCha20, what NIP-44 v2 actually derives)
// or 24 bytes (XChaCha20); the underlying library dispatches on length.
type StreamCipher interface {
	ChaCha20(key [32]byte, nonce []byte, src []byte) ([]byte, error)
}

// Compressor wraps gzip, used opportunistically by NIP-04.
type Compressor interface {
	Gzip(data []byte) ([]byte, error)
	Gunzip(data []byte) ([]byte, error)
}

// Bech32Codec encodes/decodes the nsec/npub human-readable entities.
type Bech32Codec interface {
	Encode(hrp string, data []byte) (string, error)
	Decode(s string) (hrp string, data []byte, err error)
}

// RandomSource supplies cryptographically secure randomness.
type RandomSource interface {
	Read(buf []byte) error
}

// Provider bundles every primitive the SDK needs. Default (in default.go)
// is the production wiring; tests may substitute fakes for determinism.
type Provider interface {
	Signer
	ECDH
	Hasher
	KDF
	BlockCipher
	StreamCipher
	Compressor
	Bech32Codec
	RandomSource
}
