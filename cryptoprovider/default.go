package cryptoprovider

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/klauspost/compress/gzip"
)

// ErrInvalidPoint is returned when a peer's x-only public key does not
// correspond to a point on the secp256k1 curve.
var ErrInvalidPoint = errors.New("cryptoprovider: invalid secp256k1 point")

// Default is the production Provider, wiring real secp256k1/Schnorr,
// HKDF, XChaCha20, AES-CBC, gzip and Bech32 implementations.
type Default struct{}

// NewDefault returns the production crypto provider.
func NewDefault() *Default { return &Default{} }

var _ Provider = (*Default)(nil)

func (Default) PublicKey(secret [32]byte) ([32]byte, error) {
	priv, pub := btcec.PrivKeyFromBytes(secret[:])
	defer priv.Zero()
	var out [32]byte
	copy(out[:], schnorr.SerializePubKey(pub))
	return out, nil
}

func (Default) Sign(secret [32]byte, digest [32]byte) ([64]byte, error) {
	priv, _ := btcec.PrivKeyFromBytes(secret[:])
	defer priv.Zero()
	sig, err := schnorr.Sign(priv, digest[:])
	var out [64]byte
	if err != nil {
		return out, err
	}
	copy(out[:], sig.Serialize())
	return out, nil
}

func (Default) Verify(pubkey [32]byte, digest [32]byte, sig [64]byte) bool {
	pub, err := schnorr.ParsePubKey(pubkey[:])
	if err != nil {
		return false
	}
	parsed, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return parsed.Verify(digest[:], pub)
}

func (Default) SharedSecretX(secret [32]byte, peerPub [32]byte) ([32]byte, error) {
	var out [32]byte
	priv, _ := btcec.PrivKeyFromBytes(secret[:])
	defer priv.Zero()

	pub, err := schnorr.ParsePubKey(peerPub[:])
	if err != nil {
		return out, ErrInvalidPoint
	}

	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	result.X.PutBytesUnchecked(out[:])
	return out, nil
}

func (Default) SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (Default) HKDFExtract(salt, ikm []byte) []byte {
	return hkdf.Extract(sha256.New, ikm, salt)
}

func (Default) HKDFExpand(prk []byte, info []byte, length int) ([]byte, error) {
	r := hkdf.Expand(sha256.New, prk, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (Default) EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func (Default) DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("cryptoprovider: ciphertext not a multiple of the block size")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cryptoprovider: empty padded buffer")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("cryptoprovider: invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("cryptoprovider: invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}

func (Default) ChaCha20(key [32]byte, nonce []byte, src []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(src))
	c.XORKeyStream(out, src)
	return out, nil
}

func (Default) Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Default) Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (Default) Encode(hrp string, data []byte) (string, error) {
	converted, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, converted)
}

func (Default) Decode(s string) (string, []byte, error) {
	hrp, data, err := bech32.Decode(s)
	if err != nil {
		return "", nil, err
	}
	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, converted, nil
}

func (Default) Read(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}
