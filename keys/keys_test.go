package keys

import (
	"strings"
	"testing"

	"github.com/unicitynetwork/nostr-go-sdk/cryptoprovider"
)

func testProvider() cryptoprovider.Provider { return cryptoprovider.NewDefault() }

func TestGenerateProducesUsableHolder(t *testing.T) {
	h, err := Generate(testProvider())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pub, err := h.PublicHex()
	if err != nil {
		t.Fatalf("PublicHex: %v", err)
	}
	if len(pub) != 64 {
		t.Fatalf("PublicHex length = %d, want 64", len(pub))
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	_, err := FromBytes(testProvider(), make([]byte, 31))
	if err != ErrInvalidKeyLength {
		t.Fatalf("err = %v, want ErrInvalidKeyLength", err)
	}
}

func TestFromHexRoundTrip(t *testing.T) {
	h1, err := Generate(testProvider())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	secretHex, err := h1.SecretHex()
	if err != nil {
		t.Fatalf("SecretHex: %v", err)
	}

	h2, err := FromHex(testProvider(), secretHex)
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	pub1, _ := h1.PublicHex()
	pub2, _ := h2.PublicHex()
	if pub1 != pub2 {
		t.Fatalf("PublicHex mismatch after FromHex round trip: %q vs %q", pub1, pub2)
	}
}

func TestNsecRoundTrip(t *testing.T) {
	h1, err := Generate(testProvider())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	nsec, err := h1.Nsec()
	if err != nil {
		t.Fatalf("Nsec: %v", err)
	}
	if !strings.HasPrefix(nsec, "nsec1") {
		t.Fatalf("Nsec = %q, want nsec1 prefix", nsec)
	}

	h2, err := FromNsec(testProvider(), nsec)
	if err != nil {
		t.Fatalf("FromNsec: %v", err)
	}
	pub1, _ := h1.PublicHex()
	pub2, _ := h2.PublicHex()
	if pub1 != pub2 {
		t.Fatalf("PublicHex mismatch after Nsec round trip: %q vs %q", pub1, pub2)
	}
}

func TestFromNsecRejectsWrongHRP(t *testing.T) {
	h, err := Generate(testProvider())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	npub, err := h.Npub()
	if err != nil {
		t.Fatalf("Npub: %v", err)
	}
	if _, err := FromNsec(testProvider(), npub); err != ErrInvalidBech32 {
		t.Fatalf("err = %v, want ErrInvalidBech32", err)
	}
}

func TestIsMyPubkey(t *testing.T) {
	h, err := Generate(testProvider())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	pub, _ := h.PublicHex()
	if !h.IsMyPubkey(strings.ToUpper(pub)) {
		t.Fatal("IsMyPubkey should compare case-insensitively")
	}
	if h.IsMyPubkey("00000000000000000000000000000000000000000000000000000000000000") {
		t.Fatal("IsMyPubkey matched an unrelated key")
	}
}

func TestClearDisablesFurtherUse(t *testing.T) {
	h, err := Generate(testProvider())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h.Clear()

	if _, err := h.SecretBytes(); err != ErrCleared {
		t.Fatalf("SecretBytes err = %v, want ErrCleared", err)
	}
	if _, err := h.PublicHex(); err != ErrCleared {
		t.Fatalf("PublicHex err = %v, want ErrCleared", err)
	}
	var digest [32]byte
	if _, err := h.Sign(digest); err != ErrCleared {
		t.Fatalf("Sign err = %v, want ErrCleared", err)
	}
}

func TestSignVerifiesAgainstPublicKey(t *testing.T) {
	provider := testProvider()
	h, err := Generate(provider)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	digest := provider.SHA256([]byte("hello"))

	sig, err := h.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	pub, err := h.PublicBytes()
	if err != nil {
		t.Fatalf("PublicBytes: %v", err)
	}
	if !provider.Verify(pub, digest, sig) {
		t.Fatal("Verify rejected a signature Sign just produced")
	}
}

func TestConversationKeyIsSymmetric(t *testing.T) {
	provider := testProvider()
	alice, err := Generate(provider)
	if err != nil {
		t.Fatalf("Generate alice: %v", err)
	}
	bob, err := Generate(provider)
	if err != nil {
		t.Fatalf("Generate bob: %v", err)
	}
	bobPub, err := bob.PublicBytes()
	if err != nil {
		t.Fatalf("bob.PublicBytes: %v", err)
	}
	alicePub, err := alice.PublicBytes()
	if err != nil {
		t.Fatalf("alice.PublicBytes: %v", err)
	}

	k1, err := alice.ConversationKey(bobPub)
	if err != nil {
		t.Fatalf("alice.ConversationKey: %v", err)
	}
	k2, err := bob.ConversationKey(alicePub)
	if err != nil {
		t.Fatalf("bob.ConversationKey: %v", err)
	}
	if k1 != k2 {
		t.Fatal("ConversationKey is not symmetric between the two parties")
	}
}
