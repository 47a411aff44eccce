// Package giftwrap implements the three-layer sender-anonymous envelope:
// rumor (unsigned inner event) → seal (NIP-44-encrypted rumor, signed by
// the real sender) → gift wrap (NIP-44-encrypted seal, signed by a
// throwaway ephemeral identity) (spec §4.6).
package giftwrap

import (
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/unicitynetwork/nostr-go-sdk/cryptoprovider"
	"github.com/unicitynetwork/nostr-go-sdk/envelope/nip44"
	"github.com/unicitynetwork/nostr-go-sdk/event"
	"github.com/unicitynetwork/nostr-go-sdk/keys"
)

// ErrSenderMismatch is returned by Unwrap when the seal's declared pubkey
// does not match the rumor's declared pubkey.
var ErrSenderMismatch = errors.New("giftwrap: seal signer does not match rumor sender")

// maxOffsetSeconds bounds the uniform random created_at fuzz applied to
// both the seal and the gift wrap, independently, per spec.
const maxOffsetSeconds = 172800 // 2 days

// rumor is E serialized without its sig field; id is still I1-canonical.
type rumor struct {
	ID        string          `json:"id"`
	PubKey    string          `json:"pubkey"`
	CreatedAt int64           `json:"created_at"`
	Kind      int             `json:"kind"`
	Tags      [][]string      `json:"tags"`
	Content   string          `json:"content"`
}

func toRumor(ev *event.Event) rumor {
	tags := ev.Tags()
	out := make([][]string, len(tags))
	for i, t := range tags {
		out[i] = append([]string{}, t...)
	}
	return rumor{
		ID:        ev.ID(),
		PubKey:    ev.PubKey(),
		CreatedAt: ev.CreatedAt(),
		Kind:      ev.Kind(),
		Tags:      out,
		Content:   ev.Content(),
	}
}

// Result carries the gift-wrapped event ready to publish.
type Result struct {
	GiftWrap *event.Event
}

// randomOffset returns a uniform random offset in [-maxOffsetSeconds,
// +maxOffsetSeconds] drawn from the provider's randomness source.
func randomOffset(provider cryptoprovider.Provider) (int64, error) {
	var buf [8]byte
	if err := provider.Read(buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	span := uint64(2*maxOffsetSeconds + 1)
	return int64(v%span) - maxOffsetSeconds, nil
}

// Wrap builds the rumor/seal/gift-wrap chain for inner event payload,
// signed conceptually by sender (whose rumor carries no sig), sealed and
// wrapped for recipient.
func Wrap(sender *keys.Holder, recipientPub [32]byte, payload event.Payload, now int64) (*Result, error) {
	provider := sender.Provider()

	// The rumor is never signed; its id is computed like any other event
	// so NIP-01 I1 canonicalization still applies to it.
	innerForID, err := event.Sign(payload, sender, now)
	if err != nil {
		return nil, err
	}
	r := toRumor(innerForID)
	rumorJSON, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	recipientHex := hex.EncodeToString(recipientPub[:])

	sealOffset, err := randomOffset(provider)
	if err != nil {
		return nil, err
	}
	sealContent, err := nip44.Encrypt(sender, recipientPub, rumorJSON)
	if err != nil {
		return nil, err
	}
	sealCreatedAt := now + sealOffset
	seal, err := event.Sign(event.Payload{
		Kind:      event.KindSeal,
		Content:   sealContent,
		CreatedAt: &sealCreatedAt,
	}, sender, now)
	if err != nil {
		return nil, err
	}

	sealJSON, err := seal.ToJSON()
	if err != nil {
		return nil, err
	}

	ephemeral, err := keys.Generate(provider)
	if err != nil {
		return nil, err
	}
	defer ephemeral.Clear()

	wrapOffset, err := randomOffset(provider)
	if err != nil {
		return nil, err
	}
	wrapContent, err := nip44.Encrypt(ephemeral, recipientPub, sealJSON)
	if err != nil {
		return nil, err
	}
	wrapCreatedAt := now + wrapOffset
	giftWrap, err := event.Sign(event.Payload{
		Kind:      event.KindGiftWrap,
		Tags:      event.Tags{{"p", recipientHex}},
		Content:   wrapContent,
		CreatedAt: &wrapCreatedAt,
	}, ephemeral, now)
	if err != nil {
		return nil, err
	}

	return &Result{GiftWrap: giftWrap}, nil
}

// Unwrapped carries what Unwrap recovers from a gift-wrapped event.
type Unwrapped struct {
	SenderPubkey   string
	Rumor          *event.Event
	ReplyToEventID string
}

// Unwrap decrypts a gift-wrap event addressed to recipient, verifying the
// seal's signature and that the rumor's declared sender matches it.
func Unwrap(recipient *keys.Holder, provider cryptoprovider.Provider, giftWrap *event.Event) (*Unwrapped, error) {
	wrapperPub, err := pubBytes(giftWrap.PubKey())
	if err != nil {
		return nil, event.ErrMalformedEvent
	}

	sealJSON, err := nip44.Decrypt(recipient, wrapperPub, giftWrap.Content())
	if err != nil {
		return nil, err
	}
	seal, err := event.Parse(sealJSON)
	if err != nil {
		return nil, err
	}
	if !seal.Verify(provider) {
		return nil, event.ErrMalformedEvent
	}

	sealerPub, err := pubBytes(seal.PubKey())
	if err != nil {
		return nil, event.ErrMalformedEvent
	}
	rumorJSON, err := nip44.Decrypt(recipient, sealerPub, seal.Content())
	if err != nil {
		return nil, err
	}

	var r rumor
	if err := json.Unmarshal(rumorJSON, &r); err != nil {
		return nil, event.ErrMalformedEvent
	}
	if r.PubKey != seal.PubKey() {
		return nil, ErrSenderMismatch
	}

	tags := make(event.Tags, len(r.Tags))
	for i, t := range r.Tags {
		tags[i] = append(event.Tag{}, t...)
	}
	rumorEvent := event.FromRumor(r.ID, r.PubKey, r.CreatedAt, r.Kind, tags, r.Content)

	var replyTo string
	if entry, ok := rumorEvent.TagEntry("e"); ok && len(entry) > 0 {
		replyTo = entry[0]
	}

	return &Unwrapped{
		SenderPubkey:   seal.PubKey(),
		Rumor:          rumorEvent,
		ReplyToEventID: replyTo,
	}, nil
}

func pubBytes(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != 32 {
		return out, event.ErrMalformedEvent
	}
	copy(out[:], b)
	return out, nil
}
