// Package event implements the canonical Nostr event: construction,
// signing, parsing, verification and tag queries (spec §3, §4.2).
package event

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/unicitynetwork/nostr-go-sdk/cryptoprovider"
	"github.com/unicitynetwork/nostr-go-sdk/keys"
)

// ErrMalformedEvent is returned when a payload or wire object is missing a
// required field or carries a field of the wrong shape.
var ErrMalformedEvent = errors.New("event: malformed event")

// Named kind constants used by the core protocol and its application
// envelopes. TokenTransfer/PaymentRequest/PaymentRequestResponse occupy a
// disjoint "regular" (non-replaceable, non-ephemeral, non-addressable)
// block below 10000; spec.md leaves their exact values to the
// implementation (only NametagBinding's 30078 is pinned) — see DESIGN.md's
// Open Questions.
const (
	KindMetadata              = 0
	KindTextNote              = 1
	KindContacts              = 3
	KindLegacyDM              = 4
	KindSeal                  = 13
	KindChatRumor             = 14
	KindReadReceiptRumor      = 15
	KindTokenTransfer         = 9001
	KindPaymentRequest        = 9002
	KindPaymentRequestResponse = 9003
	KindGiftWrap              = 1059
	KindAuth                  = 22242
	KindAppData               = 30078
	KindNametagBinding        = 30078
)

// Tag is an ordered string sequence; element 0 is the tag name.
type Tag []string

// Name returns the tag's first element, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's element at index 1, or "" if absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is an ordered sequence of Tag.
type Tags []Tag

func cloneTags(tags Tags) Tags {
	out := make(Tags, len(tags))
	for i, t := range tags {
		out[i] = append(Tag{}, t...)
	}
	return out
}

// Payload is the mutable input to Sign: everything the caller supplies
// before the model fills in pubkey/id/sig.
type Payload struct {
	Kind      int
	Tags      Tags
	Content   string
	CreatedAt *int64 // nil means "now", supplied by the caller's clock
}

// Event is immutable once constructed by Sign or Parse. Every accessor
// returns a value or a fresh copy; nothing aliases internal storage.
type Event struct {
	id        string
	pubkey    string
	createdAt int64
	kind      int
	tags      Tags
	content   string
	sig       string
}

func (e *Event) ID() string        { return e.id }
func (e *Event) PubKey() string    { return e.pubkey }
func (e *Event) CreatedAt() int64  { return e.createdAt }
func (e *Event) Kind() int         { return e.kind }
func (e *Event) Tags() Tags        { return cloneTags(e.tags) }
func (e *Event) Content() string   { return e.content }
func (e *Event) Sig() string       { return e.sig }

// HasTag reports whether any tag has the given name.
func (e *Event) HasTag(name string) bool {
	for _, t := range e.tags {
		if t.Name() == name {
			return true
		}
	}
	return false
}

// TagValue returns the value (index 1) of the first tag with the given
// name.
func (e *Event) TagValue(name string) (string, bool) {
	for _, t := range e.tags {
		if t.Name() == name {
			return t.Value(), true
		}
	}
	return "", false
}

// TagValues returns the values (index 1) of every tag with the given name.
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.tags {
		if t.Name() == name {
			out = append(out, t.Value())
		}
	}
	return out
}

// TagEntry returns the remainder (everything after index 0) of the first
// tag with the given name.
func (e *Event) TagEntry(name string) ([]string, bool) {
	for _, t := range e.tags {
		if t.Name() == name {
			return append([]string{}, t[1:]...), true
		}
	}
	return nil, false
}

// Sign constructs and signs an Event from a Payload. now is the caller's
// clock, used only when Payload.CreatedAt is nil — the event model never
// reads the ambient clock itself.
func Sign(payload Payload, holder *keys.Holder, now int64) (*Event, error) {
	pubHex, err := holder.PublicHex()
	if err != nil {
		return nil, err
	}

	createdAt := now
	if payload.CreatedAt != nil {
		createdAt = *payload.CreatedAt
	}
	if createdAt < 0 {
		return nil, ErrMalformedEvent
	}

	tags := payload.Tags
	for _, t := range tags {
		if len(t) < 1 {
			return nil, ErrMalformedEvent
		}
	}

	data := canonicalJSON(pubHex, createdAt, payload.Kind, tags, payload.Content)
	digest := holder.Provider().SHA256(data)
	idHex := hex.EncodeToString(digest[:])

	sigHex, err := holder.SignHex(digest)
	if err != nil {
		return nil, err
	}

	return &Event{
		id:        idHex,
		pubkey:    pubHex,
		createdAt: createdAt,
		kind:      payload.Kind,
		tags:      cloneTags(tags),
		content:   payload.Content,
		sig:       sigHex,
	}, nil
}

// Verify recomputes the canonical id (I1) and checks it against the
// stored id, then checks the Schnorr signature (I2). Any failure — a
// mismatched id, an unparseable pubkey/sig, or an invalid signature —
// yields false, never an error.
func (e *Event) Verify(provider cryptoprovider.Provider) bool {
	data := canonicalJSON(e.pubkey, e.createdAt, e.kind, e.tags, e.content)
	digest := provider.SHA256(data)
	if !strings.EqualFold(hex.EncodeToString(digest[:]), e.id) {
		return false
	}

	pubBytes, err := hex.DecodeString(e.pubkey)
	if err != nil || len(pubBytes) != 32 {
		return false
	}
	sigBytes, err := hex.DecodeString(e.sig)
	if err != nil || len(sigBytes) != 64 {
		return false
	}

	var pub [32]byte
	var sig [64]byte
	copy(pub[:], pubBytes)
	copy(sig[:], sigBytes)
	return provider.Verify(pub, digest, sig)
}

// FromRumor reconstructs an Event from a gift-wrap rumor: a payload that
// carries an id (computed per I1 when it was first signed) but no sig,
// since rumors are never themselves signed. It exists so callers outside
// this package (giftwrap) can use Event's tag-query accessors on a rumor
// without fabricating a signature.
func FromRumor(id, pubkey string, createdAt int64, kind int, tags Tags, content string) *Event {
	return &Event{
		id:        id,
		pubkey:    pubkey,
		createdAt: createdAt,
		kind:      kind,
		tags:      cloneTags(tags),
		content:   content,
	}
}

// IsReplaceable reports whether kind is in the replaceable set
// {0, 3} ∪ [10000, 20000).
func IsReplaceable(kind int) bool {
	return kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000)
}

// IsEphemeral reports whether kind is in [20000, 30000).
func IsEphemeral(kind int) bool {
	return kind >= 20000 && kind < 30000
}

// IsAddressable reports whether kind is in [30000, 40000).
func IsAddressable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// canonicalJSON renders [0, pubkey, created_at, kind, tags, content] per
// I1: RFC-8259 with no whitespace, minimal escapes, integers without a
// fractional part. encoding/json cannot give us this exact byte control
// (it HTML-escapes and emits \u00XX for \b/\f instead of the two-char
// forms NIP-01 mandates), so this is hand-rolled rather than borrowed.
func canonicalJSON(pubkey string, createdAt int64, kind int, tags Tags, content string) []byte {
	var buf bytes.Buffer
	buf.WriteString("[0,")
	buf.WriteByte('"')
	buf.WriteString(escapeString(pubkey))
	buf.WriteString("\",")
	buf.WriteString(strconv.FormatInt(createdAt, 10))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(kind))
	buf.WriteByte(',')
	writeTagsJSON(&buf, tags)
	buf.WriteByte(',')
	buf.WriteByte('"')
	buf.WriteString(escapeString(content))
	buf.WriteByte('"')
	buf.WriteByte(']')
	return buf.Bytes()
}

func writeTagsJSON(buf *bytes.Buffer, tags Tags) {
	buf.WriteByte('[')
	for i, t := range tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for j, s := range t {
			if j > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('"')
			buf.WriteString(escapeString(s))
			buf.WriteByte('"')
		}
		buf.WriteByte(']')
	}
	buf.WriteByte(']')
}

// escapeString applies exactly the escapes NIP-01 requires: \", \\, \n,
// \r, \t, \b, \f, and \u00XX for any other control character. Everything
// else — including multi-byte UTF-8 — passes through verbatim.
func escapeString(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u`)
				hexDigits := strconv.FormatInt(int64(r), 16)
				for i := len(hexDigits); i < 4; i++ {
					buf.WriteByte('0')
				}
				buf.WriteString(hexDigits)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	return buf.String()
}
