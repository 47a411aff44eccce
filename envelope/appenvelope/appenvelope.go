// Package appenvelope implements the three application-level envelopes
// built on top of the NIP-04 sealed envelope — token transfer, payment
// request, payment-request response — plus the nametag binding record
// and its lookup filters (spec §4.7).
package appenvelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/unicitynetwork/nostr-go-sdk/envelope/nip04"
	"github.com/unicitynetwork/nostr-go-sdk/event"
	"github.com/unicitynetwork/nostr-go-sdk/filter"
	"github.com/unicitynetwork/nostr-go-sdk/keys"
)

// ErrNotThisEnvelope is returned when an event's prefix or type tag does
// not match the envelope kind the caller asked to parse.
var ErrNotThisEnvelope = errors.New("appenvelope: event is not this envelope type")

const (
	tokenTransferPrefix        = "token_transfer:"
	paymentRequestPrefix       = "payment_request:"
	paymentRequestResponsePref = "payment_request_response:"

	typeTokenTransfer        = "token_transfer"
	typePaymentRequest       = "payment_request"
	typePaymentRequestResp   = "payment_request_response"

	deadlineDefaultMS = 5 * 60 * 1000
)

// counterpartyPubkey selects the peer to ECDH with: if the event was
// authored by me, the peer is the event's "p" tag target; otherwise the
// peer is the event's own author.
func counterpartyPubkey(ev *event.Event, myPubkeyHex string) (string, error) {
	if strings.EqualFold(ev.PubKey(), myPubkeyHex) {
		p, ok := ev.TagValue("p")
		if !ok {
			return "", ErrNotThisEnvelope
		}
		return p, nil
	}
	return ev.PubKey(), nil
}

func peerBytes(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != 32 {
		return out, ErrNotThisEnvelope
	}
	copy(out[:], b)
	return out, nil
}

// decryptCounterparty decrypts ev.Content() under the ECDH pair of
// holder and whichever side of (event.pubkey, p tag) is not holder.
func decryptCounterparty(holder *keys.Holder, ev *event.Event) (string, error) {
	myHex, err := holder.PublicHex()
	if err != nil {
		return "", err
	}
	peerHex, err := counterpartyPubkey(ev, myHex)
	if err != nil {
		return "", err
	}
	peer, err := peerBytes(peerHex)
	if err != nil {
		return "", err
	}
	plaintext, err := nip04.Decrypt(holder, peer, ev.Content())
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// TokenTransfer is the decrypted payload of a token-transfer envelope.
type TokenTransfer struct {
	Recipient string
	Amount    string
	Symbol    string
	ReplyTo   string
	Token     string
}

// BuildTokenTransfer constructs and signs a token-transfer event.
func BuildTokenTransfer(sender *keys.Holder, recipientPub [32]byte, token, amount, symbol, replyTo string, now int64) (*event.Event, error) {
	recipientHex := hex.EncodeToString(recipientPub[:])
	ciphertext, err := nip04.Encrypt(sender, recipientPub, []byte(tokenTransferPrefix+token))
	if err != nil {
		return nil, err
	}

	tags := event.Tags{
		{"p", recipientHex},
		{"type", typeTokenTransfer},
	}
	if amount != "" {
		tags = append(tags, event.Tag{"amount", amount})
	}
	if symbol != "" {
		tags = append(tags, event.Tag{"symbol", symbol})
	}
	if replyTo != "" {
		tags = append(tags, event.Tag{"e", replyTo, "", "reply"})
	}

	return event.Sign(event.Payload{
		Kind:    event.KindTokenTransfer,
		Tags:    tags,
		Content: ciphertext,
	}, sender, now)
}

// ParseTokenTransfer decrypts and validates a token-transfer event.
func ParseTokenTransfer(holder *keys.Holder, ev *event.Event) (*TokenTransfer, error) {
	if ev.Kind() != event.KindTokenTransfer {
		return nil, ErrNotThisEnvelope
	}
	if t, _ := ev.TagValue("type"); t != typeTokenTransfer {
		return nil, ErrNotThisEnvelope
	}
	plaintext, err := decryptCounterparty(holder, ev)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(plaintext, tokenTransferPrefix) {
		return nil, ErrNotThisEnvelope
	}

	recipient, _ := ev.TagValue("p")
	amount, _ := ev.TagValue("amount")
	symbol, _ := ev.TagValue("symbol")
	var replyTo string
	if entry, ok := ev.TagEntry("e"); ok && len(entry) > 0 {
		replyTo = entry[0]
	}

	return &TokenTransfer{
		Recipient: recipient,
		Amount:    amount,
		Symbol:    symbol,
		ReplyTo:   replyTo,
		Token:     strings.TrimPrefix(plaintext, tokenTransferPrefix),
	}, nil
}

// paymentRequestBody is the JSON payload encrypted inside a payment
// request's envelope.
type paymentRequestBody struct {
	Amount           string  `json:"amount"`
	CoinID           string  `json:"coinId"`
	Message          *string `json:"message,omitempty"`
	RecipientNametag string  `json:"recipientNametag"`
	RequestID        string  `json:"requestId"`
	Deadline         *int64  `json:"deadline"`
}

// PaymentRequest is the decoded form of a payment-request envelope.
type PaymentRequest struct {
	Target           string
	Amount           string
	CoinID           string
	Message          string
	RecipientNametag string
	RequestID        string
	Deadline         *int64 // nil means no deadline
}

// BuildPaymentRequestOpts lets callers override the generated request id
// and deadline; zero values trigger the spec's defaulting behavior.
type BuildPaymentRequestOpts struct {
	RequestID   string // empty: generate 4 random bytes -> 8 hex chars
	NoDeadline  bool   // true: omit the deadline entirely
	DeadlineMS  int64  // 0 and !NoDeadline: nowMS + 5 minutes
	Message     string
}

func randomRequestID(holder *keys.Holder) (string, error) {
	var buf [4]byte
	if err := holder.Provider().Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// BuildPaymentRequest constructs and signs a payment-request event.
func BuildPaymentRequest(sender *keys.Holder, targetPub [32]byte, amount, coinID, recipientNametag string, opts BuildPaymentRequestOpts, nowMS int64) (*event.Event, error) {
	requestID := opts.RequestID
	if requestID == "" {
		var err error
		requestID, err = randomRequestID(sender)
		if err != nil {
			return nil, err
		}
	}

	var deadline *int64
	if !opts.NoDeadline {
		d := opts.DeadlineMS
		if d == 0 {
			d = nowMS + deadlineDefaultMS
		}
		deadline = &d
	}

	body := paymentRequestBody{
		Amount:           amount,
		CoinID:           coinID,
		RecipientNametag: recipientNametag,
		RequestID:        requestID,
		Deadline:         deadline,
	}
	if opts.Message != "" {
		body.Message = &opts.Message
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	ciphertext, err := nip04.Encrypt(sender, targetPub, []byte(paymentRequestPrefix+string(raw)))
	if err != nil {
		return nil, err
	}

	targetHex := hex.EncodeToString(targetPub[:])
	tags := event.Tags{
		{"p", targetHex},
		{"type", typePaymentRequest},
		{"amount", amount},
		{"recipient", recipientNametag},
	}

	return event.Sign(event.Payload{
		Kind:    event.KindPaymentRequest,
		Tags:    tags,
		Content: ciphertext,
	}, sender, nowMS/1000)
}

// ParsePaymentRequest decrypts and validates a payment-request event.
func ParsePaymentRequest(holder *keys.Holder, ev *event.Event) (*PaymentRequest, error) {
	if ev.Kind() != event.KindPaymentRequest {
		return nil, ErrNotThisEnvelope
	}
	if t, _ := ev.TagValue("type"); t != typePaymentRequest {
		return nil, ErrNotThisEnvelope
	}
	plaintext, err := decryptCounterparty(holder, ev)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(plaintext, paymentRequestPrefix) {
		return nil, ErrNotThisEnvelope
	}

	var body paymentRequestBody
	if err := json.Unmarshal([]byte(strings.TrimPrefix(plaintext, paymentRequestPrefix)), &body); err != nil {
		return nil, event.ErrMalformedEvent
	}

	target, _ := ev.TagValue("p")
	message := ""
	if body.Message != nil {
		message = *body.Message
	}

	return &PaymentRequest{
		Target:           target,
		Amount:           body.Amount,
		CoinID:           body.CoinID,
		Message:          message,
		RecipientNametag: body.RecipientNametag,
		RequestID:        body.RequestID,
		Deadline:         body.Deadline,
	}, nil
}

// IsExpired reports whether a deadline is set and has passed nowMS.
func (p *PaymentRequest) IsExpired(nowMS int64) bool {
	return p.Deadline != nil && nowMS > *p.Deadline
}

// paymentRequestResponseBody is the JSON payload encrypted inside a
// payment-request response's envelope.
type paymentRequestResponseBody struct {
	RequestID       string  `json:"requestId"`
	OriginalEventID string  `json:"originalEventId"`
	Status          string  `json:"status"`
	Reason          *string `json:"reason,omitempty"`
}

// PaymentRequestResponseStatus is one of the two statuses a response may
// carry.
type PaymentRequestResponseStatus string

const (
	StatusDeclined PaymentRequestResponseStatus = "DECLINED"
	StatusExpired  PaymentRequestResponseStatus = "EXPIRED"
)

// PaymentRequestResponse is the decoded form of a payment-request-response
// envelope.
type PaymentRequestResponse struct {
	Requester       string
	RequestID       string
	OriginalEventID string
	Status          PaymentRequestResponseStatus
	Reason          string
}

// BuildPaymentRequestResponse constructs and signs a payment-request
// response event.
func BuildPaymentRequestResponse(sender *keys.Holder, requesterPub [32]byte, requestID, originalEventID string, status PaymentRequestResponseStatus, reason string, now int64) (*event.Event, error) {
	body := paymentRequestResponseBody{
		RequestID:       requestID,
		OriginalEventID: originalEventID,
		Status:          string(status),
	}
	if reason != "" {
		body.Reason = &reason
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	ciphertext, err := nip04.Encrypt(sender, requesterPub, []byte(paymentRequestResponsePref+string(raw)))
	if err != nil {
		return nil, err
	}

	requesterHex := hex.EncodeToString(requesterPub[:])
	tags := event.Tags{
		{"p", requesterHex},
		{"type", typePaymentRequestResp},
		{"status", string(status)},
		{"e", originalEventID, "", "reply"},
	}

	return event.Sign(event.Payload{
		Kind:    event.KindPaymentRequestResponse,
		Tags:    tags,
		Content: ciphertext,
	}, sender, now)
}

// ParsePaymentRequestResponse decrypts and validates a payment-request
// response event.
func ParsePaymentRequestResponse(holder *keys.Holder, ev *event.Event) (*PaymentRequestResponse, error) {
	if ev.Kind() != event.KindPaymentRequestResponse {
		return nil, ErrNotThisEnvelope
	}
	if t, _ := ev.TagValue("type"); t != typePaymentRequestResp {
		return nil, ErrNotThisEnvelope
	}
	plaintext, err := decryptCounterparty(holder, ev)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(plaintext, paymentRequestResponsePref) {
		return nil, ErrNotThisEnvelope
	}

	var body paymentRequestResponseBody
	if err := json.Unmarshal([]byte(strings.TrimPrefix(plaintext, paymentRequestResponsePref)), &body); err != nil {
		return nil, event.ErrMalformedEvent
	}

	requester, _ := ev.TagValue("p")
	reason := ""
	if body.Reason != nil {
		reason = *body.Reason
	}

	return &PaymentRequestResponse{
		Requester:       requester,
		RequestID:       body.RequestID,
		OriginalEventID: body.OriginalEventID,
		Status:          PaymentRequestResponseStatus(body.Status),
		Reason:          reason,
	}, nil
}

// NametagBinding is the decoded content of a nametag-binding event.
type NametagBinding struct {
	NametagHash string
	Address     string
	Verified    bool
}

type nametagBindingContent struct {
	NametagHash string `json:"nametag_hash"`
	Address     string `json:"address"`
	Verified    bool   `json:"verified"`
}

// NormalizeNametag trims, lowercases, and strips a trailing "@unicity"
// suffix. Phone-number-shaped inputs are out of scope (delegated to an
// external E.164 normalizer the caller must apply first).
func NormalizeNametag(nametag string) string {
	n := strings.ToLower(strings.TrimSpace(nametag))
	return strings.TrimSuffix(n, "@unicity")
}

// NametagHash computes h = SHA-256(normalized(nametag)) as lowercase hex.
func NametagHash(nametag string) string {
	sum := sha256.Sum256([]byte(NormalizeNametag(nametag)))
	return hex.EncodeToString(sum[:])
}

// BuildNametagBinding constructs and signs a nametag-binding event (kind
// 30078, addressable-replaceable via its "d" tag).
func BuildNametagBinding(holder *keys.Holder, nametag, address string, verified bool, now int64) (*event.Event, error) {
	h := NametagHash(nametag)
	content, err := json.Marshal(nametagBindingContent{
		NametagHash: h,
		Address:     address,
		Verified:    verified,
	})
	if err != nil {
		return nil, err
	}

	tags := event.Tags{
		{"d", h},
		{"nametag", h},
		{"t", h},
		{"address", address},
	}

	return event.Sign(event.Payload{
		Kind:    event.KindNametagBinding,
		Tags:    tags,
		Content: string(content),
	}, holder, now)
}

// ParseNametagBinding decodes a nametag-binding event's content.
func ParseNametagBinding(ev *event.Event) (*NametagBinding, error) {
	if ev.Kind() != event.KindNametagBinding {
		return nil, ErrNotThisEnvelope
	}
	var content nametagBindingContent
	if err := json.Unmarshal([]byte(ev.Content()), &content); err != nil {
		return nil, event.ErrMalformedEvent
	}
	return &NametagBinding{
		NametagHash: content.NametagHash,
		Address:     content.Address,
		Verified:    content.Verified,
	}, nil
}

// NametagToPubkeyFilter returns the filter that resolves a nametag to its
// bound pubkey: kinds=[30078], #t=[h].
func NametagToPubkeyFilter(nametag string) *filter.Filter {
	return filter.New().KindsOf(event.KindNametagBinding).Tag("t", NametagHash(nametag))
}

// PubkeyToNametagFilter returns the filter that looks up the nametag
// bindings authored by pubkeyHex: kinds=[30078], authors=[pk], limit=10.
func PubkeyToNametagFilter(pubkeyHex string) *filter.Filter {
	return filter.New().KindsOf(event.KindNametagBinding).AuthorsOf(pubkeyHex).LimitTo(10)
}
