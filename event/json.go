package event

import (
	"encoding/hex"
	"encoding/json"
)

// wireEvent mirrors the NIP-01 event JSON object. encoding/json is fine
// here: this is ordinary (de)serialization of an already-signed event,
// not the canonical byte-exact encoding I1 requires for hashing.
type wireEvent struct {
	ID        string   `json:"id"`
	PubKey    string   `json:"pubkey"`
	CreatedAt int64    `json:"created_at"`
	Kind      int      `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string   `json:"content"`
	Sig       string   `json:"sig"`
}

// ToJSON renders the event as its NIP-01 wire JSON object.
func (e *Event) ToJSON() ([]byte, error) {
	tags := make([][]string, len(e.tags))
	for i, t := range e.tags {
		tags[i] = append([]string{}, t...)
	}
	return json.Marshal(wireEvent{
		ID:        e.id,
		PubKey:    e.pubkey,
		CreatedAt: e.createdAt,
		Kind:      e.kind,
		Tags:      tags,
		Content:   e.content,
		Sig:       e.sig,
	})
}

// Parse decodes a NIP-01 event JSON object without re-signing or
// re-verifying it. Callers that need I1/I2 guarantees should call Verify
// afterward.
func Parse(data []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, ErrMalformedEvent
	}
	return fromWire(w)
}

func fromWire(w wireEvent) (*Event, error) {
	if w.ID == "" || w.PubKey == "" || w.Sig == "" {
		return nil, ErrMalformedEvent
	}
	if _, err := hex.DecodeString(w.ID); err != nil || len(w.ID) != 64 {
		return nil, ErrMalformedEvent
	}
	if _, err := hex.DecodeString(w.PubKey); err != nil || len(w.PubKey) != 64 {
		return nil, ErrMalformedEvent
	}
	if _, err := hex.DecodeString(w.Sig); err != nil || len(w.Sig) != 128 {
		return nil, ErrMalformedEvent
	}
	if w.CreatedAt < 0 {
		return nil, ErrMalformedEvent
	}

	tags := make(Tags, len(w.Tags))
	for i, t := range w.Tags {
		if len(t) < 1 {
			return nil, ErrMalformedEvent
		}
		tags[i] = append(Tag{}, t...)
	}

	return &Event{
		id:        w.ID,
		pubkey:    w.PubKey,
		createdAt: w.CreatedAt,
		kind:      w.Kind,
		tags:      tags,
		content:   w.Content,
		sig:       w.Sig,
	}, nil
}
