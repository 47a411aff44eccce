// Package wire implements the NIP-01 text-frame protocol: classifying
// inbound relay messages by their leading array element and building the
// client→relay frames (spec §6, §4.9 dispatcher table).
package wire

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/unicitynetwork/nostr-go-sdk/event"
	"github.com/unicitynetwork/nostr-go-sdk/filter"
)

// Leader identifies the kind of an inbound relay frame.
type Leader string

const (
	LeaderEvent   Leader = "EVENT"
	LeaderOK      Leader = "OK"
	LeaderEOSE    Leader = "EOSE"
	LeaderNotice  Leader = "NOTICE"
	LeaderClosed  Leader = "CLOSED"
	LeaderAuth    Leader = "AUTH"
	LeaderUnknown Leader = ""
)

var minArity = map[Leader]int{
	LeaderEvent:  3,
	LeaderOK:     4,
	LeaderEOSE:   2,
	LeaderNotice: 2,
	LeaderClosed: 3,
	LeaderAuth:   2,
}

// Message is a classified inbound frame; only the fields relevant to its
// Leader are populated.
type Message struct {
	Leader Leader

	SubID   string // EVENT, EOSE, CLOSED
	Event   *event.Event
	OKID    string // OK
	OKOk    bool
	OKMsg   string
	Notice  string
	Reason  string // CLOSED
	Challenge string // AUTH
}

// Classify parses a raw inbound text frame into a Message. Any parse
// failure, arity below the frame's minimum, or unrecognized leader
// produces a Message with LeaderUnknown — callers drop these silently.
func Classify(raw []byte) Message {
	if !gjson.ValidBytes(raw) {
		return Message{Leader: LeaderUnknown}
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return Message{Leader: LeaderUnknown}
	}
	arr := parsed.Array()
	if len(arr) == 0 || arr[0].Type != gjson.String {
		return Message{Leader: LeaderUnknown}
	}

	leader := Leader(arr[0].String())
	want, known := minArity[leader]
	if !known || len(arr) < want {
		return Message{Leader: LeaderUnknown}
	}

	switch leader {
	case LeaderEvent:
		ev, err := event.Parse([]byte(arr[2].Raw))
		if err != nil {
			return Message{Leader: LeaderUnknown}
		}
		return Message{Leader: leader, SubID: arr[1].String(), Event: ev}
	case LeaderOK:
		return Message{Leader: leader, OKID: arr[1].String(), OKOk: arr[2].Bool(), OKMsg: arr[3].String()}
	case LeaderEOSE:
		return Message{Leader: leader, SubID: arr[1].String()}
	case LeaderNotice:
		return Message{Leader: leader, Notice: arr[1].String()}
	case LeaderClosed:
		return Message{Leader: leader, SubID: arr[1].String(), Reason: arr[2].String()}
	case LeaderAuth:
		return Message{Leader: leader, Challenge: arr[1].String()}
	default:
		return Message{Leader: LeaderUnknown}
	}
}

// EventFrame builds a client→relay ["EVENT", <event>] frame.
func EventFrame(ev *event.Event) ([]byte, error) {
	raw, err := ev.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal([]json.RawMessage{
		mustRaw("EVENT"),
		raw,
	})
}

// ReqFrame builds a client→relay ["REQ", <sub_id>, <filter>] frame. This
// SDK always emits exactly one filter per subscription.
func ReqFrame(subID string, f *filter.Filter) ([]byte, error) {
	filterRaw, err := f.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal([]json.RawMessage{
		mustRaw("REQ"),
		mustRaw(subID),
		filterRaw,
	})
}

// CloseFrame builds a client→relay ["CLOSE", <sub_id>] frame.
func CloseFrame(subID string) ([]byte, error) {
	return json.Marshal([]string{"CLOSE", subID})
}

// AuthFrame builds a client→relay ["AUTH", <event>] frame.
func AuthFrame(ev *event.Event) ([]byte, error) {
	raw, err := ev.ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal([]json.RawMessage{
		mustRaw("AUTH"),
		raw,
	})
}

func mustRaw(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return json.RawMessage(b)
}
