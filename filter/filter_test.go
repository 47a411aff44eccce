package filter

import (
	"encoding/json"
	"testing"

	"github.com/unicitynetwork/nostr-go-sdk/cryptoprovider"
	"github.com/unicitynetwork/nostr-go-sdk/event"
	"github.com/unicitynetwork/nostr-go-sdk/keys"
)

func signTestEvent(t *testing.T, kind int, tags event.Tags, createdAt int64) *event.Event {
	t.Helper()
	provider := cryptoprovider.NewDefault()
	holder, err := keys.Generate(provider)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ev, err := event.Sign(event.Payload{Kind: kind, Tags: tags, Content: "x", CreatedAt: &createdAt}, holder, 0)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return ev
}

func TestMatchKindsAndAuthors(t *testing.T) {
	ev := signTestEvent(t, 1, nil, 100)

	f := New().KindsOf(1, 2)
	if !f.Match(ev) {
		t.Fatal("expected match on kind 1")
	}

	f2 := New().KindsOf(9)
	if f2.Match(ev) {
		t.Fatal("expected no match on kind 9")
	}

	f3 := New().AuthorsOf(ev.PubKey())
	if !f3.Match(ev) {
		t.Fatal("expected match on author")
	}

	f4 := New().AuthorsOf("0000000000000000000000000000000000000000000000000000000000000000")
	if f4.Match(ev) {
		t.Fatal("expected no match on unrelated author")
	}
}

func TestMatchSinceUntil(t *testing.T) {
	ev := signTestEvent(t, 1, nil, 100)

	if !New().SinceTime(50).UntilTime(150).Match(ev) {
		t.Fatal("expected match within since/until window")
	}
	if New().SinceTime(101).Match(ev) {
		t.Fatal("expected no match: since after created_at")
	}
	if New().UntilTime(99).Match(ev) {
		t.Fatal("expected no match: until before created_at")
	}
}

func TestMatchTags(t *testing.T) {
	ev := signTestEvent(t, 1, event.Tags{{"e", "abc"}, {"p", "pub1"}}, 1)

	if !New().Tag("e", "abc", "other").Match(ev) {
		t.Fatal("expected match: union within tag values")
	}
	if New().Tag("e", "nomatch").Match(ev) {
		t.Fatal("expected no match: no tag value intersects")
	}
	if !New().Tag("e", "abc").Tag("p", "pub1").Match(ev) {
		t.Fatal("expected match: intersection across tag names")
	}
	if New().Tag("e", "abc").Tag("p", "nomatch").Match(ev) {
		t.Fatal("expected no match: one tag criterion fails")
	}
}

func TestToJSONOmitsEmpty(t *testing.T) {
	f := New().KindsOf(1)
	raw, err := f.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := m["authors"]; ok {
		t.Fatal("expected authors to be omitted")
	}
	if _, ok := m["kinds"]; !ok {
		t.Fatal("expected kinds to be present")
	}
}

func TestToJSONFoldsTags(t *testing.T) {
	f := New().Tag("e", "abc")
	raw, err := f.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := m["#e"]; !ok {
		t.Fatalf("expected #e key, got %v", m)
	}
}

func TestFromJSONRoundTrip(t *testing.T) {
	since := int64(10)
	original := New().KindsOf(1, 2).AuthorsOf("abc").Tag("e", "x", "y").LimitTo(5)
	original.Since = &since

	raw, err := original.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	parsed, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if len(parsed.Kinds) != 2 || parsed.Kinds[0] != 1 {
		t.Fatalf("Kinds = %v", parsed.Kinds)
	}
	if len(parsed.Authors) != 1 || parsed.Authors[0] != "abc" {
		t.Fatalf("Authors = %v", parsed.Authors)
	}
	if len(parsed.Tags["e"]) != 2 {
		t.Fatalf("Tags[e] = %v", parsed.Tags["e"])
	}
	if parsed.Limit != 5 {
		t.Fatalf("Limit = %d", parsed.Limit)
	}
	if parsed.Since == nil || *parsed.Since != 10 {
		t.Fatalf("Since = %v", parsed.Since)
	}
}

func TestFromJSONUnknownTagKey(t *testing.T) {
	parsed, err := FromJSON([]byte(`{"#custom":["v1","v2"]}`))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if len(parsed.Tags["custom"]) != 2 {
		t.Fatalf("Tags[custom] = %v", parsed.Tags["custom"])
	}
}
