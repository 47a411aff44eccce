// Package filter implements the Nostr subscription filter: a builder, its
// JSON wire form, and the match predicate a relay (or a local test double)
// applies against an Event (spec §4.3).
package filter

import (
	"encoding/json"

	"github.com/unicitynetwork/nostr-go-sdk/event"
)

// Filter selects events by intersecting every populated criterion; within
// a single criterion, any listed value is a match (union). An empty/absent
// criterion places no constraint.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string // keyed by single-letter tag name, e.g. "e", "p"
	Since   *int64
	Until   *int64
	Limit   int
}

// New returns an empty Filter ready for the builder methods below.
func New() *Filter {
	return &Filter{Tags: map[string][]string{}}
}

func (f *Filter) IDsOf(ids ...string) *Filter {
	f.IDs = append(f.IDs, ids...)
	return f
}

func (f *Filter) AuthorsOf(authors ...string) *Filter {
	f.Authors = append(f.Authors, authors...)
	return f
}

func (f *Filter) KindsOf(kinds ...int) *Filter {
	f.Kinds = append(f.Kinds, kinds...)
	return f
}

// Tag adds values for a single-letter tag filter, e.g. Tag("e", id1, id2).
func (f *Filter) Tag(name string, values ...string) *Filter {
	if f.Tags == nil {
		f.Tags = map[string][]string{}
	}
	f.Tags[name] = append(f.Tags[name], values...)
	return f
}

func (f *Filter) SinceTime(ts int64) *Filter {
	f.Since = &ts
	return f
}

func (f *Filter) UntilTime(ts int64) *Filter {
	f.Until = &ts
	return f
}

func (f *Filter) LimitTo(n int) *Filter {
	f.Limit = n
	return f
}

// Match reports whether ev satisfies every populated criterion.
func (f *Filter) Match(ev *event.Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, ev.ID()) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, ev.PubKey()) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind()) {
		return false
	}
	if f.Since != nil && ev.CreatedAt() < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt() > *f.Until {
		return false
	}
	for name, wanted := range f.Tags {
		if len(wanted) == 0 {
			continue
		}
		have := ev.TagValues(name)
		if !anyIntersect(wanted, have) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func anyIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// ToJSON renders the filter as its NIP-01 wire JSON object, folding
// f.Tags["e"] into the "#e" key expected on the wire.
func (f *Filter) ToJSON() ([]byte, error) {
	m := map[string]interface{}{}
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	for name, values := range f.Tags {
		if len(values) > 0 {
			m["#"+name] = values
		}
	}
	return json.Marshal(m)
}

// FromJSON parses a NIP-01 wire filter object, folding any "#X" key into
// Tags["X"].
func FromJSON(data []byte) (*Filter, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	f := New()
	for key, value := range raw {
		switch key {
		case "ids":
			if err := json.Unmarshal(value, &f.IDs); err != nil {
				return nil, err
			}
		case "authors":
			if err := json.Unmarshal(value, &f.Authors); err != nil {
				return nil, err
			}
		case "kinds":
			if err := json.Unmarshal(value, &f.Kinds); err != nil {
				return nil, err
			}
		case "since":
			var ts int64
			if err := json.Unmarshal(value, &ts); err != nil {
				return nil, err
			}
			f.Since = &ts
		case "until":
			var ts int64
			if err := json.Unmarshal(value, &ts); err != nil {
				return nil, err
			}
			f.Until = &ts
		case "limit":
			if err := json.Unmarshal(value, &f.Limit); err != nil {
				return nil, err
			}
		default:
			if len(key) >= 2 && key[0] == '#' {
				var values []string
				if err := json.Unmarshal(value, &values); err != nil {
					return nil, err
				}
				f.Tags[key[1:]] = values
			}
		}
	}
	return f, nil
}
