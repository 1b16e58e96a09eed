package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Properties is the dynamic property bag carried by every node, persisted as
// a JSON object. Values are arbitrary JSON; a nil value in a merge deletes
// the key.
type Properties map[string]any

// Merge applies patch on top of p and returns the result. A nil (JSON null)
// value deletes the key. Neither receiver nor patch is mutated.
func (p Properties) Merge(patch Properties) Properties {
	out := make(Properties, len(p)+len(patch))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Priority returns the numeric priority, or nil when unset or non-numeric.
// JSON numbers decode as float64; integers stored directly are accepted too.
func (p Properties) Priority() *float64 {
	v, ok := p[PropPriority]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

// Strict reports whether strict mode is enabled (truthy strict property).
func (p Properties) Strict() bool {
	v, ok := p[PropStrict]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// ClaimedBy returns the claiming agent, or "" when unclaimed.
func (p Properties) ClaimedBy() string {
	s, _ := p[PropClaimedBy].(string)
	return s
}

// ClaimedAt returns the claim timestamp, or zero when unclaimed or
// unparseable.
func (p Properties) ClaimedAt() time.Time {
	s, _ := p[PropClaimedAt].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ClaimActive reports whether the node carries a claim younger than ttl.
func (p Properties) ClaimActive(now time.Time, ttl time.Duration) bool {
	if p.ClaimedBy() == "" {
		return false
	}
	at := p.ClaimedAt()
	if at.IsZero() {
		return false
	}
	return now.Sub(at) < ttl
}

// SetClaim stamps the claim properties for agent at the given time.
func (p Properties) SetClaim(agent string, at time.Time) {
	p[PropClaimedBy] = agent
	p[PropClaimedAt] = at.UTC().Format(time.RFC3339)
}

// ClearClaim removes any claim markers.
func (p Properties) ClearClaim() {
	delete(p, PropClaimedBy)
	delete(p, PropClaimedAt)
}

// Matches reports whether every key/value pair of filter is present in p.
// Values compare by JSON equality.
func (p Properties) Matches(filter Properties) bool {
	for k, want := range filter {
		got, ok := p[k]
		if !ok {
			return false
		}
		if !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}

// EncodeProperties serialises the bag for storage. An empty bag encodes as {}.
func EncodeProperties(p Properties) (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode properties: %w", err)
	}
	return string(data), nil
}

// DecodeProperties parses the stored JSON object. Empty or "{}" yields an
// empty, non-nil bag so callers can mutate it.
func DecodeProperties(s string) (Properties, error) {
	if s == "" || s == "{}" {
		return Properties{}, nil
	}
	var p Properties
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	if p == nil {
		p = Properties{}
	}
	return p, nil
}
