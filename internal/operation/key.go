package operation

import (
	"fmt"
	"strings"
)

// Key identifies a logical asynchronous unit of work.
type Key struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// NewKey builds a Key.
func NewKey(kind, target string) Key {
	return Key{Kind: kind, Target: target}
}

// String renders the key as "kind:target".
func (k Key) String() string {
	return k.Kind + ":" + k.Target
}

// ParseKey parses "kind:target". The target may itself contain colons.
func ParseKey(s string) (Key, error) {
	kind, target, ok := strings.Cut(s, ":")
	if !ok || kind == "" {
		return Key{}, fmt.Errorf("invalid operation key %q: want kind:target", s)
	}
	return Key{Kind: kind, Target: target}, nil
}
