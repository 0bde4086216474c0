// Package transport implements C13: the pluggable pub-sub/direct-message
// abstraction spec.md §4.9 requires at the core's boundary — the gossip
// relay backbone itself is an external collaborator, reached only through
// this narrow interface.
package transport

import "context"

// Filter selects which published events a Subscribe handler receives. The
// zero value matches everything.
type Filter struct {
	Kinds   []int
	Issuers []string
}

// Matches reports whether ev's kind/issuer pass f.
func (f Filter) Matches(kind int, issuer string) bool {
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, kind) {
		return false
	}
	if len(f.Issuers) > 0 && !containsString(f.Issuers, issuer) {
		return false
	}
	return true
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Event is the wire envelope this package moves; market.Event (and any
// future signed payload) is carried opaquely in Body.
type Event struct {
	Kind      int
	Issuer    string
	ID        string // content-hash id, used for replay-cache dedup
	Body      []byte
}

// Handler processes one delivered Event.
type Handler func(Event)

// Transport is spec.md §4.9's minimal surface: publish(event),
// subscribe(filter, handler), and an encrypted direct_message(to, bytes)
// primitive.
type Transport interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, filter Filter, handler Handler) (unsubscribe func(), err error)
	DirectMessage(ctx context.Context, to string, plaintext []byte) error
	Close() error
}
