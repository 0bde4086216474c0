package transport

import (
	"context"
	"fmt"
	"sync"

	"nhooyr.io/websocket"

	"hivecore/crypto"
)

// MinRelays is the minimum replica count spec.md §4.9 requires for the
// default pub-sub transport ("replicates to ≥3 relays").
const MinRelays = 3

// KeyResolver maps a recipient identifier to its X25519 direct-message
// public key, resolved out of band (spec.md treats identity resolution as
// an external collaborator; this package only consumes the result).
type KeyResolver interface {
	BoxPublicKey(ctx context.Context, id string) ([32]byte, error)
}

type relayConn struct {
	url  string
	conn *websocket.Conn
}

// WSTransport is the default Transport: it dials every configured relay
// and replicates every Publish to all of them, subscribing to inbound
// frames from whichever relay delivers first and deduping via seenCache.
type WSTransport struct {
	keys KeyResolver
	self *crypto.BoxKeyPair

	mu     sync.Mutex
	relays []*relayConn
	subs   []subscription
	seen   *seenCache
	closed bool
}

type subscription struct {
	filter  Filter
	handler Handler
}

// ErrTooFewRelays is returned by Dial when fewer than MinRelays URLs are
// configured.
var ErrTooFewRelays = fmt.Errorf("transport: at least %d relays required", MinRelays)

// Dial connects to every url in relayURLs and returns a ready WSTransport.
// self is this node's direct-message keypair; keys resolves recipients'
// public keys for DirectMessage.
func Dial(ctx context.Context, relayURLs []string, self *crypto.BoxKeyPair, keys KeyResolver) (*WSTransport, error) {
	if len(relayURLs) < MinRelays {
		return nil, ErrTooFewRelays
	}
	t := &WSTransport{keys: keys, self: self, seen: newSeenCache(4096)}
	for _, url := range relayURLs {
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("transport: dial relay %q: %w", url, err)
		}
		t.relays = append(t.relays, &relayConn{url: url, conn: conn})
	}
	for _, r := range t.relays {
		go t.readLoop(r)
	}
	return t, nil
}

// Publish replicates ev to every connected relay, per spec.md §4.9. A
// failed write does not stop the writes to the remaining relays; only the
// first failure is returned, and later failures are dropped.
func (t *WSTransport) Publish(ctx context.Context, ev Event) error {
	t.mu.Lock()
	relays := append([]*relayConn(nil), t.relays...)
	t.mu.Unlock()

	var firstErr error
	for _, r := range relays {
		if err := r.conn.Write(ctx, websocket.MessageBinary, ev.Body); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: publish to %q: %w", r.url, err)
		}
	}
	return firstErr
}

// Subscribe registers handler for events matching filter. Delivery happens
// from the background readLoop goroutines of every relay connection.
func (t *WSTransport) Subscribe(ctx context.Context, filter Filter, handler Handler) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := len(t.subs)
	t.subs = append(t.subs, subscription{filter: filter, handler: handler})
	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if idx < len(t.subs) {
			t.subs[idx].handler = nil
		}
	}
	return unsubscribe, nil
}

// DirectMessage seals plaintext to to's resolved box public key and writes
// it to the first available relay (direct messages are point-to-point, not
// replicated like public events).
func (t *WSTransport) DirectMessage(ctx context.Context, to string, plaintext []byte) error {
	pub, err := t.keys.BoxPublicKey(ctx, to)
	if err != nil {
		return fmt.Errorf("transport: resolve direct-message key for %q: %w", to, err)
	}
	sealed, err := t.self.Seal(pub, plaintext)
	if err != nil {
		return fmt.Errorf("transport: seal direct message: %w", err)
	}
	t.mu.Lock()
	relays := t.relays
	t.mu.Unlock()
	if len(relays) == 0 {
		return fmt.Errorf("transport: no relay connections available")
	}
	return relays[0].conn.Write(ctx, websocket.MessageBinary, sealed)
}

// Close tears down every relay connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	var firstErr error
	for _, r := range t.relays {
		if err := r.conn.Close(websocket.StatusNormalClosure, "closing"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *WSTransport) readLoop(r *relayConn) {
	ctx := context.Background()
	for {
		_, data, err := r.conn.Read(ctx)
		if err != nil {
			return
		}
		t.dispatch(data)
	}
}

func (t *WSTransport) dispatch(data []byte) {
	ev := Event{Body: data, ID: fmt.Sprintf("%x", crypto.Keccak256(data))}
	if t.seen.SeenBefore(ev.ID) {
		return
	}
	t.mu.Lock()
	subs := append([]subscription(nil), t.subs...)
	t.mu.Unlock()
	for _, s := range subs {
		if s.handler == nil {
			continue
		}
		if s.filter.Matches(ev.Kind, ev.Issuer) {
			s.handler(ev)
		}
	}
}
