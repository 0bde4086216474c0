package policy

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ConfirmationTimeout returns the auto-reject deadline for a given danger
// score (spec.md §4.2: 4h for danger 7+, 24h for 5-6). Danger 0-4 never
// reaches the queue (callers only enqueue when NeedsConfirmation is true).
func ConfirmationTimeout(danger int) time.Duration {
	switch {
	case danger >= 7:
		return 4 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// PendingOperation is a queued operation awaiting out-of-band operator
// confirmation.
type PendingOperation struct {
	Handle    string
	Issuer    string
	Schema    string
	Danger    int
	EnqueuedAt time.Time
	Deadline  time.Time
	index     int // heap index, managed by container/heap
}

type pendingHeap []*PendingOperation

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *pendingHeap) Push(x interface{}) {
	item := x.(*PendingOperation)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// ConfirmationQueue holds operations pending operator confirmation, ordered
// by deadline so SweepExpired can cheaply find expired entries. No scheduler
// task calls SweepExpired; an entry past its deadline stays queued until it
// is swept, but its token no longer verifies in Resolve.
type ConfirmationQueue struct {
	mu      sync.Mutex
	byHandle map[string]*PendingOperation
	order   pendingHeap
	jwtKey  []byte
	nowFn   func() time.Time
}

// NewConfirmationQueue builds a queue. jwtKey signs the confirmation tokens
// delivered over the operator alert channel.
func NewConfirmationQueue(jwtKey []byte, nowFn func() time.Time) *ConfirmationQueue {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &ConfirmationQueue{
		byHandle: make(map[string]*PendingOperation),
		jwtKey:   jwtKey,
		nowFn:    nowFn,
	}
}

// confirmationClaims is the JWT payload delivered to the operator alert
// channel; presenting a valid, unexpired token authorises Resolve.
type confirmationClaims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// Enqueue admits a new pending operation, returning its handle and a signed
// confirmation token.
func (q *ConfirmationQueue) Enqueue(issuer, schema string, danger int) (handle string, token string, err error) {
	now := q.nowFn().UTC()
	deadline := now.Add(ConfirmationTimeout(danger))
	op := &PendingOperation{
		Handle:     uuid.NewString(),
		Issuer:     issuer,
		Schema:     schema,
		Danger:     danger,
		EnqueuedAt: now,
		Deadline:   deadline,
	}
	claims := confirmationClaims{
		Handle: op.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(deadline),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(q.jwtKey)
	if err != nil {
		return "", "", fmt.Errorf("policy: sign confirmation token: %w", err)
	}

	q.mu.Lock()
	q.byHandle[op.Handle] = op
	heap.Push(&q.order, op)
	q.mu.Unlock()
	return op.Handle, signed, nil
}

// Resolve validates a confirmation token and removes the corresponding
// pending operation, returning whether it was approved. approve is supplied
// by the operator UI/out-of-band channel; the token only authenticates that
// the handle is legitimate and unexpired.
func (q *ConfirmationQueue) Resolve(token string, approve bool) (*PendingOperation, error) {
	claims := &confirmationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return q.jwtKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("policy: invalid confirmation token: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.byHandle[claims.Handle]
	if !ok {
		return nil, fmt.Errorf("policy: unknown or already-resolved handle %q", claims.Handle)
	}
	q.removeLocked(op)
	if !approve {
		return op, fmt.Errorf("policy: operation rejected by operator")
	}
	return op, nil
}

// SweepExpired removes and returns every pending operation whose deadline
// has passed as of now, for auto-rejection (spec.md §4.2 "auto-rejects").
func (q *ConfirmationQueue) SweepExpired(now time.Time) []*PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []*PendingOperation
	for q.order.Len() > 0 {
		head := q.order[0]
		if head.Deadline.After(now) {
			break
		}
		heap.Pop(&q.order)
		delete(q.byHandle, head.Handle)
		expired = append(expired, head)
	}
	return expired
}

func (q *ConfirmationQueue) removeLocked(op *PendingOperation) {
	if op.index >= 0 && op.index < q.order.Len() && q.order[op.index] == op {
		heap.Remove(&q.order, op.index)
	}
	delete(q.byHandle, op.Handle)
}

// Len reports the number of pending operations.
func (q *ConfirmationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byHandle)
}
