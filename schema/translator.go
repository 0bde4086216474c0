// Package schema implements C5: mapping declarative operation schemas to an
// ordered sequence of node-RPC primitives, and advertising the capability
// set, which is the set of pairs in its mapping table (spec.md §4.3).
package schema

import (
	"context"
	"fmt"
)

// SchemaAction identifies one (schema, action) pair, e.g.
// {"fee-policy/v1", "set_anchor"}.
type SchemaAction struct {
	Schema string
	Action string
}

func (sa SchemaAction) String() string {
	return sa.Schema + "#" + sa.Action
}

// RPCStep is one primitive call in the ordered sequence a schema translates
// to. Params carries the step's input, derived from the operation's
// parameters by the Mapping's Build function.
type RPCStep struct {
	Method string
	Params map[string]interface{}
}

// NodeRPC is the narrow external-collaborator interface onto the attached
// Lightning node (spec.md §1): the core never re-implements channel
// construction, HTLC forwarding, route-finding or on-chain broadcast, it
// only invokes these primitives.
type NodeRPC interface {
	Call(ctx context.Context, step RPCStep) (result map[string]interface{}, err error)
	StateHash(ctx context.Context, touches []string) ([32]byte, error)
}

// Mapping is one entry in the fixed, per-spec translation table (spec.md
// §4.3: "identical across node implementations so that credentials remain
// portable").
type Mapping struct {
	SchemaAction SchemaAction
	Danger       int
	Build        func(params map[string]interface{}) ([]RPCStep, error)
	Touches      func(params map[string]interface{}) []string
}

// Translator holds the fixed schema→RPC mapping table; its keys are the
// capability set that Capabilities reports.
type Translator struct {
	mappings map[SchemaAction]Mapping
}

// NewTranslator builds a Translator from the given mapping table. The table
// is meant to be constructed once at startup (DefaultMappings or a test
// fixture) and is immutable thereafter — "the mapping is fixed per spec."
func NewTranslator(mappings []Mapping) *Translator {
	t := &Translator{mappings: make(map[SchemaAction]Mapping, len(mappings))}
	for _, m := range mappings {
		t.mappings[m.SchemaAction] = m
	}
	return t
}

// Capabilities returns every (schema, action) pair in the mapping table, for
// upstream callers to query before submitting. The attached node is not
// queried, so the list does not depend on the node's version.
func (t *Translator) Capabilities() []SchemaAction {
	out := make([]SchemaAction, 0, len(t.mappings))
	for sa := range t.mappings {
		out = append(out, sa)
	}
	return out
}

// ErrUnsupportedSchema is returned for an unknown (schema, action) pair.
// Callers must not advance replay state on this error (spec.md §4.3).
var ErrUnsupportedSchema = fmt.Errorf("schema: unsupported (schema, action)")

// Danger returns the danger score for a supported (schema, action) pair.
func (t *Translator) Danger(sa SchemaAction) (int, error) {
	m, ok := t.mappings[sa]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSchema, sa)
	}
	return m.Danger, nil
}

// Translate builds the ordered RPC step sequence and the set of state paths
// touched (for before/after state hashing) for the given (schema, action)
// and parameters.
func (t *Translator) Translate(sa SchemaAction, params map[string]interface{}) ([]RPCStep, []string, error) {
	m, ok := t.mappings[sa]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedSchema, sa)
	}
	steps, err := m.Build(params)
	if err != nil {
		return nil, nil, fmt.Errorf("schema: build steps for %s: %w", sa, err)
	}
	var touches []string
	if m.Touches != nil {
		touches = m.Touches(params)
	}
	return steps, touches, nil
}
