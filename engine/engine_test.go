package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hivecore/credential"
	"hivecore/crypto"
	"hivecore/identity"
	"hivecore/ledger"
	"hivecore/obligation"
	"hivecore/policy"
	"hivecore/replay"
	"hivecore/schema"
)

var errTransient = errors.New("engine: simulated transient node failure")

// fakeNode is a minimal schema.NodeRPC stub for the pipeline tests: every
// call succeeds unless callErr is set, and the state hash depends only on
// the number of touched keys, so before/after only differ when a test
// wants them to.
type fakeNode struct {
	callErr error
	calls   int
}

func (f *fakeNode) Call(_ context.Context, step schema.RPCStep) (map[string]interface{}, error) {
	f.calls++
	if f.callErr != nil {
		return nil, f.callErr
	}
	return map[string]interface{}{"method": step.Method, "accepted": true}, nil
}

func (f *fakeNode) StateHash(_ context.Context, touches []string) ([32]byte, error) {
	var h [32]byte
	h[0] = byte(len(touches) + 1)
	return h, nil
}

type harness struct {
	engine      *Engine
	node        *fakeNode
	credStore   *credential.Store
	resolver    identity.Resolver
	issuerKey   *crypto.PrivateKey
	operatorKey *crypto.PrivateKey
	now         time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }

	issuerKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	operatorKey, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	backend := identity.NewMapBackend()
	backend.Put(identity.Record{ID: "adv-alice", PubKey: issuerKey.PubKey().Bytes()})
	backend.Put(identity.Record{ID: "hive-operator", PubKey: operatorKey.PubKey().Bytes()})
	resolver := identity.NewCachingResolver(backend, time.Hour, nowFn)

	credStore := credential.NewStore()

	guard := replay.New(0, nowFn, nil)

	polEngine := policy.New(policy.Config{
		Preset:            policy.PresetModerate,
		MaxDangerAutoexec: 5,
	})
	queue := policy.NewConfirmationQueue([]byte("test-signing-key"), nowFn)

	translator := schema.NewTranslator(schema.DefaultMappings())

	ledgerStore, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledgerStore.Close() })

	obligationLedger, err := obligation.Open(filepath.Join(t.TempDir(), "obligation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = obligationLedger.Close() })

	node := &fakeNode{}

	eng := New(Deps{
		Resolver:       resolver,
		Credentials:    credStore,
		Replay:         guard,
		Policy:         polEngine,
		Queue:          queue,
		Translator:     translator,
		Node:           node,
		Receipts:       ledgerStore,
		Obligations:    obligationLedger,
		NodeKey:        operatorKey,
		NodeOperatorID: "hive-operator",
		NowFn:          nowFn,
	})

	return &harness{
		engine: eng, node: node, credStore: credStore, resolver: resolver,
		issuerKey: issuerKey, operatorKey: operatorKey, now: now,
	}
}

// issueCredential builds and stores a ManagementCredential for adv-alice,
// signed by hive-operator, granting the given permissions and schema glob.
func (h *harness) issueCredential(t *testing.T, perms map[credential.Permission]bool, allowedSchemas []string, caps map[string]float64) string {
	t.Helper()
	vc := credential.VerifiableCredential{
		IssuerID:   "hive-operator",
		SubjectID:  "adv-alice",
		Type:       "management",
		ValidFrom:  h.now.Add(-time.Hour),
		ValidUntil: h.now.Add(365 * 24 * time.Hour),
	}
	mc := &credential.ManagementCredential{
		VerifiableCredential: vc,
		Permissions:          perms,
		AllowedSchemas:       allowedSchemas,
		NumericCaps:          caps,
	}
	digest, err := mc.ContentHash()
	require.NoError(t, err)
	sig, err := h.operatorKey.Sign(digest)
	require.NoError(t, err)
	mc.Proofs = []credential.Proof{{SignerID: "hive-operator", Signature: sig}}

	ref, err := h.credStore.Put(mc)
	require.NoError(t, err)
	return ref
}

func (h *harness) signedEnvelope(t *testing.T, schemaID, action, credRef string, nonce uint64, params map[string]interface{}) Envelope {
	t.Helper()
	env := Envelope{
		Schema:        schemaID,
		Action:        action,
		Params:        params,
		Issuer:        "adv-alice",
		Nonce:         nonce,
		Timestamp:     h.now,
		CredentialRef: credRef,
	}
	digest, err := env.digest()
	require.NoError(t, err)
	sig, err := h.issuerKey.Sign(digest)
	require.NoError(t, err)
	env.Sig = sig
	return env
}

// TestSubmitHappyPathFeePolicyChange mirrors a delegated fee-policy change:
// a valid credential, a correctly signed envelope, and a danger score under
// the auto-execution threshold should execute and persist a receipt.
func TestSubmitHappyPathFeePolicyChange(t *testing.T) {
	h := newHarness(t)
	ref := h.issueCredential(t,
		map[credential.Permission]bool{credential.PermissionFeePolicy: true},
		[]string{"fee-policy/*"},
		map[string]float64{"fee_ppm": 1000},
	)
	env := h.signedEnvelope(t, "fee-policy/v1", "set_anchor", ref, 1, map[string]interface{}{
		"channel": "chan1", "fee_ppm": int64(150),
	})

	res := h.engine.Submit(context.Background(), env)
	require.True(t, res.Accepted, "expected acceptance, got reject %q: %s", res.Reject, res.Detail)
	require.Equal(t, uint64(0), res.Receipt.Seq)
	require.Equal(t, "adv-alice", res.Receipt.Issuer)
	require.Equal(t, 1, h.node.calls)

	stored, err := h.engine.deps.Receipts.Get(0)
	require.NoError(t, err)
	require.Equal(t, res.Receipt.Issuer, stored.Issuer)

	windows, err := h.engine.deps.Obligations.Window(windowIDFor(h.now))
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.Equal(t, "adv-alice", windows[0].From)
	require.Equal(t, "hive-operator", windows[0].To)
}

// TestSubmitRejectsReplayedNonce covers the E2 scenario: resubmitting an
// already-accepted (issuer, nonce) pair must be rejected and must not
// append a second receipt.
func TestSubmitRejectsReplayedNonce(t *testing.T) {
	h := newHarness(t)
	ref := h.issueCredential(t,
		map[credential.Permission]bool{credential.PermissionFeePolicy: true},
		[]string{"fee-policy/*"},
		map[string]float64{"fee_ppm": 1000},
	)
	env := h.signedEnvelope(t, "fee-policy/v1", "set_anchor", ref, 1, map[string]interface{}{
		"channel": "chan1", "fee_ppm": int64(150),
	})

	first := h.engine.Submit(context.Background(), env)
	require.True(t, first.Accepted)

	second := h.engine.Submit(context.Background(), env)
	require.False(t, second.Accepted)
	require.Equal(t, RejectReplayOrSkew, second.Reject)

	next, err := h.engine.deps.Receipts.NextSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(1), next, "replay must not append a second receipt")
}

// TestSubmitRejectsOutOfScopeSchema covers the E3 scenario: a credential
// scoped to fee-policy/* must not authorise a channel/v1 open.
func TestSubmitRejectsOutOfScopeSchema(t *testing.T) {
	h := newHarness(t)
	ref := h.issueCredential(t,
		map[credential.Permission]bool{credential.PermissionFeePolicy: true},
		[]string{"fee-policy/*"},
		nil,
	)
	env := h.signedEnvelope(t, "channel/v1", "open", ref, 1, map[string]interface{}{
		"channel": "chan2",
	})

	res := h.engine.Submit(context.Background(), env)
	require.False(t, res.Accepted)
	require.Equal(t, RejectOutOfScope, res.Reject)

	next, err := h.engine.deps.Receipts.NextSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(0), next)
}

// TestSubmitRejectsInvalidSignature ensures a tampered envelope (signature
// that does not match the canonical body) is rejected before any state
// changes.
func TestSubmitRejectsInvalidSignature(t *testing.T) {
	h := newHarness(t)
	ref := h.issueCredential(t,
		map[credential.Permission]bool{credential.PermissionFeePolicy: true},
		[]string{"fee-policy/*"},
		nil,
	)
	env := h.signedEnvelope(t, "fee-policy/v1", "set_anchor", ref, 1, map[string]interface{}{
		"channel": "chan1", "fee_ppm": int64(10),
	})
	env.Params["fee_ppm"] = int64(99999) // mutate after signing

	res := h.engine.Submit(context.Background(), env)
	require.False(t, res.Accepted)
	require.Equal(t, RejectInvalidSignature, res.Reject)
}

// TestSubmitRejectsUnknownCredential covers an envelope referencing a
// credential hash the store never saw.
func TestSubmitRejectsUnknownCredential(t *testing.T) {
	h := newHarness(t)
	env := h.signedEnvelope(t, "fee-policy/v1", "set_anchor", "deadbeef", 1, map[string]interface{}{
		"channel": "chan1", "fee_ppm": int64(10),
	})

	res := h.engine.Submit(context.Background(), env)
	require.False(t, res.Accepted)
	require.Equal(t, RejectUnknownCredential, res.Reject)
}

// TestSubmitRetriesRetryableRPCFailure covers spec.md §4.1 stage 6's bounded
// retry: a NodeRPC failure wrapped in RetryableError should be retried up
// to maxRPCAttempts before the operation is rejected.
func TestSubmitRetriesRetryableRPCFailure(t *testing.T) {
	h := newHarness(t)
	h.node.callErr = &RetryableError{Err: errTransient}
	ref := h.issueCredential(t,
		map[credential.Permission]bool{credential.PermissionFeePolicy: true},
		[]string{"fee-policy/*"},
		nil,
	)
	env := h.signedEnvelope(t, "fee-policy/v1", "set_anchor", ref, 1, map[string]interface{}{
		"channel": "chan1", "fee_ppm": int64(10),
	})

	res := h.engine.Submit(context.Background(), env)
	require.False(t, res.Accepted)
	require.Equal(t, RejectNodeRPCRetryable, res.Reject)
	require.Equal(t, maxRPCAttempts, h.node.calls)
}
