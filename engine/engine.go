package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"hivecore/bond"
	"hivecore/canonical"
	"hivecore/credential"
	"hivecore/escrow"
	"hivecore/identity"
	"hivecore/ledger"
	"hivecore/obligation"
	"hivecore/observability"
	"hivecore/policy"
	"hivecore/replay"
	"hivecore/schema"

	"hivecore/crypto"
)

// RetryableError marks a NodeRPC failure the caller should retry (spec.md
// §4.1 stage 6's bounded 3-attempt exponential backoff). A NodeRPC
// implementation wraps its own transient errors (timeouts, connection
// resets) in RetryableError; anything else is treated as fatal.
type RetryableError struct {
	Err error
}

func (r *RetryableError) Error() string { return r.Err.Error() }
func (r *RetryableError) Unwrap() error { return r.Err }

// maxRPCAttempts and initialBackoff implement spec.md §4.1 stage 6's
// bounded retry policy.
const (
	maxRPCAttempts  = 3
	initialBackoff  = 200 * time.Millisecond
)

// Deps wires Engine to the collaborators C1-C6 and C8 contribute.
type Deps struct {
	Resolver    identity.Resolver
	Credentials *credential.Store
	Replay      *replay.Guard
	Policy      *policy.Engine
	Queue       *policy.ConfirmationQueue
	Translator  *schema.Translator
	Node        schema.NodeRPC
	Receipts    *ledger.Store
	Obligations *obligation.Ledger
	Bonds       *bond.Store

	NodeKey        *crypto.PrivateKey
	NodeOperatorID string
	NowFn          func() time.Time
}

// Engine is the ownership root for the credential-gated command pipeline.
// It holds no business logic of its own beyond sequencing its
// collaborators in the fixed order spec.md §4.1 specifies.
type Engine struct {
	deps Deps

	mu       sync.Mutex
	issuers  map[string]bool // every issuer Submit has ever accepted from, for RevocationRefresher
	windows  map[string]bool // windows with at least one pending obligation, for SettlementCloser
}

// New builds an Engine from deps, applying a monotonic clock default.
func New(deps Deps) *Engine {
	if deps.NowFn == nil {
		deps.NowFn = time.Now
	}
	return &Engine{
		deps:    deps,
		issuers: make(map[string]bool),
		windows: make(map[string]bool),
	}
}

func (e *Engine) now() time.Time { return e.deps.NowFn().UTC() }

func reject(kind RejectKind, detail string) Result {
	return Result{Accepted: false, Reject: kind, Detail: detail}
}

// Submit runs the full pipeline spec.md §4.1 describes: parse/canonicalize,
// replay/nonce guard, credential verification, scope & constraint check,
// policy evaluation, schema translation, node RPC execution and receipt
// construction, finishing with obligation extraction. Every stage before
// the receipt is durably appended leaves no observable state change on
// rejection — the replay guard is only advanced after success.
func (e *Engine) Submit(ctx context.Context, env Envelope) (result Result) {
	started := time.Now()
	defer func() { observability.Pipeline().ObserveSubmit(started, string(result.Reject)) }()

	now := e.now()

	if env.Schema == "" || env.Action == "" || env.Issuer == "" || env.CredentialRef == "" || len(env.Sig) == 0 {
		return reject(RejectMalformedEnvelope, "schema, action, issuer, credential_ref and sig are required")
	}
	digest, err := env.digest()
	if err != nil {
		return reject(RejectMalformedEnvelope, err.Error())
	}

	if err := e.deps.Replay.Hydrate(ctx, env.Issuer); err != nil {
		return reject(RejectReplayOrSkew, err.Error())
	}
	if err := e.deps.Replay.Check(env.Issuer, env.Nonce, env.Timestamp); err != nil {
		return reject(RejectReplayOrSkew, err.Error())
	}

	mc, err := e.deps.Credentials.Get(env.CredentialRef)
	if err != nil {
		return reject(RejectUnknownCredential, err.Error())
	}
	if e.deps.Credentials.Revoked(env.CredentialRef) {
		return reject(RejectRevokedCredential, "credential has been revoked")
	}
	if mc.SubjectID != env.Issuer {
		return reject(RejectUnknownCredential, "credential subject does not match envelope issuer")
	}
	if !mc.ActiveAt(now) {
		return reject(RejectRevokedCredential, "credential is not active at this time")
	}

	issuerRecord, err := e.deps.Resolver.Resolve(ctx, env.Issuer)
	if err != nil {
		return reject(RejectUnverifiable, err.Error())
	}
	if issuerRecord.Revoked {
		return reject(RejectRevokedCredential, "issuer identity key has been revoked")
	}
	issuerPub, err := crypto.PublicKeyFromBytes(issuerRecord.PubKey)
	if err != nil {
		return reject(RejectUnverifiable, err.Error())
	}
	if !issuerPub.Verify(digest, env.Sig) {
		return reject(RejectInvalidSignature, "envelope signature does not verify against issuer key")
	}

	if err := e.verifyCredentialProof(ctx, &mc.VerifiableCredential); err != nil {
		return reject(RejectInvalidSignature, err.Error())
	}

	perm, ok := schemaPermission(env.Schema, env.Action)
	if !ok {
		return reject(RejectUnsupportedSchema, fmt.Sprintf("no permission mapping for %s#%s", env.Schema, env.Action))
	}
	if !mc.HasPermission(perm) {
		return reject(RejectOutOfScope, fmt.Sprintf("credential does not grant %q", perm))
	}
	if !mc.AllowsSchema(env.Schema) {
		return reject(RejectOutOfScope, fmt.Sprintf("credential does not allow schema %q", env.Schema))
	}
	for k, v := range env.Params {
		if f, isNum := toFloat(v); isNum {
			if !mc.CheckNumericCap(k, f) {
				return reject(RejectConstraintViolation, fmt.Sprintf("parameter %q exceeds credential's numeric cap", k))
			}
		}
	}

	sa := schema.SchemaAction{Schema: env.Schema, Action: env.Action}
	danger, err := e.deps.Translator.Danger(sa)
	if err != nil {
		return reject(RejectUnsupportedSchema, err.Error())
	}
	preq := policy.Request{
		Issuer:       env.Issuer,
		Schema:       env.Schema,
		Action:       env.Action,
		IsMonitoring: env.Schema == "monitor/v1",
		Danger:       danger,
		TargetResource: stringParamOrEmpty(env.Params, "channel"),
		FeeChangePct: numericParamOrZero(env.Params, "fee_change_pct"),
		RebalanceAmt: numericParamOrZero(env.Params, "amount"),
		Now:          now,
	}
	outcome := e.deps.Policy.Evaluate(preq)
	if outcome.Denied {
		return reject(RejectPolicyDenied, fmt.Sprintf("%s: %s", outcome.Code, outcome.Detail))
	}
	if e.deps.Policy.NeedsConfirmation(preq) {
		handle, token, err := e.deps.Queue.Enqueue(env.Issuer, env.Schema, danger)
		if err != nil {
			return reject(RejectPolicyDenied, err.Error())
		}
		return Result{Accepted: false, Reject: RejectPolicyPending, Detail: "awaiting operator confirmation", Handle: handle, Token: token}
	}

	steps, touches, err := e.deps.Translator.Translate(sa, env.Params)
	if err != nil {
		return reject(RejectUnsupportedSchema, err.Error())
	}

	before, err := e.deps.Node.StateHash(ctx, touches)
	if err != nil {
		return e.rejectRPCErr(err)
	}
	results := make(map[string]interface{})
	for _, step := range steps {
		out, err := e.callWithRetry(ctx, step)
		if err != nil {
			return e.rejectRPCErr(err)
		}
		for k, v := range out {
			results[k] = v
		}
	}
	after, err := e.deps.Node.StateHash(ctx, touches)
	if err != nil {
		return e.rejectRPCErr(err)
	}

	resultValue, err := toCanonicalValue(results)
	if err != nil {
		return reject(RejectNodeRPCFatal, fmt.Sprintf("node returned a non-canonical result: %v", err))
	}
	resultMap, _ := resultValue.(map[string]canonical.Value)

	receipt := ledger.Receipt{
		Issuer:      env.Issuer,
		Schema:      env.Schema,
		Action:      env.Action,
		Nonce:       env.Nonce,
		Timestamp:   now,
		BeforeState: before,
		AfterState:  after,
		Result:      resultMap,
		IssuerSig:   env.Sig,
	}
	selfHash, err := receipt.SelfHash(crypto.Keccak256)
	if err != nil {
		return reject(RejectReceiptPersistenceFailed, err.Error())
	}
	nodeSig, err := e.deps.NodeKey.Sign(selfHash)
	if err != nil {
		return reject(RejectReceiptPersistenceFailed, err.Error())
	}
	receipt.NodeOperatorSig = nodeSig

	appended, err := e.deps.Receipts.Append(receipt)
	if err != nil {
		return reject(RejectReceiptPersistenceFailed, err.Error())
	}

	if err := e.deps.Replay.Advance(ctx, env.Issuer, env.Nonce); err != nil {
		return reject(RejectReceiptPersistenceFailed, fmt.Sprintf("receipt persisted but replay guard did not advance: %v", err))
	}
	e.trackIssuer(env.Issuer)
	e.deps.Policy.CommitFeeChange(preq.TargetResource, preq.FeeChangePct)

	if amount := e.obligationAmount(danger, env.Issuer); amount > 0 {
		windowID := windowIDFor(now)
		_, _ = e.deps.Obligations.Append(obligation.Obligation{
			WindowID:  windowID,
			From:      env.Issuer,
			To:        e.deps.NodeOperatorID,
			Kind:      obligation.KindPerAction,
			Amount:    amount,
			ReceiptID: appended.Seq,
			CreatedAt: now,
		})
		e.trackWindow(windowID)
	}

	return Result{Accepted: true, Receipt: appended}
}

// verifyCredentialProof resolves vc's issuer and checks that at least one
// proof was produced by that issuer's key over the credential's content
// hash (spec.md §3/§4.1 stage 3: "Check signatures of all proofs").
func (e *Engine) verifyCredentialProof(ctx context.Context, vc *credential.VerifiableCredential) error {
	credDigest, err := vc.ContentHash()
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	issuerRecord, err := e.deps.Resolver.Resolve(ctx, vc.IssuerID)
	if err != nil {
		return fmt.Errorf("resolve credential issuer: %w", err)
	}
	if issuerRecord.Revoked {
		return fmt.Errorf("credential issuer %q has a revoked identity key", vc.IssuerID)
	}
	issuerPub, err := crypto.PublicKeyFromBytes(issuerRecord.PubKey)
	if err != nil {
		return fmt.Errorf("decode credential issuer key: %w", err)
	}
	for _, p := range vc.Proofs {
		if p.SignerID == vc.IssuerID && issuerPub.Verify(credDigest, p.Signature) {
			return nil
		}
	}
	return fmt.Errorf("no valid proof from issuer %q", vc.IssuerID)
}

// callWithRetry drives a single RPC step through spec.md §4.1 stage 6's
// bounded retry: up to 3 attempts with exponential backoff, but only for
// errors the NodeRPC implementation marks retryable.
func (e *Engine) callWithRetry(ctx context.Context, step schema.RPCStep) (map[string]interface{}, error) {
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxRPCAttempts; attempt++ {
		out, err := e.deps.Node.Call(ctx, step)
		if err == nil {
			return out, nil
		}
		lastErr = err
		var retryable *RetryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
		if attempt == maxRPCAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (e *Engine) rejectRPCErr(err error) Result {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return reject(RejectNodeRPCRetryable, err.Error())
	}
	return reject(RejectNodeRPCFatal, err.Error())
}

func (e *Engine) trackIssuer(issuer string) {
	e.mu.Lock()
	e.issuers[issuer] = true
	e.mu.Unlock()
}

// TrackedIssuers returns every issuer Submit has ever accepted an operation
// from, for the RevocationRefresher adapter's periodic sweep.
func (e *Engine) TrackedIssuers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.issuers))
	for id := range e.issuers {
		out = append(out, id)
	}
	return out
}

func (e *Engine) trackWindow(id string) {
	e.mu.Lock()
	e.windows[id] = true
	e.mu.Unlock()
}

// untrackWindow drops id once its settlement has closed.
func (e *Engine) untrackWindow(id string) {
	e.mu.Lock()
	delete(e.windows, id)
	e.mu.Unlock()
}

// OpenWindows returns every settlement window with at least one obligation
// appended since it was last closed, for the SettlementCloser adapter.
func (e *Engine) OpenWindows() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.windows))
	for id := range e.windows {
		out = append(out, id)
	}
	return out
}

// windowIDFor buckets a timestamp into an hourly settlement window,
// matching orchestrator.DefaultSettlementInterval.
func windowIDFor(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// obligationAmount prices a successfully executed operation's per-action
// fee via escrow's danger/reputation pricing curve (spec.md §4.5), scaled
// down from its sat-denominated escrow unit into the obligation ledger's
// fee-accounting unit. Monitoring actions (danger 1) are not billed. This
// reuse of the escrow pricing curve for per-action fees, rather than a
// second independent table, is this implementation's decision (DESIGN.md).
func (e *Engine) obligationAmount(danger int, issuer string) float64 {
	if danger <= 1 {
		return 0
	}
	tier := bond.TierNewcomer
	if e.deps.Bonds != nil {
		if b, err := e.deps.Bonds.Get(issuer); err == nil {
			days := int(e.now().Sub(b.PostedAt).Hours() / 24)
			tier = bond.DeriveTier(1.0, b.Amount, days, bond.DisputeHistory{})
		}
	}
	amount, _ := escrow.Price(danger, tier)
	f := new(big.Float).SetInt(amount)
	out, _ := f.Float64()
	return out / 1000
}

func schemaPermission(schemaID, action string) (credential.Permission, bool) {
	switch schemaID {
	case "monitor/v1", "htlc/v1", "backup/v1":
		return credential.PermissionMonitor, true
	case "fee-policy/v1":
		return credential.PermissionFeePolicy, true
	case "rebalance/v1":
		return credential.PermissionRebalance, true
	case "config/v1":
		return credential.PermissionConfigTune, true
	case "channel/v1":
		switch action {
		case "open":
			return credential.PermissionChannelOpen, true
		case "close":
			return credential.PermissionChannelClose, true
		default:
			return "", false
		}
	case "wallet/v1", "emergency/v1":
		return credential.PermissionEmergency, true
	default:
		return "", false
	}
}

func stringParamOrEmpty(params map[string]interface{}, key string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return ""
}

func numericParamOrZero(params map[string]interface{}, key string) float64 {
	f, _ := toFloat(params[key])
	return f
}
