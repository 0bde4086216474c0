// Package api exposes the core's single programmatic surface (spec.md §6:
// "submit, issue_credential, revoke_credential, open_contract, close_window,
// dispute") as a chi-routed JSON-over-HTTP API, mirroring the teacher
// gateway's chi router + per-route JSON handler layout
// (gateway/routes/router.go).
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hivecore/credential"
	"hivecore/dispute"
	"hivecore/engine"
	"hivecore/escrow"
	"hivecore/market"
	"hivecore/obligation"
)

// Deps are the collaborators the API surface dispatches into. Every field
// is required; Server does not own their lifecycle.
type Deps struct {
	Engine      *engine.Engine
	Credentials *credential.Store
	Contracts   *engine.ContractRegistry
	Disputes    *engine.DisputeRegistry
	Settlement  *engine.SettlementAdapter
	Escrow      *escrow.Store
	NowFn       func() time.Time
}

// Server implements the programmatic API over HTTP.
type Server struct {
	deps Deps
}

// New builds the chi-routed http.Handler for the core's programmatic API.
func New(deps Deps) http.Handler {
	if deps.NowFn == nil {
		deps.NowFn = time.Now
	}
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/submit", s.handleSubmit)
	r.Post("/issue_credential", s.handleIssueCredential)
	r.Post("/revoke_credential", s.handleRevokeCredential)
	r.Post("/open_contract", s.handleOpenContract)
	r.Post("/close_window", s.handleCloseWindow)
	r.Post("/dispute", s.handleDispute)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// submitRequest mirrors the operation envelope (spec.md §6).
type submitRequest struct {
	Schema        string                 `json:"schema"`
	Action        string                 `json:"action"`
	Params        map[string]interface{} `json:"params"`
	Issuer        string                 `json:"issuer"`
	Nonce         uint64                 `json:"nonce"`
	Timestamp     time.Time              `json:"ts"`
	CredentialRef string                 `json:"credential_ref"`
	Sig           string                 `json:"sig"` // hex
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sig, err := hex.DecodeString(req.Sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result := s.deps.Engine.Submit(r.Context(), engine.Envelope{
		Schema:        req.Schema,
		Action:        req.Action,
		Params:        req.Params,
		Issuer:        req.Issuer,
		Nonce:         req.Nonce,
		Timestamp:     req.Timestamp,
		CredentialRef: req.CredentialRef,
		Sig:           sig,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	var mc credential.ManagementCredential
	if err := json.NewDecoder(r.Body).Decode(&mc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ref, err := s.deps.Credentials.Put(&mc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"credential_ref": ref})
}

func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CredentialRef string `json:"credential_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.deps.Credentials.Revoke(req.CredentialRef, s.deps.NowFn())
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// openContractRequest covers the marketplace negotiation lifecycle
// spec.md §6's "open_contract" entry multiplexes under one path: initial
// proposal plus the Counter/Accept/BeginTrial/ResolveTrial/Renew
// transitions (spec.md §4.9).
type openContractRequest struct {
	Action            string         `json:"action,omitempty"` // "" (propose, default) | counter | accept | begin_trial | resolve_trial | renew
	ID                string         `json:"id"`
	Parties           [2]string      `json:"parties,omitempty"`
	Windows           market.Windows `json:"windows,omitempty"`
	OpenedAt          time.Time      `json:"opened_at,omitempty"`
	CredentialHashHex string         `json:"credential_hash,omitempty"` // hex, 32 bytes
	EscrowID          string         `json:"escrow_id,omitempty"`
	TrialOutcome      int            `json:"trial_outcome,omitempty"`
	NextWindow        market.Windows `json:"next_window,omitempty"`
}

func (s *Server) handleOpenContract(w http.ResponseWriter, r *http.Request) {
	var req openContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	now := s.deps.NowFn()

	switch req.Action {
	case "", "propose":
		c := market.NewContract(req.ID, req.Parties, req.Windows)
		s.deps.Contracts.Register(c)
		writeJSON(w, http.StatusOK, c)
	case "counter":
		c, err := s.deps.Contracts.Counter(req.ID, now, req.OpenedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "accept":
		hashBytes, err := hex.DecodeString(req.CredentialHashHex)
		if err != nil || len(hashBytes) != 32 {
			writeError(w, http.StatusBadRequest, errBadCredentialHash)
			return
		}
		var hash [32]byte
		copy(hash[:], hashBytes)
		c, err := s.deps.Contracts.Accept(req.ID, hash, req.EscrowID, func() error {
			if _, err := s.deps.Credentials.Get(req.CredentialHashHex); err != nil {
				return err
			}
			_, err := s.deps.Escrow.Get(req.EscrowID)
			return err
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "begin_trial":
		c, err := s.deps.Contracts.BeginTrial(req.ID, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "resolve_trial":
		c, err := s.deps.Contracts.ResolveTrial(req.ID, market.TrialOutcome(req.TrialOutcome))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case "renew":
		c, err := s.deps.Contracts.Renew(req.ID, now, req.NextWindow)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	default:
		writeError(w, http.StatusBadRequest, errUnknownContractAction)
	}
}

func (s *Server) handleCloseWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindowID string `json:"window_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Settlement.CloseWindow(r.Context(), req.WindowID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	record, err := s.deps.Settlement.Obligations.Settlement(req.WindowID)
	if err != nil && !errors.Is(err, obligation.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"closed": true, "settlement": record})
}

// disputeRequest covers the three dispute lifecycle sub-operations the
// programmatic API multiplexes under a single path (spec.md §6's "dispute"
// entry): filing, voting and resolving.
type disputeRequest struct {
	Action            string        `json:"action"` // file | vote | resolve
	ID                string        `json:"id"`
	Claimant          string        `json:"claimant,omitempty"`
	Respondent        string        `json:"respondent,omitempty"`
	ClaimAmount       float64       `json:"claim_amount,omitempty"`
	BlockHashAtFiling string        `json:"block_hash_at_filing,omitempty"` // hex
	Vote              *dispute.Vote `json:"vote,omitempty"`
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	now := s.deps.NowFn()

	switch req.Action {
	case "file":
		blockHash, err := hex.DecodeString(req.BlockHashAtFiling)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		d, err := s.deps.Disputes.File(req.ID, req.Claimant, req.Respondent, req.ClaimAmount, now, blockHash)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	case "vote":
		if req.Vote == nil {
			writeError(w, http.StatusBadRequest, errMissingVote)
			return
		}
		if err := s.deps.Disputes.CastVote(req.ID, *req.Vote); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
	case "resolve":
		outcome, err := s.deps.Disputes.Resolve(req.ID, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	default:
		writeError(w, http.StatusBadRequest, errUnknownDisputeAction)
	}
}

var (
	errMissingVote           = contextError("api: vote field required")
	errUnknownDisputeAction  = contextError("api: unknown dispute action")
	errBadCredentialHash     = contextError("api: credential_hash must be 32 bytes hex")
	errUnknownContractAction = contextError("api: unknown contract action")
)

type contextError string

func (e contextError) Error() string { return string(e) }
