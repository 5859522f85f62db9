package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"arrayledger/crypto"
	"arrayledger/native/bank"
	"arrayledger/native/vault"
	"arrayledger/services/ledgerd/journal"
	"arrayledger/services/ledgerd/middleware"
)

// IdempotencyHeader names the header that makes a write replayable.
const IdempotencyHeader = "Idempotency-Key"

const (
	maxBodyBytes          = 64 << 10
	maxIdempotencyKeyLen  = 128
	defaultJournalLimit   = 50
	idempotentReplyHeader = "Idempotent-Replay"
)

type positionRequest struct {
	Owner      string  `json:"owner"`
	VaultIndex *uint16 `json:"vault_index"`
	Amount     uint64  `json:"amount,string"`
	Protocol   string  `json:"protocol"`
	Reserve    string  `json:"reserve"`
}

type delegateRequest struct {
	Delegate string `json:"delegate"`
}

type registerVaultRequest struct {
	Mint string `json:"mint"`
}

type creditRequest struct {
	Owner  string `json:"owner"`
	Mint   string `json:"mint"`
	Amount uint64 `json:"amount,string"`
}

// write describes a mutating request for the journal.
type write struct {
	op     string
	owner  crypto.Address
	index  *uint16
	amount uint64
	route  vault.Route
}

func (s *Server) GetProgram(w http.ResponseWriter, r *http.Request) {
	program, err := s.ledger.ProgramState(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewProgram(program))
}

func (s *Server) ListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := s.ledger.Vaults(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	out := make([]vaultView, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, viewVault(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GetVault(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	v, err := s.ledger.Vault(r.Context(), index)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewVault(v))
}

func (s *Server) AuditVault(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	audit, err := s.ledger.AuditVault(r.Context(), index)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewAudit(audit))
}

func (s *Server) ListProtocols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"protocols": s.ledger.Protocols()})
}

func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	user, err := s.ledger.User(r.Context(), owner)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

func (s *Server) GetUserTokenVault(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	mirror, err := s.ledger.UserTokenVault(r.Context(), owner, index)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUserTokenVault(mirror))
}

func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	mint := chi.URLParam(r, "mint")
	balance, err := s.ledger.Balance(r.Context(), owner, mint)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":   owner.String(),
		"mint":    bank.NormalizeMint(mint),
		"balance": strconv.FormatUint(balance, 10),
	})
}

func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.begin(w, r, nil)
	if !ok {
		return
	}
	s.execute(w, r, write{op: "create_user", owner: caller}, body, func(ctx context.Context) (any, error) {
		user, created, err := s.ledger.CreateUser(ctx, caller)
		if err != nil {
			return nil, err
		}
		return map[string]any{"user": viewUser(user), "created": created}, nil
	})
}

func (s *Server) SetDelegate(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	var req delegateRequest
	caller, body, ok := s.begin(w, r, &req)
	if !ok {
		return
	}
	delegate, err := optionalAddress(req.Delegate, crypto.Address{})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "invalid delegate address")
		return
	}
	s.execute(w, r, write{op: "set_delegate", owner: owner}, body, func(ctx context.Context) (any, error) {
		user, err := s.ledger.SetDelegate(ctx, caller, owner, delegate)
		if err != nil {
			return nil, err
		}
		return viewUser(user), nil
	})
}

func (s *Server) OpenPosition(w http.ResponseWriter, r *http.Request) {
	caller, owner, req, body, ok := s.beginPosition(w, r)
	if !ok {
		return
	}
	index := *req.VaultIndex
	s.execute(w, r, write{op: "open_position", owner: owner, index: req.VaultIndex}, body, func(ctx context.Context) (any, error) {
		slot, err := s.ledger.OpenPosition(ctx, caller, owner, index)
		if err != nil {
			return nil, err
		}
		return map[string]any{"owner": owner.String(), "vault_index": index, "slot": slot}, nil
	})
}

func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	s.move(w, r, "deposit", s.ledger.Deposit)
}

func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	s.move(w, r, "withdraw", s.ledger.Withdraw)
}

type movement func(ctx context.Context, caller, owner crypto.Address, index uint16, amount uint64, route vault.Route) (*vault.Receipt, error)

func (s *Server) move(w http.ResponseWriter, r *http.Request, op string, fn movement) {
	caller, owner, req, body, ok := s.beginPosition(w, r)
	if !ok {
		return
	}
	route := vault.Route{Protocol: req.Protocol, Reserve: req.Reserve}
	entry := write{op: op, owner: owner, index: req.VaultIndex, amount: req.Amount, route: route}
	s.execute(w, r, entry, body, func(ctx context.Context) (any, error) {
		receipt, err := fn(ctx, caller, owner, *req.VaultIndex, req.Amount, route)
		if err != nil {
			return nil, err
		}
		return viewReceipt(receipt), nil
	})
}

func (s *Server) ClosePosition(w http.ResponseWriter, r *http.Request) {
	caller, owner, req, body, ok := s.beginPosition(w, r)
	if !ok {
		return
	}
	index := *req.VaultIndex
	s.execute(w, r, write{op: "close_position", owner: owner, index: req.VaultIndex}, body, func(ctx context.Context) (any, error) {
		if err := s.ledger.ClosePosition(ctx, caller, owner, index); err != nil {
			return nil, err
		}
		return map[string]any{"owner": owner.String(), "vault_index": index, "closed": true}, nil
	})
}

func (s *Server) RegisterVault(w http.ResponseWriter, r *http.Request) {
	var req registerVaultRequest
	caller, body, ok := s.begin(w, r, &req)
	if !ok {
		return
	}
	s.execute(w, r, write{op: "register_vault"}, body, func(ctx context.Context) (any, error) {
		v, err := s.ledger.RegisterVault(ctx, caller, req.Mint)
		if err != nil {
			return nil, err
		}
		return viewVault(v), nil
	})
}

func (s *Server) Credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	caller, body, ok := s.begin(w, r, &req)
	if !ok {
		return
	}
	owner, err := crypto.DecodeAddress(strings.TrimSpace(req.Owner))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "invalid owner address")
		return
	}
	s.execute(w, r, write{op: "credit", owner: owner, amount: req.Amount}, body, func(ctx context.Context) (any, error) {
		if err := s.ledger.Credit(ctx, caller, owner, req.Mint, req.Amount); err != nil {
			return nil, err
		}
		balance, err := s.ledger.Balance(ctx, owner, req.Mint)
		if err != nil {
			return nil, err
		}
		return map[string]string{"owner": owner.String(), "balance": strconv.FormatUint(balance, 10)}, nil
	})
}

// ListJournal returns the caller's own operations. Tokens with the admin
// scope may list any owner, or every owner when the filter is omitted.
func (s *Server) ListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_disabled", "operation journal not configured")
		return
	}
	caller, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing caller")
		return
	}
	query := r.URL.Query()
	admin := middleware.HasScope(r.Context(), AdminScope)
	owner := strings.TrimSpace(query.Get("owner"))
	if owner == "" && !admin {
		owner = caller.String()
	}
	if owner != "" && owner != caller.String() && !admin {
		writeError(w, http.StatusForbidden, "forbidden", "journal of another owner requires the admin scope")
		return
	}
	limit := defaultJournalLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	ops, err := s.journal.List(r.Context(), journal.Filter{Owner: owner, Op: query.Get("op"), Limit: limit})
	if err != nil {
		s.logger.Error("list journal", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

// begin resolves the caller and reads the body, decoding it into dst when
// dst is non-nil. It writes the error response itself when ok is false.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, dst any) (caller crypto.Address, body []byte, ok bool) {
	caller, err := middleware.CallerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing caller")
		return crypto.Address{}, nil, false
	}
	body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_payload", "request body too large")
		return crypto.Address{}, nil, false
	}
	if dst != nil && len(body) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload", "invalid payload")
			return crypto.Address{}, nil, false
		}
	}
	return caller, body, true
}

func (s *Server) beginPosition(w http.ResponseWriter, r *http.Request) (caller, owner crypto.Address, req positionRequest, body []byte, ok bool) {
	caller, body, ok = s.begin(w, r, &req)
	if !ok {
		return
	}
	if req.VaultIndex == nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "vault_index is required")
		return caller, owner, req, body, false
	}
	owner, err := optionalAddress(req.Owner, caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "invalid owner address")
		return caller, owner, req, body, false
	}
	return caller, owner, req, body, true
}

// execute runs fn and journals the outcome. When the request carries an
// Idempotency-Key that was already recorded for the same request, the stored
// response is replayed instead of running fn again.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, entry write, body []byte, fn func(context.Context) (any, error)) {
	ctx := r.Context()
	caller, _ := middleware.CallerFromContext(ctx)
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	digest := journal.Digest(r.Method, r.URL.Path, caller.String(), body)

	if key != "" && s.journal != nil {
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key too long")
			return
		}
		s.idempotent.Lock()
		defer s.idempotent.Unlock()
		prior, err := s.journal.Lookup(ctx, key)
		switch {
		case err == nil:
			if prior.Digest != digest {
				writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was used for a different request")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(idempotentReplyHeader, "true")
			w.WriteHeader(prior.Status)
			_, _ = io.WriteString(w, prior.Response)
			return
		case !errors.Is(err, journal.ErrNotFound):
			s.logger.Error("journal lookup", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
	}

	result, err := fn(ctx)
	status := http.StatusOK
	outcome := journal.OutcomeCommitted
	var payload any = result
	var errText string
	if err != nil {
		status, payload = errorPayload(err)
		outcome = journal.OutcomeRejected
		errText = err.Error()
	}
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		s.logger.Error("encode response", slog.String("error", marshalErr.Error()))
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorBody{Error: "internal error", Code: "internal"})
	}
	data = append(data, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)

	if s.journal == nil {
		return
	}
	record := &journal.Operation{
		RequestID: middleware.RequestIDFromContext(ctx),
		Op:        entry.op,
		Caller:    caller.String(),
		Owner:     entry.owner.String(),
		Amount:    strconv.FormatUint(entry.amount, 10),
		Outcome:   outcome,
		Status:    status,
		Error:     errText,
		Response:  string(data),
		Digest:    digest,
	}
	if entry.index != nil {
		index := int(*entry.index)
		record.VaultIndex = &index
	}
	if entry.op == "deposit" || entry.op == "withdraw" {
		record.Route = entry.route.String()
	}
	// Server-side failures stay retryable under the same key.
	if key != "" && status < http.StatusInternalServerError {
		record.IdempotencyKey = &key
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn("journal record failed", slog.String("op", entry.op), slog.String("error", err.Error()))
	}
}

func indexParam(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_vault_index", "vault index must be an integer in [0, 65535]")
		return 0, false
	}
	return uint16(index), true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "invalid "+name+" address")
		return crypto.Address{}, false
	}
	return addr, true
}

func optionalAddress(raw string, fallback crypto.Address) (crypto.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return crypto.DecodeAddress(raw)
}
