package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"arrayledger/native/bank"
	nativecommon "arrayledger/native/common"
	"arrayledger/native/vault"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{vault.ErrUnauthorizedUser, http.StatusForbidden, "unauthorized_user"},
	{vault.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{vault.ErrVaultNotFound, http.StatusNotFound, "vault_not_found"},
	{vault.ErrNotInitialised, http.StatusConflict, "not_initialised"},
	{vault.ErrAlreadyInitialised, http.StatusConflict, "already_initialised"},
	{vault.ErrNoPositionSlot, http.StatusConflict, "no_position_slot"},
	{vault.ErrInvalidVaultIndex, http.StatusConflict, "invalid_vault_index"},
	{vault.ErrRouteMismatch, http.StatusConflict, "route_mismatch"},
	{vault.ErrPositionNotEmpty, http.StatusConflict, "position_not_empty"},
	{vault.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{vault.ErrInvalidMint, http.StatusBadRequest, "invalid_mint"},
	{vault.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{vault.ErrUnknownProtocol, http.StatusBadRequest, "unknown_protocol"},
	{vault.ErrExternalCallFailed, http.StatusBadGateway, "external_call_failed"},
	{bank.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{vault.ErrUnderflow, http.StatusUnprocessableEntity, "underflow"},
	{vault.ErrOverflow, http.StatusUnprocessableEntity, "overflow"},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "module_paused"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded"},
	{context.Canceled, http.StatusServiceUnavailable, "canceled"},
}

// statusFor maps a ledger error onto an HTTP status and a stable code. The
// external call check runs before the arithmetic ones so a protocol that
// reports an underflow is still surfaced as an upstream failure.
func statusFor(err error) (int, string) {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.status, entry.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// errorPayload hides the detail of unexpected failures from clients.
func errorPayload(err error) (int, errorBody) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	return status, errorBody{Error: message, Code: code}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	status, body := errorPayload(err)
	writeJSON(w, status, body)
}
