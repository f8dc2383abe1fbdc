package api

import (
	"errors"
	"net/http"

	"github.com/accordsai/claimlane/pkg/httpx"
	"github.com/accordsai/claimlane/services/claims/internal/attestation"
	"github.com/accordsai/claimlane/services/claims/internal/claims"
)

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{claims.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
	{claims.ErrDuplicateClaim, http.StatusConflict, "DUPLICATE_CLAIM"},
	{claims.ErrInvalidParameter, http.StatusBadRequest, "INVALID_PARAMETER"},
	{claims.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{claims.ErrNotVerified, http.StatusConflict, "NOT_VERIFIED"},
	{claims.ErrAlreadyPaid, http.StatusConflict, "ALREADY_PAID"},
	{claims.ErrInsufficientBalance, http.StatusConflict, "INSUFFICIENT_BALANCE"},
	{claims.ErrReentrancy, http.StatusLocked, "REENTRANT_CALL"},
	{claims.ErrPaused, http.StatusServiceUnavailable, "PAUSED"},
	{claims.ErrTransferFailed, http.StatusBadGateway, "TRANSFER_FAILED"},
	{claims.ErrNotInitialized, http.StatusServiceUnavailable, "NOT_INITIALIZED"},
	{claims.ErrChainBroken, http.StatusConflict, "CHAIN_BROKEN"},
	{attestation.ErrInvalidSignature, http.StatusUnauthorized, "INVALID_SIGNATURE"},
	{attestation.ErrStale, http.StatusBadRequest, "STALE_ATTESTATION"},
	{attestation.ErrMalformed, http.StatusBadRequest, "BAD_ATTESTATION"},
	{attestation.ErrInProgress, http.StatusConflict, "ATTESTATION_IN_PROGRESS"},
}

// statusFor maps an engine error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	httpx.WriteErrorFor(r, w, status, code, err.Error(), nil)
}
