package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/b0ase/bsv20-treasury/ledger"
	"github.com/b0ase/bsv20-treasury/logger"
	"github.com/b0ase/bsv20-treasury/payment"
)

// ErrorCode is a machine-readable error code in error responses.
type ErrorCode string

const (
	errCodeBadRequest         ErrorCode = "bad_request"
	errCodeValidationFailed   ErrorCode = "validation_failed"
	errCodeUnauthorized       ErrorCode = "unauthorized"
	errCodeNotFound           ErrorCode = "not_found"
	errCodeConflict           ErrorCode = "conflict"
	errCodePaymentInvalid     ErrorCode = "payment_invalid"
	errCodeTransferFailed     ErrorCode = "transfer_failed"
	errCodeServiceUnavailable ErrorCode = "service_unavailable"
	errCodeInternalError      ErrorCode = "internal_error"
)

// MsgNoStakedTokens is returned when a dividend is distributed with nothing staked.
const MsgNoStakedTokens = "No staked tokens to distribute to"

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func respondWithError(c *gin.Context, statusCode int, code ErrorCode, message string, details ...string) {
	response := errorResponse{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		response.Error.Details = details[0]
	}
	c.AbortWithStatusJSON(statusCode, response)
}

func respondBadRequest(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusBadRequest, errCodeBadRequest, message, details...)
}

func respondValidationError(c *gin.Context, details string) {
	respondWithError(c, http.StatusBadRequest, errCodeValidationFailed, "Validation failed", details)
}

func respondInternalError(c *gin.Context, err error, message string, fields ...zap.Field) {
	fields = append(fields, zap.String("path", c.Request.URL.Path))
	logger.ErrorCtx(c.Request.Context(), err, fields...)
	respondWithError(c, http.StatusInternalServerError, errCodeInternalError, message)
}

// respondLedgerError maps ledger sentinels to HTTP responses.
func respondLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrNoStakedTokens):
		respondBadRequest(c, MsgNoStakedTokens)
	case errors.Is(err, ledger.ErrHolderNotFound),
		errors.Is(err, ledger.ErrPurchaseNotFound),
		errors.Is(err, ledger.ErrDividendNotFound):
		respondWithError(c, http.StatusNotFound, errCodeNotFound, "Not found", err.Error())
	case errors.Is(err, ledger.ErrPurchaseNotPending):
		respondWithError(c, http.StatusConflict, errCodeConflict, "Purchase already settled", err.Error())
	case errors.Is(err, ledger.ErrTxAlreadyUsed):
		respondWithError(c, http.StatusConflict, errCodeConflict, "Transaction already used", err.Error())
	case errors.Is(err, ledger.ErrInvalidHolder),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidTxID),
		errors.Is(err, ledger.ErrOverflow),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientStake):
		respondBadRequest(c, "Invalid request", err.Error())
	default:
		respondInternalError(c, err, "Ledger operation failed")
	}
}

// respondPaymentError maps verification failures. Unconfirmed payments are
// reported as conflicts so clients can retry.
func respondPaymentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrNotConfirmed):
		respondWithError(c, http.StatusConflict, errCodeConflict, "Payment not yet confirmed", err.Error())
	case errors.Is(err, payment.ErrInsufficientPayment),
		errors.Is(err, payment.ErrNoMatchingOutput),
		errors.Is(err, payment.ErrTxIDMismatch),
		errors.Is(err, payment.ErrInvalidTx),
		errors.Is(err, payment.ErrInvalidParams):
		respondWithError(c, http.StatusPaymentRequired, errCodePaymentInvalid, "Payment verification failed", err.Error())
	default:
		respondInternalError(c, err, "Payment verification unavailable")
	}
}

// isPaymentRejection reports whether err means the payment can never verify.
func isPaymentRejection(err error) bool {
	return errors.Is(err, payment.ErrInsufficientPayment) ||
		errors.Is(err, payment.ErrNoMatchingOutput) ||
		errors.Is(err, payment.ErrTxIDMismatch) ||
		errors.Is(err, payment.ErrInvalidTx)
}
