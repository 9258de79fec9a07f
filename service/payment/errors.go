package payment

import (
	"errors"
	"fmt"

	"github.com/brojonat/mintpay/service/solana"
)

// Code is a stable, client-facing failure code.
type Code string

const (
	CodeInvalidRequest      Code = "invalid_request"
	CodeMissingSignature    Code = "missing_signature"
	CodeInvalidTreasury     Code = "invalid_treasury"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeInvalidWallet       Code = "invalid_wallet"
	CodeInvalidCount        Code = "invalid_count"
	CodeQuoteMismatch       Code = "quote_mismatch"
	CodeTxErr               Code = "tx_err"
	CodeWrongTransfer       Code = "missing_or_wrong_transfer"
	CodePayerNotSigner      Code = "payer_not_signer"
	CodeMemoMismatch        Code = "memo_mismatch"
	CodePaymentNotFound     Code = "payment_not_found"
	CodePaymentConflict     Code = "payment_conflict"
	CodeTxNotFound          Code = "tx_not_found"
	CodeTimeout             Code = "timeout"
	CodeServerMisconfigured Code = "server_misconfigured"
	CodeInvalidMetadata     Code = "invalid_metadata"
	CodeRPCUnavailable      Code = "rpc_unavailable"
	CodeInternal            Code = "internal_error"
)

// Error is a failed payment operation with its client-facing code.
// Detail carries extra context for the response body (e.g. the on-chain error).
type Error struct {
	Code    Code
	Message string
	Detail  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// fromChainError maps solana sentinel errors onto codes.
func fromChainError(err error) *Error {
	switch {
	case errors.Is(err, solana.ErrTxFailed):
		return newError(CodeTxErr, err, "transaction failed on chain")
	case errors.Is(err, solana.ErrWrongTransfer):
		return newError(CodeWrongTransfer, err, "transaction does not pay the expected amount to the treasury")
	case errors.Is(err, solana.ErrPayerNotSigner):
		return newError(CodePayerNotSigner, err, "claimed payer did not sign the transaction")
	case errors.Is(err, solana.ErrMemoMismatch):
		return newError(CodeMemoMismatch, err, "transaction memo does not match the payment reference")
	case errors.Is(err, solana.ErrTxNotFound):
		return newError(CodeTxNotFound, err, "transaction not found")
	case errors.Is(err, solana.ErrConfiguration):
		return newError(CodeServerMisconfigured, err, "server is misconfigured")
	case errors.Is(err, solana.ErrInvalidInput):
		return newError(CodeInvalidRequest, err, "invalid request")
	case errors.Is(err, solana.ErrRPC):
		return newError(CodeRPCUnavailable, err, "solana rpc unavailable")
	}
	return newError(CodeInternal, err, "unexpected error")
}
