package solana

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by this package. Callers match them with errors.Is;
// the wrapped message carries the detail.
var (
	// ErrInvalidInput means the caller passed a malformed address or amount.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration means a required program ID, treasury or seed is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrRPC means the RPC node could not serve a read after retries.
	ErrRPC = errors.New("rpc error")

	ErrTxFailed       = errors.New("transaction failed on chain")
	ErrTxNotFound     = errors.New("transaction not found")
	ErrWrongTransfer  = errors.New("missing or wrong transfer to treasury")
	ErrPayerNotSigner = errors.New("payer is not a signer of the transaction")
	ErrMemoMismatch   = errors.New("expected memo not present in transaction")
)

func rpcError(method string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRPC, method, err)
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func inputError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
