package solana

import (
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

// SumTransfersToTreasury adds up every native transfer, outer or inner, whose
// destination is treasury. When no instruction-level transfer matches, the
// treasury's positive balance delta from the transaction metadata is used
// instead, since some RPC responses omit the instruction detail.
func SumTransfersToTreasury(tx *ParsedTransaction, treasury solana.PublicKey) uint64 {
	if tx == nil {
		return 0
	}

	var total uint64
	matched := false
	for _, t := range tx.Transfers {
		if !t.Destination.Equals(treasury) {
			continue
		}
		matched = true
		total = addSaturating(total, t.Lamports)
	}
	if matched {
		return total
	}

	return balanceDelta(tx, treasury)
}

// balanceDelta returns post-pre for account, or 0 when it did not grow.
func balanceDelta(tx *ParsedTransaction, account solana.PublicKey) uint64 {
	for i, key := range tx.AccountKeys {
		if !key.Equals(account) {
			continue
		}
		if i >= len(tx.PreBalances) || i >= len(tx.PostBalances) {
			return 0
		}
		pre, post := tx.PreBalances[i], tx.PostBalances[i]
		if post > pre {
			return post - pre
		}
		return 0
	}
	return 0
}

func addSaturating(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// ValidationRequest describes what a transaction must contain to satisfy a payment.
type ValidationRequest struct {
	Treasury          solana.PublicKey
	ExpectedLamports  uint64
	ToleranceLamports uint64

	// Payer, when set, must be among the transaction signers. This keeps an
	// unrelated transfer to the treasury from satisfying someone else's intent.
	Payer *solana.PublicKey

	// ExpectedMemo is checked only when RequireMemo is true.
	ExpectedMemo string
	RequireMemo  bool
}

// ValidationResult reports how the payment was matched.
type ValidationResult struct {
	TotalToTreasury     uint64
	UsedBalanceFallback bool
}

// ValidatePayment checks a fetched transaction against req. The returned
// result is populated even when validation fails so callers can report the total.
func ValidatePayment(tx *ParsedTransaction, req ValidationRequest) (*ValidationResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrTxNotFound)
	}
	if req.Treasury.IsZero() {
		return nil, configError("treasury address is not set")
	}
	if req.ExpectedLamports == 0 {
		return nil, inputError("expected lamports must be positive")
	}

	total := SumTransfersToTreasury(tx, req.Treasury)
	result := &ValidationResult{
		TotalToTreasury:     total,
		UsedBalanceFallback: total > 0 && !hasTransferTo(tx, req.Treasury),
	}

	if tx.Err != nil {
		return result, fmt.Errorf("%w: %v", ErrTxFailed, tx.Err)
	}

	// Zero never passes, whatever the tolerance.
	if result.TotalToTreasury == 0 {
		return result, fmt.Errorf("%w: no lamports reached %s", ErrWrongTransfer, req.Treasury)
	}
	if addSaturating(result.TotalToTreasury, req.ToleranceLamports) < req.ExpectedLamports {
		return result, fmt.Errorf("%w: got %d lamports, expected %d (tolerance %d)",
			ErrWrongTransfer, result.TotalToTreasury, req.ExpectedLamports, req.ToleranceLamports)
	}

	if req.Payer != nil && !tx.IsSigner(*req.Payer) {
		return result, fmt.Errorf("%w: %s", ErrPayerNotSigner, req.Payer)
	}

	if req.RequireMemo && req.ExpectedMemo != "" && !tx.HasMemo(req.ExpectedMemo) {
		return result, fmt.Errorf("%w: want %q", ErrMemoMismatch, req.ExpectedMemo)
	}

	return result, nil
}

func hasTransferTo(tx *ParsedTransaction, treasury solana.PublicKey) bool {
	for _, t := range tx.Transfers {
		if t.Destination.Equals(treasury) {
			return true
		}
	}
	return false
}
