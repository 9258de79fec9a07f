package solana

import (
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validatorFixture struct {
	payer, treasury, stranger solana.PublicKey
}

func newValidatorFixture(t *testing.T) validatorFixture {
	return validatorFixture{payer: newKey(t), treasury: newKey(t), stranger: newKey(t)}
}

func (f validatorFixture) tx(transfers ...Transfer) *ParsedTransaction {
	return &ParsedTransaction{
		Signers:     []solana.PublicKey{f.payer},
		AccountKeys: []solana.PublicKey{f.payer, f.treasury, solana.SystemProgramID},
		Transfers:   transfers,
	}
}

func TestSumTransfersToTreasury(t *testing.T) {
	f := newValidatorFixture(t)

	t.Run("outer and inner transfers are summed", func(t *testing.T) {
		tx := f.tx(
			Transfer{Source: f.payer, Destination: f.treasury, Lamports: 1_000},
			Transfer{Source: f.payer, Destination: f.treasury, Lamports: 250, Inner: true},
		)
		assert.Equal(t, uint64(1_250), SumTransfersToTreasury(tx, f.treasury))
	})

	t.Run("unrelated destination does not change the sum", func(t *testing.T) {
		base := f.tx(Transfer{Destination: f.treasury, Lamports: 500})
		withNoise := f.tx(
			Transfer{Destination: f.treasury, Lamports: 500},
			Transfer{Destination: f.stranger, Lamports: 9_999},
		)
		assert.Equal(t, SumTransfersToTreasury(base, f.treasury), SumTransfersToTreasury(withNoise, f.treasury))
	})

	t.Run("adding a valid transfer increases the sum by exactly its amount", func(t *testing.T) {
		one := f.tx(Transfer{Destination: f.treasury, Lamports: 500})
		two := f.tx(
			Transfer{Destination: f.treasury, Lamports: 500},
			Transfer{Destination: f.treasury, Lamports: 77, Inner: true},
		)
		assert.Equal(t, SumTransfersToTreasury(one, f.treasury)+77, SumTransfersToTreasury(two, f.treasury))
	})

	t.Run("balance delta fallback when no instruction matches", func(t *testing.T) {
		tx := f.tx()
		tx.PreBalances = []uint64{5_000_000, 100, 1}
		tx.PostBalances = []uint64{3_995_000, 1_000_100, 1}
		assert.Equal(t, uint64(1_000_000), SumTransfersToTreasury(tx, f.treasury))
	})

	t.Run("no fallback when the treasury balance shrank", func(t *testing.T) {
		tx := f.tx()
		tx.PreBalances = []uint64{5_000_000, 1_000, 1}
		tx.PostBalances = []uint64{5_000_000, 900, 1}
		assert.Zero(t, SumTransfersToTreasury(tx, f.treasury))
	})

	t.Run("fallback ignored when a transfer matched", func(t *testing.T) {
		tx := f.tx(Transfer{Destination: f.treasury, Lamports: 10})
		tx.PreBalances = []uint64{0, 0, 0}
		tx.PostBalances = []uint64{0, 999, 0}
		assert.Equal(t, uint64(10), SumTransfersToTreasury(tx, f.treasury))
	})

	t.Run("missing balances give zero", func(t *testing.T) {
		assert.Zero(t, SumTransfersToTreasury(f.tx(), f.treasury))
		assert.Zero(t, SumTransfersToTreasury(nil, f.treasury))
	})

	t.Run("sum saturates instead of wrapping", func(t *testing.T) {
		tx := f.tx(
			Transfer{Destination: f.treasury, Lamports: math.MaxUint64},
			Transfer{Destination: f.treasury, Lamports: 5},
		)
		assert.Equal(t, uint64(math.MaxUint64), SumTransfersToTreasury(tx, f.treasury))
	})
}

func TestValidatePayment(t *testing.T) {
	f := newValidatorFixture(t)
	exact := f.tx(Transfer{Source: f.payer, Destination: f.treasury, Lamports: 10_000_000})

	tests := []struct {
		name      string
		tx        *ParsedTransaction
		req       ValidationRequest
		wantErr   error
		wantTotal uint64
	}{
		{
			name:      "exact amount passes",
			tx:        exact,
			req:       ValidationRequest{Treasury: f.treasury, ExpectedLamports: 10_000_000},
			wantTotal: 10_000_000,
		},
		{
			name:      "one lamport short fails without tolerance",
			tx:        exact,
			req:       ValidationRequest{Treasury: f.treasury, ExpectedLamports: 10_000_001},
			wantErr:   ErrWrongTransfer,
			wantTotal: 10_000_000,
		},
		{
			name:      "short amount within tolerance passes",
			tx:        exact,
			req:       ValidationRequest{Treasury: f.treasury, ExpectedLamports: 10_005_000, ToleranceLamports: 5_000},
			wantTotal: 10_000_000,
		},
		{
			name:    "zero transfer never passes even with tolerance",
			tx:      f.tx(),
			req:     ValidationRequest{Treasury: f.treasury, ExpectedLamports: 1_000, ToleranceLamports: 5_000},
			wantErr: ErrWrongTransfer,
		},
		{
			name:    "zero expected amount is rejected",
			tx:      exact,
			req:     ValidationRequest{Treasury: f.treasury},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "missing treasury is a configuration error",
			tx:      exact,
			req:     ValidationRequest{ExpectedLamports: 1},
			wantErr: ErrConfiguration,
		},
		{
			name:      "claimed payer must have signed",
			tx:        exact,
			req:       ValidationRequest{Treasury: f.treasury, ExpectedLamports: 10_000_000, Payer: &f.stranger},
			wantErr:   ErrPayerNotSigner,
			wantTotal: 10_000_000,
		},
		{
			name:      "claimed payer that signed passes",
			tx:        exact,
			req:       ValidationRequest{Treasury: f.treasury, ExpectedLamports: 10_000_000, Payer: &f.payer},
			wantTotal: 10_000_000,
		},
		{
			name:      "memo ignored unless required",
			tx:        exact,
			req:       ValidationRequest{Treasury: f.treasury, ExpectedLamports: 10_000_000, ExpectedMemo: "nftgen:abc"},
			wantTotal: 10_000_000,
		},
		{
			name:      "required memo missing fails",
			tx:        exact,
			req:       ValidationRequest{Treasury: f.treasury, ExpectedLamports: 10_000_000, ExpectedMemo: "nftgen:abc", RequireMemo: true},
			wantErr:   ErrMemoMismatch,
			wantTotal: 10_000_000,
		},
		{
			name: "failed transaction is rejected",
			tx: func() *ParsedTransaction {
				tx := f.tx(Transfer{Destination: f.treasury, Lamports: 10_000_000})
				tx.Err = map[string]any{"InstructionError": []any{0, "Custom"}}
				return tx
			}(),
			req:       ValidationRequest{Treasury: f.treasury, ExpectedLamports: 10_000_000},
			wantErr:   ErrTxFailed,
			wantTotal: 10_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ValidatePayment(tt.tx, tt.req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if res != nil {
				assert.Equal(t, tt.wantTotal, res.TotalToTreasury)
			}
		})
	}
}

func TestValidatePayment_RequiredMemoPresent(t *testing.T) {
	f := newValidatorFixture(t)
	tx := f.tx(Transfer{Destination: f.treasury, Lamports: 20})
	tx.Memos = []string{"unrelated", "nftgen:abc"}

	res, err := ValidatePayment(tx, ValidationRequest{
		Treasury:         f.treasury,
		ExpectedLamports: 20,
		ExpectedMemo:     "nftgen:abc",
		RequireMemo:      true,
	})
	require.NoError(t, err)
	assert.False(t, res.UsedBalanceFallback)
}

func TestValidatePayment_ReportsFallback(t *testing.T) {
	f := newValidatorFixture(t)
	tx := f.tx()
	tx.PreBalances = []uint64{100, 0, 1}
	tx.PostBalances = []uint64{50, 40, 1}

	res, err := ValidatePayment(tx, ValidationRequest{Treasury: f.treasury, ExpectedLamports: 40})
	require.NoError(t, err)
	assert.True(t, res.UsedBalanceFallback)
	assert.Equal(t, uint64(40), res.TotalToTreasury)
}
