package solana

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Commitment is how durably the cluster has accepted a transaction.
// The zero value means the node has no status for the signature yet.
type Commitment string

const (
	CommitmentNone      Commitment = ""
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// rank orders commitment levels: none < processed < confirmed < finalized.
func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether c is as durable as target.
func (c Commitment) AtLeast(target Commitment) bool {
	return c.rank() >= target.rank() && c.rank() > 0
}

func commitmentFromRPC(s rpc.ConfirmationStatusType) Commitment {
	switch s {
	case rpc.ConfirmationStatusProcessed:
		return CommitmentProcessed
	case rpc.ConfirmationStatusConfirmed:
		return CommitmentConfirmed
	case rpc.ConfirmationStatusFinalized:
		return CommitmentFinalized
	default:
		return CommitmentNone
	}
}

// SignatureStatus is the node's view of one signature at one instant.
type SignatureStatus struct {
	Signature          string
	Slot               uint64
	Confirmations      *uint64
	ConfirmationStatus Commitment
	Err                any // on-chain error payload, nil on success
}

// Transfer is one native SOL movement found in a transaction, either in a
// top-level instruction or in an inner instruction invoked by a program.
type Transfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Lamports    uint64
	Inner       bool
}

// ParsedTransaction is our domain view of a fetched transaction.
// It is independent of the RPC response encoding.
type ParsedTransaction struct {
	Signature    string
	Slot         uint64
	BlockTime    time.Time
	FeePayer     solana.PublicKey
	Signers      []solana.PublicKey
	AccountKeys  []solana.PublicKey // static keys followed by loaded writable then readonly keys
	Transfers    []Transfer
	Memos        []string
	PreBalances  []uint64
	PostBalances []uint64
	Fee          uint64
	Err          any
}

// IsSigner reports whether key signed the transaction.
func (p *ParsedTransaction) IsSigner(key solana.PublicKey) bool {
	for _, s := range p.Signers {
		if s.Equals(key) {
			return true
		}
	}
	return false
}

// HasMemo reports whether one of the memo instructions carries exactly memo.
func (p *ParsedTransaction) HasMemo(memo string) bool {
	for _, m := range p.Memos {
		if m == memo {
			return true
		}
	}
	return false
}

// UnsignedTransaction is a serialized transaction waiting for the wallet's signature.
type UnsignedTransaction struct {
	TxBase64             string
	Blockhash            string
	LastValidBlockHeight uint64
}
