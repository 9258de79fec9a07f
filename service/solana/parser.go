package solana

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
)

// MemoProgramIDLegacy is the v1 memo program; wallets still emit it occasionally.
var MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")

// ParseTransaction converts a getTransaction result into a ParsedTransaction.
func ParseTransaction(signature string, result *rpc.GetTransactionResult) (*ParsedTransaction, error) {
	if result == nil || result.Transaction == nil {
		return nil, errors.New("empty transaction result")
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if tx == nil {
		return nil, errors.New("transaction envelope has no transaction")
	}

	parsed := parseDecoded(tx, result.Meta)
	parsed.Signature = signature
	parsed.Slot = result.Slot
	if result.BlockTime != nil {
		parsed.BlockTime = result.BlockTime.Time()
	}
	return parsed, nil
}

// parseDecoded walks the outer instructions of tx and every inner instruction
// group in meta, collecting native transfers and memos.
func parseDecoded(tx *solana.Transaction, meta *rpc.TransactionMeta) *ParsedTransaction {
	msg := tx.Message

	// Versioned transactions reference extra accounts through lookup tables.
	// The node returns them in meta as writable then readonly, appended after
	// the static keys, which is the order instruction indices refer to.
	keys := make([]solana.PublicKey, 0, len(msg.AccountKeys))
	keys = append(keys, msg.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	parsed := &ParsedTransaction{
		AccountKeys: keys,
		Signers:     msg.Signers(),
	}
	if len(msg.AccountKeys) > 0 {
		parsed.FeePayer = msg.AccountKeys[0]
	}

	for _, inst := range msg.Instructions {
		parsed.collect(keys, inst.ProgramIDIndex, inst.Accounts, inst.Data, false)
	}

	if meta != nil {
		for _, group := range meta.InnerInstructions {
			for _, inst := range group.Instructions {
				parsed.collect(keys, inst.ProgramIDIndex, inst.Accounts, inst.Data, true)
			}
		}
		parsed.PreBalances = meta.PreBalances
		parsed.PostBalances = meta.PostBalances
		parsed.Fee = meta.Fee
		parsed.Err = meta.Err
	}

	return parsed
}

func (p *ParsedTransaction) collect(keys []solana.PublicKey, programIndex uint16, accounts []uint16, data []byte, inner bool) {
	if int(programIndex) >= len(keys) {
		return
	}
	programID := keys[programIndex]

	switch {
	case programID.Equals(solana.SystemProgramID):
		if t, ok := parseSystemTransfer(keys, accounts, data); ok {
			t.Inner = inner
			p.Transfers = append(p.Transfers, t)
		}
	case programID.Equals(solana.MemoProgramID), programID.Equals(MemoProgramIDLegacy):
		if memo, ok := parseMemo(data); ok {
			p.Memos = append(p.Memos, memo)
		}
	}
}

// parseSystemTransfer decodes System Program Transfer and TransferWithSeed.
//
//	[0..4]  instruction index (u32 LE)
//	[4..12] lamports (u64 LE)
//
// Transfer accounts are [from, to]; TransferWithSeed accounts are [from, base, to].
func parseSystemTransfer(keys []solana.PublicKey, accounts []uint16, data []byte) (Transfer, bool) {
	if len(data) < 12 {
		return Transfer{}, false
	}

	var fromPos, toPos int
	switch binary.LittleEndian.Uint32(data[0:4]) {
	case system.Instruction_Transfer:
		fromPos, toPos = 0, 1
	case system.Instruction_TransferWithSeed:
		fromPos, toPos = 0, 2
	default:
		return Transfer{}, false
	}

	if len(accounts) <= toPos {
		return Transfer{}, false
	}
	from, to := int(accounts[fromPos]), int(accounts[toPos])
	if from >= len(keys) || to >= len(keys) {
		return Transfer{}, false
	}

	return Transfer{
		Source:      keys[from],
		Destination: keys[to],
		Lamports:    binary.LittleEndian.Uint64(data[4:12]),
	}, true
}

// parseMemo returns the memo text. Memo program data is raw UTF-8.
func parseMemo(data []byte) (string, bool) {
	if len(data) == 0 || !utf8.Valid(data) {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}
