// Package paymenttest provides in-memory collaborators for exercising the
// payment service without Postgres or a Solana node.
package paymenttest

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/mintpay/service/db"
	"github.com/brojonat/mintpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory payment store with the same conditional
// update rules as the Postgres implementation.
type MemoryStore struct {
	mu              sync.Mutex
	payments        map[uuid.UUID]*db.Payment
	collections     map[string]string
	collectionMints map[string]string
	mints           []db.RecordMintParams
	minted          []*db.Mint
	createErr       error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:        make(map[uuid.UUID]*db.Payment),
		collections:     make(map[string]string),
		collectionMints: make(map[string]string),
	}
}

func (m *MemoryStore) CreatePayment(ctx context.Context, params db.CreatePaymentParams) (*db.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now()
	p := &db.Payment{
		ID:           id,
		Wallet:       params.Wallet,
		Lamports:     params.Lamports,
		Count:        params.Count,
		Model:        params.Model,
		Reference:    params.Reference,
		Memo:         params.Memo,
		CollectionID: params.CollectionID,
		Status:       db.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.payments[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id uuid.UUID) (*db.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPaymentBySignature(ctx context.Context, signature string) (*db.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.bySignature(signature); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, db.ErrNotFound
}

func (m *MemoryStore) bySignature(signature string) *db.Payment {
	for _, p := range m.payments {
		if p.TxSignature != nil && *p.TxSignature == signature {
			return p
		}
	}
	return nil
}

func (m *MemoryStore) ListPayments(ctx context.Context, params db.ListPaymentsParams) ([]*db.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.Payment
	for _, p := range m.payments {
		if (params.Wallet == "" || p.Wallet == params.Wallet) && (params.Status == "" || p.Status == params.Status) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) AttachSignature(ctx context.Context, id uuid.UUID, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if other := m.bySignature(signature); other != nil && other.ID != id {
		return false, db.ErrSignatureInUse
	}
	p, ok := m.payments[id]
	if !ok || p.Status != db.StatusPending {
		return false, nil
	}
	if p.TxSignature != nil && *p.TxSignature != signature {
		return false, nil
	}
	p.TxSignature = &signature
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ConfirmPaymentIfPending(ctx context.Context, id uuid.UUID, signature string) (*db.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, false, db.ErrNotFound
	}
	if p.Status != db.StatusPending {
		cp := *p
		return &cp, false, nil
	}
	if other := m.bySignature(signature); other != nil && other.ID != id {
		return nil, false, db.ErrSignatureInUse
	}
	now := time.Now()
	p.Status = db.StatusConfirmed
	p.TxSignature = &signature
	p.ConfirmedAt = &now
	p.UpdatedAt = now
	cp := *p
	return &cp, true, nil
}

func (m *MemoryStore) FailPaymentIfPending(ctx context.Context, id uuid.UUID, signature, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != db.StatusPending {
		return false, nil
	}
	p.Status = db.StatusFailed
	p.FailureReason = &reason
	if p.TxSignature == nil {
		p.TxSignature = &signature
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkCollectionPaid(ctx context.Context, collectionID, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collectionID] = signature
	return nil
}

func (m *MemoryStore) RecordMint(ctx context.Context, params db.RecordMintParams) (*db.Mint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mints = append(m.mints, params)
	mint := &db.Mint{
		ID:           uuid.New(),
		CollectionID: params.CollectionID,
		MinterWallet: params.MinterWallet,
		MintAddress:  params.MintAddress,
		MetadataURI:  params.MetadataURI,
		Name:         params.Name,
		Symbol:       params.Symbol,
		CreatedAt:    time.Now(),
	}
	m.minted = append(m.minted, mint)
	cp := *mint
	return &cp, nil
}

func (m *MemoryStore) SetCollectionMint(ctx context.Context, collectionID, mintAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectionMints[collectionID] = mintAddress
	return nil
}

func (m *MemoryStore) ListMintsByWallet(ctx context.Context, wallet string, limit int32) ([]*db.Mint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.Mint
	for i := len(m.minted) - 1; i >= 0 && (limit <= 0 || int32(len(out)) < limit); i-- {
		if m.minted[i].MinterWallet == wallet {
			cp := *m.minted[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Payment returns a copy of the stored payment, or the zero value.
func (m *MemoryStore) Payment(id uuid.UUID) db.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[id]; ok {
		return *p
	}
	return db.Payment{}
}

// Len returns the number of stored payments.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

// CollectionSignature returns the signature that paid collectionID.
func (m *MemoryStore) CollectionSignature(collectionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collections[collectionID]
}

// CollectionMint returns the mint address recorded for collectionID.
func (m *MemoryStore) CollectionMint(collectionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectionMints[collectionID]
}

// Mints returns the recorded mints.
func (m *MemoryStore) Mints() []db.RecordMintParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.RecordMintParams(nil), m.mints...)
}

// SetCreateError makes CreatePayment return err.
func (m *MemoryStore) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// Chain serves signature statuses and parsed transactions registered with
// Put. It also implements the confirmer: Await resolves from the registered
// status at once and reports a timeout for signatures it has never seen.
type Chain struct {
	mu        sync.Mutex
	statuses  map[string]*solana.SignatureStatus
	txs       map[string]*solana.ParsedTransaction
	statusErr error
	fetchErr  error
	awaits    int
}

// NewChain creates an empty Chain.
func NewChain() *Chain {
	return &Chain{
		statuses: make(map[string]*solana.SignatureStatus),
		txs:      make(map[string]*solana.ParsedTransaction),
	}
}

// Put registers a landed transaction at the given commitment. A nil tx
// registers only the status.
func (c *Chain) Put(sig solanago.Signature, commitment solana.Commitment, tx *solana.ParsedTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := &solana.SignatureStatus{Signature: sig.String(), Slot: 100, ConfirmationStatus: commitment}
	if tx != nil {
		status.Err = tx.Err
		tx.Signature = sig.String()
		c.txs[sig.String()] = tx
	}
	c.statuses[sig.String()] = status
}

// SetStatusError makes SignatureStatus fail.
func (c *Chain) SetStatusError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusErr = err
}

// SetFetchError makes FetchTransaction fail.
func (c *Chain) SetFetchError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

// Awaits returns how many times Await was called.
func (c *Chain) Awaits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaits
}

func (c *Chain) SignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusErr != nil {
		return nil, c.statusErr
	}
	return c.statuses[sig.String()], nil
}

func (c *Chain) FetchTransaction(ctx context.Context, sig solanago.Signature) (*solana.ParsedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	tx, ok := c.txs[sig.String()]
	if !ok {
		return nil, solana.ErrTxNotFound
	}
	return tx, nil
}

func (c *Chain) Await(ctx context.Context, sig solanago.Signature, caller string) solana.ConfirmationResult {
	c.mu.Lock()
	c.awaits++
	status := c.statuses[sig.String()]
	c.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		return solana.ConfirmationResult{State: solana.StateTimedOut, LastErr: ctx.Err()}
	case status == nil:
		return solana.ConfirmationResult{State: solana.StateTimedOut, Ticks: 25}
	case status.Err != nil:
		return solana.ConfirmationResult{State: solana.StateFailed, Status: status, Ticks: 1}
	case status.ConfirmationStatus == solana.CommitmentFinalized:
		return solana.ConfirmationResult{State: solana.StateFinalized, Status: status, Ticks: 1}
	case status.ConfirmationStatus == solana.CommitmentConfirmed:
		return solana.ConfirmationResult{State: solana.StateConfirmed, Status: status, Ticks: 1}
	}
	return solana.ConfirmationResult{State: solana.StateTimedOut, Status: status, Ticks: 25}
}

// Builder records build requests and returns placeholder transactions.
type Builder struct {
	mu        sync.Mutex
	transfers []solana.TransferParams
	mints     []solana.MintParams
	err       error
}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) BuildTransfer(ctx context.Context, p solana.TransferParams) (*solana.UnsignedTransaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.transfers = append(b.transfers, p)
	return &solana.UnsignedTransaction{TxBase64: "dHJhbnNmZXI=", Blockhash: "blockhash", LastValidBlockHeight: 9}, nil
}

func (b *Builder) BuildMint(ctx context.Context, p solana.MintParams) (*solana.MintTransaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.mints = append(b.mints, p)
	return &solana.MintTransaction{
		UnsignedTransaction: solana.UnsignedTransaction{TxBase64: "bWludA==", Blockhash: "blockhash", LastValidBlockHeight: 9},
		MintAddress:         solanago.NewWallet().PublicKey(),
		TokenAccount:        solanago.NewWallet().PublicKey(),
	}, nil
}

// SetError makes both builds fail.
func (b *Builder) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Transfers returns the recorded transfer requests.
func (b *Builder) Transfers() []solana.TransferParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]solana.TransferParams(nil), b.transfers...)
}

// Mints returns the recorded mint requests.
func (b *Builder) Mints() []solana.MintParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]solana.MintParams(nil), b.mints...)
}

// RandomSignature returns a signature no node has seen.
func RandomSignature() solanago.Signature {
	var sig solanago.Signature
	copy(sig[:], solanago.NewWallet().PrivateKey[:64])
	return sig
}

// PaymentTx builds a parsed transaction signed by payer that sends each
// amount to treasury.
func PaymentTx(payer, treasury solanago.PublicKey, memo string, amounts ...uint64) *solana.ParsedTransaction {
	tx := &solana.ParsedTransaction{
		FeePayer:    payer,
		Signers:     []solanago.PublicKey{payer},
		AccountKeys: []solanago.PublicKey{payer, treasury, solanago.SystemProgramID},
	}
	for _, a := range amounts {
		tx.Transfers = append(tx.Transfers, solana.Transfer{Source: payer, Destination: treasury, Lamports: a})
	}
	if memo != "" {
		tx.Memos = []string{memo}
	}
	return tx
}
