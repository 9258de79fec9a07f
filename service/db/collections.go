package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Collection is the payment and mint state this service tracks for a collection.
type Collection struct {
	ID                 string
	PaymentConfirmed   bool
	PaymentTxSignature *string
	MintAddress        *string
	UpdatedAt          time.Time
}

// MarkCollectionPaid flags a collection as paid by signature. The row is
// created if the generation side has not written it yet.
func (s *Store) MarkCollectionPaid(ctx context.Context, collectionID, signature string) error {
	const query = `INSERT INTO collections (id, payment_confirmed, payment_tx_signature)
		VALUES ($1, true, $2)
		ON CONFLICT (id) DO UPDATE
		SET payment_confirmed = true, payment_tx_signature = EXCLUDED.payment_tx_signature, updated_at = now()`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query, collectionID, signature)
	s.observe("mark_paid", "collections", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark collection paid: %w", err)
	}
	return nil
}

// SetCollectionMint records the mint address created for a collection.
func (s *Store) SetCollectionMint(ctx context.Context, collectionID, mintAddress string) error {
	const query = `INSERT INTO collections (id, mint_address)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET mint_address = EXCLUDED.mint_address, updated_at = now()`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query, collectionID, mintAddress)
	s.observe("set_mint", "collections", start, err)
	if err != nil {
		return fmt.Errorf("failed to set collection mint: %w", err)
	}
	return nil
}

// GetCollection returns ErrNotFound for unknown collections.
func (s *Store) GetCollection(ctx context.Context, id string) (*Collection, error) {
	const query = `SELECT id, payment_confirmed, payment_tx_signature, mint_address, updated_at
		FROM collections WHERE id = $1`

	var (
		c         Collection
		sig, mint pgtype.Text
	)
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.PaymentConfirmed, &sig, &mint, &c.UpdatedAt)
	s.observe("get", "collections", start, err)
	if err != nil {
		return nil, notFound(err)
	}
	c.PaymentTxSignature = stringPtrFromPgtext(sig)
	c.MintAddress = stringPtrFromPgtext(mint)
	return &c, nil
}

// Mint records one composed mint transaction.
type Mint struct {
	ID           uuid.UUID
	CollectionID *string
	MinterWallet string
	MintAddress  string
	MetadataURI  string
	Name         string
	Symbol       string
	CreatedAt    time.Time
}

// RecordMintParams contains the parameters for RecordMint.
type RecordMintParams struct {
	CollectionID *string
	MinterWallet string
	MintAddress  string
	MetadataURI  string
	Name         string
	Symbol       string
}

const mintColumns = `id, collection_id, minter_wallet, mint_address, metadata_uri, name, symbol, created_at`

// RecordMint stores a mint the service composed. When CollectionID is set the
// collection's mint address is updated in the same transaction.
func (s *Store) RecordMint(ctx context.Context, params RecordMintParams) (*Mint, error) {
	const query = `INSERT INTO mints (id, collection_id, minter_wallet, mint_address, metadata_uri, name, symbol)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + mintColumns

	start := time.Now()
	m, err := scanMint(s.pool.QueryRow(ctx, query,
		uuid.New(),
		pgtextFromStringPtr(params.CollectionID),
		params.MinterWallet,
		params.MintAddress,
		params.MetadataURI,
		params.Name,
		params.Symbol,
	))
	s.observe("record", "mints", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to record mint: %w", err)
	}
	return m, nil
}

// ListMintsByWallet returns a wallet's mints newest first.
func (s *Store) ListMintsByWallet(ctx context.Context, wallet string, limit int32) ([]*Mint, error) {
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT `+mintColumns+` FROM mints
		WHERE minter_wallet = $1 ORDER BY created_at DESC LIMIT $2`, wallet, limit)
	if err != nil {
		s.observe("list", "mints", start, err)
		return nil, fmt.Errorf("failed to list mints: %w", err)
	}
	mints, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Mint, error) {
		return scanMint(row)
	})
	s.observe("list", "mints", start, err)
	return mints, err
}

func scanMint(row pgx.Row) (*Mint, error) {
	var (
		m            Mint
		collectionID pgtype.Text
	)
	if err := row.Scan(&m.ID, &collectionID, &m.MinterWallet, &m.MintAddress, &m.MetadataURI, &m.Name, &m.Symbol, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CollectionID = stringPtrFromPgtext(collectionID)
	return &m, nil
}
