package yuvdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/yuvdb/sqlc"
	"github.com/lightningnetwork/lnd/lntypes"
)

type (
	// InvoiceRow is a stored invoice.
	InvoiceRow = sqlc.Invoice

	// NewInvoice is the set of params to insert an invoice.
	NewInvoice = sqlc.InsertInvoiceParams

	// InvoiceUpdate is the set of params to update the state of an
	// invoice.
	InvoiceUpdate = sqlc.UpdateInvoiceParams
)

// InvoiceQueries is the set of queries the invoice store needs.
type InvoiceQueries interface {
	// InsertInvoice inserts a new invoice and returns its primary key.
	InsertInvoice(ctx context.Context, arg NewInvoice) (int64, error)

	// UpdateInvoice updates the state of an invoice and returns its
	// primary key.
	UpdateInvoice(ctx context.Context, arg InvoiceUpdate) (int64, error)

	// FetchInvoices returns every invoice.
	FetchInvoices(ctx context.Context) ([]InvoiceRow, error)
}

// BatchedInvoiceQueries is a version of the InvoiceQueries that's capable of
// batched database operations.
type BatchedInvoiceQueries interface {
	InvoiceQueries

	BatchedTx[InvoiceQueries]
}

// InvoiceStore persists the invoices of the local node.
type InvoiceStore struct {
	db BatchedInvoiceQueries
}

// A compile-time assertion to make sure InvoiceStore satisfies the
// invoices.Store interface.
var _ invoices.Store = (*InvoiceStore)(nil)

// NewInvoiceStore creates a new invoice store.
func NewInvoiceStore(db BatchedInvoiceQueries) *InvoiceStore {
	return &InvoiceStore{
		db: db,
	}
}

// AddInvoice stores a new invoice.
func (i *InvoiceStore) AddInvoice(ctx context.Context,
	inv *invoices.Invoice) error {

	return i.db.ExecTx(ctx, WriteTx(), func(q InvoiceQueries) error {
		_, err := q.InsertInvoice(ctx, NewInvoice{
			PaymentHash: inv.Hash[:],
			Preimage:    inv.Preimage[:],
			Amount:      int64(inv.Amount),
			Chroma:      inv.Chroma.Bytes(),
			State:       int16(inv.State),
			AmountPaid:  int64(inv.AmountPaid),
			CreatedAt:   inv.CreatedAt.UTC(),
			ExpiresAt:   inv.ExpiresAt.UTC(),
			SettledAt:   sqlTime(inv.SettledAt),
		})
		if err != nil {
			return fmt.Errorf("unable to insert invoice %v: %w",
				inv.Hash, err)
		}

		return nil
	})
}

// UpdateInvoice stores the state of an existing invoice.
func (i *InvoiceStore) UpdateInvoice(ctx context.Context,
	inv *invoices.Invoice) error {

	return i.db.ExecTx(ctx, WriteTx(), func(q InvoiceQueries) error {
		_, err := q.UpdateInvoice(ctx, InvoiceUpdate{
			PaymentHash: inv.Hash[:],
			State:       int16(inv.State),
			AmountPaid:  int64(inv.AmountPaid),
			SettledAt:   sqlTime(inv.SettledAt),
		})
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %v", invoices.ErrInvoiceNotFound,
				inv.Hash)
		}

		return err
	})
}

// FetchInvoices returns every stored invoice.
func (i *InvoiceStore) FetchInvoices(
	ctx context.Context) ([]*invoices.Invoice, error) {

	var result []*invoices.Invoice
	err := i.db.ExecTx(ctx, ReadTx(), func(q InvoiceQueries) error {
		result = nil

		rows, err := q.FetchInvoices(ctx)
		if err != nil {
			return fmt.Errorf("unable to fetch invoices: %w", err)
		}

		for _, row := range rows {
			inv, err := parseInvoice(row)
			if err != nil {
				return err
			}
			result = append(result, inv)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func parseInvoice(row InvoiceRow) (*invoices.Invoice, error) {
	hash, err := lntypes.MakeHash(row.PaymentHash)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice hash: %w", err)
	}

	preimage, err := lntypes.MakePreimage(row.Preimage)
	if err != nil {
		return nil, fmt.Errorf("invalid preimage of invoice %v: %w",
			hash, err)
	}

	tag, err := chroma.FromBytes(row.Chroma)
	if err != nil {
		return nil, err
	}

	return &invoices.Invoice{
		Hash:       hash,
		Preimage:   preimage,
		Amount:     uint64(row.Amount),
		Chroma:     tag,
		State:      invoices.State(row.State),
		AmountPaid: uint64(row.AmountPaid),
		CreatedAt:  row.CreatedAt.UTC(),
		ExpiresAt:  row.ExpiresAt.UTC(),
		SettledAt:  extractSqlTime(row.SettledAt),
	}, nil
}
