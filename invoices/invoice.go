package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrInvoiceNotFound is returned when no invoice exists for a payment
	// hash.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvoiceNotOpen is returned when an invoice that was already
	// settled or cancelled is modified.
	ErrInvoiceNotOpen = errors.New("invoice not open")

	// ErrInvalidInvoice is returned for an invoice request that can't be
	// served, for example one without an amount.
	ErrInvalidInvoice = errors.New("invalid invoice")
)

// State is the state of an invoice.
type State uint8

const (
	// StateOpen is the state of an invoice that accepts HTLCs.
	StateOpen State = iota

	// StateSettled is the state of a paid invoice.
	StateSettled

	// StateCancelled is the state of an invoice that was cancelled or
	// expired before it was paid.
	StateCancelled
)

// String returns a human readable state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSettled:
		return "settled"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Invoice is a request for an inbound payment.
type Invoice struct {
	// Hash is the payment hash.
	Hash lntypes.Hash

	// Preimage is the secret that settles the payment.
	Preimage lntypes.Preimage

	// Amount is the requested amount in units of Chroma.
	Amount uint64

	// Chroma is the requested asset. chroma.None requests the base
	// currency.
	Chroma chroma.Chroma

	// State is the state of the invoice.
	State State

	// AmountPaid is the total amount of the HTLCs that settled the
	// invoice.
	AmountPaid uint64

	// CreatedAt is the time the invoice was created.
	CreatedAt time.Time

	// ExpiresAt is the time after which the invoice isn't accepted
	// anymore.
	ExpiresAt time.Time

	// SettledAt is the time the invoice was settled or cancelled.
	SettledAt time.Time
}

// Expired returns true if the invoice can't be paid anymore at the given
// time.
func (i *Invoice) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Copy returns a copy of the invoice.
func (i *Invoice) Copy() *Invoice {
	c := *i
	return &c
}

// Store persists invoices.
type Store interface {
	// AddInvoice stores a new invoice.
	AddInvoice(ctx context.Context, inv *Invoice) error

	// UpdateInvoice stores the state of an existing invoice.
	UpdateInvoice(ctx context.Context, inv *Invoice) error

	// FetchInvoices returns every stored invoice.
	FetchInvoices(ctx context.Context) ([]*Invoice, error)
}

// ChainBridge gives access to the best known block height.
type ChainBridge interface {
	// CurrentHeight returns the current height of the main chain.
	CurrentHeight(ctx context.Context) (uint32, error)
}
