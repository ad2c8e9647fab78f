package invoices

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// DefaultInvoiceExpiry is the expiry of invoices created without an
	// explicit one.
	DefaultInvoiceExpiry = time.Hour

	// DefaultTimeout is the default timeout of store operations.
	DefaultTimeout = 30 * time.Second
)

// RegistryConfig holds the collaborators of the registry.
type RegistryConfig struct {
	// Store persists the invoices.
	Store Store

	// Clock is the time source used for creation and expiry.
	Clock clock.Clock
}

// Registry keeps track of the invoices of the node. Every state change is
// published to the subscribers.
type Registry struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg *RegistryConfig

	mu       sync.RWMutex
	invoices map[lntypes.Hash]*Invoice

	subscribers *fn.Subscribers[*Invoice]

	*fn.ContextGuard
}

// A compile-time assertion to make sure Registry satisfies the
// fn.EventPublisher interface.
var _ fn.EventPublisher[*Invoice, State] = (*Registry)(nil)

// NewRegistry creates a new invoice registry.
func NewRegistry(cfg *RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Registry{
		cfg:         cfg,
		invoices:    make(map[lntypes.Hash]*Invoice),
		subscribers: fn.NewSubscribers[*Invoice](),
		ContextGuard: &fn.ContextGuard{
			DefaultTimeout: DefaultTimeout,
			Quit:           make(chan struct{}),
		},
	}
}

// Start loads the stored invoices.
func (r *Registry) Start() error {
	var startErr error
	r.startOnce.Do(func() {
		log.Info("Starting invoice registry")

		ctx, cancel := r.WithCtxQuit()
		defer cancel()

		invoices, err := r.cfg.Store.FetchInvoices(ctx)
		if err != nil {
			startErr = fmt.Errorf("unable to load invoices: %w", err)
			return
		}

		r.mu.Lock()
		for _, inv := range invoices {
			r.invoices[inv.Hash] = inv
		}
		r.mu.Unlock()

		log.Infof("Loaded %d invoices", len(invoices))
	})

	return startErr
}

// Stop stops the registry.
func (r *Registry) Stop() error {
	r.stopOnce.Do(func() {
		log.Info("Stopping invoice registry")

		close(r.Quit)

		r.subscribers.StopAll()
	})

	return nil
}

// AddInvoice creates an invoice for the given amount of the given asset with
// a fresh preimage. A zero expiry selects DefaultInvoiceExpiry.
func (r *Registry) AddInvoice(ctx context.Context, amount uint64,
	c chroma.Chroma, expiry time.Duration) (*Invoice, error) {

	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive",
			ErrInvalidInvoice)
	}
	if expiry == 0 {
		expiry = DefaultInvoiceExpiry
	}

	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, fmt.Errorf("unable to generate preimage: %w", err)
	}

	return r.add(ctx, preimage, amount, c, expiry)
}

// addKeysend creates the invoice of a spontaneous payment whose preimage was
// chosen by the sender.
func (r *Registry) addKeysend(ctx context.Context, preimage lntypes.Preimage,
	amount uint64, c chroma.Chroma) (*Invoice, error) {

	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive",
			ErrInvalidInvoice)
	}

	return r.add(ctx, preimage, amount, c, DefaultInvoiceExpiry)
}

// add stores and publishes a new open invoice.
func (r *Registry) add(ctx context.Context, preimage lntypes.Preimage,
	amount uint64, c chroma.Chroma, expiry time.Duration) (*Invoice,
	error) {

	now := r.cfg.Clock.Now()
	inv := &Invoice{
		Hash:      preimage.Hash(),
		Preimage:  preimage,
		Amount:    amount,
		Chroma:    c,
		State:     StateOpen,
		CreatedAt: now,
		ExpiresAt: now.Add(expiry),
	}

	r.mu.RLock()
	_, known := r.invoices[inv.Hash]
	r.mu.RUnlock()
	if known {
		return nil, fmt.Errorf("%w: duplicate payment hash %v",
			ErrInvalidInvoice, inv.Hash)
	}

	if err := r.cfg.Store.AddInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("unable to store invoice: %w", err)
	}

	r.mu.Lock()
	r.invoices[inv.Hash] = inv
	r.mu.Unlock()

	log.Infof("Added invoice %v for %d %v", inv.Hash, amount,
		c.Short())

	r.publish(inv.Copy())

	return inv.Copy(), nil
}

// LookupInvoice returns the invoice of a payment hash.
func (r *Registry) LookupInvoice(hash lntypes.Hash) (*Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invoices[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceNotFound, hash)
	}

	return inv.Copy(), nil
}

// ListInvoices returns every invoice, newest first.
func (r *Registry) ListInvoices() []*Invoice {
	r.mu.RLock()
	invoices := make([]*Invoice, 0, len(r.invoices))
	for _, inv := range r.invoices {
		invoices = append(invoices, inv.Copy())
	}
	r.mu.RUnlock()

	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})

	return invoices
}

// CancelInvoice cancels an open invoice. HTLCs arriving afterwards are
// rejected.
func (r *Registry) CancelInvoice(ctx context.Context,
	hash lntypes.Hash) error {

	_, err := r.resolve(ctx, hash, func(inv *Invoice) {
		inv.State = StateCancelled
	})

	return err
}

// settle marks an open invoice as paid with the given amount.
func (r *Registry) settle(ctx context.Context, hash lntypes.Hash,
	paid uint64) (*Invoice, error) {

	return r.resolve(ctx, hash, func(inv *Invoice) {
		inv.State = StateSettled
		inv.AmountPaid = paid
	})
}

// resolve moves an open invoice into a final state.
func (r *Registry) resolve(ctx context.Context, hash lntypes.Hash,
	f func(*Invoice)) (*Invoice, error) {

	r.mu.Lock()
	inv, ok := r.invoices[hash]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvoiceNotFound, hash)
	}
	if inv.State != StateOpen {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: invoice %v is %v",
			ErrInvoiceNotOpen, hash, inv.State)
	}

	next := inv.Copy()
	f(next)
	next.SettledAt = r.cfg.Clock.Now()

	if err := r.cfg.Store.UpdateInvoice(ctx, next); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("unable to update invoice: %w", err)
	}
	r.invoices[hash] = next
	r.mu.Unlock()

	log.Infof("Invoice %v is %v", hash, next.State)

	r.publish(next.Copy())

	return next.Copy(), nil
}

// RegisterSubscriber adds a new subscriber for invoice state changes. If
// deliverExisting is set, every invoice in the given state is replayed.
func (r *Registry) RegisterSubscriber(receiver *fn.EventReceiver[*Invoice],
	deliverExisting bool, deliverFrom State) error {

	if !deliverExisting {
		r.subscribers.Add(receiver, nil)
		return nil
	}

	r.subscribers.Add(receiver, func() []*Invoice {
		var backlog []*Invoice
		for _, inv := range r.ListInvoices() {
			if inv.State == deliverFrom {
				backlog = append(backlog, inv)
			}
		}

		return backlog
	})

	return nil
}

// RemoveSubscriber removes the given subscriber and also stops it from
// processing events.
func (r *Registry) RemoveSubscriber(
	subscriber *fn.EventReceiver[*Invoice]) error {

	return r.subscribers.Remove(subscriber)
}

// publish delivers an invoice update to every subscriber.
func (r *Registry) publish(inv *Invoice) {
	r.subscribers.Publish(inv)
}
