package invoices

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
)

// MockStore is an in-memory invoice store.
type MockStore struct {
	sync.Mutex

	invoices map[lntypes.Hash]*Invoice
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		invoices: make(map[lntypes.Hash]*Invoice),
	}
}

// AddInvoice stores a new invoice.
func (m *MockStore) AddInvoice(_ context.Context, inv *Invoice) error {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.invoices[inv.Hash]; ok {
		return fmt.Errorf("invoice %v already exists", inv.Hash)
	}
	m.invoices[inv.Hash] = inv.Copy()

	return nil
}

// UpdateInvoice stores the state of an existing invoice.
func (m *MockStore) UpdateInvoice(_ context.Context, inv *Invoice) error {
	m.Lock()
	defer m.Unlock()

	if _, ok := m.invoices[inv.Hash]; !ok {
		return fmt.Errorf("%w: %v", ErrInvoiceNotFound, inv.Hash)
	}
	m.invoices[inv.Hash] = inv.Copy()

	return nil
}

// FetchInvoices returns every stored invoice.
func (m *MockStore) FetchInvoices(context.Context) ([]*Invoice, error) {
	m.Lock()
	defer m.Unlock()

	invoices := make([]*Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		invoices = append(invoices, inv.Copy())
	}

	return invoices, nil
}

// MockChain is a chain fixed at a height.
type MockChain struct {
	Height uint32
}

// CurrentHeight returns the fixed height.
func (m *MockChain) CurrentHeight(context.Context) (uint32, error) {
	return m.Height, nil
}

var _ Store = (*MockStore)(nil)
var _ ChainBridge = (*MockChain)(nil)
