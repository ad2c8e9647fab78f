package payments

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/lightningnetwork/lnd/lntypes"
)

// MockChain is a ChainBridge whose height is moved by the test.
type MockChain struct {
	sync.Mutex

	height uint32
	subs   []chan int32
	errs   []chan error
}

// NewMockChain creates a mock chain at the given height.
func NewMockChain(height uint32) *MockChain {
	return &MockChain{height: height}
}

// CurrentHeight returns the current height.
func (m *MockChain) CurrentHeight(context.Context) (uint32, error) {
	m.Lock()
	defer m.Unlock()

	return m.height, nil
}

// RegisterBlockEpochNtfn returns a channel that receives every new height.
func (m *MockChain) RegisterBlockEpochNtfn(
	context.Context) (chan int32, chan error, error) {

	m.Lock()
	defer m.Unlock()

	c := make(chan int32, 100)
	errChan := make(chan error, 1)
	m.subs = append(m.subs, c)
	m.errs = append(m.errs, errChan)

	return c, errChan, nil
}

// FailSubscriptions hands the error to every block subscription.
func (m *MockChain) FailSubscriptions(err error) {
	m.Lock()
	defer m.Unlock()

	for _, c := range m.errs {
		select {
		case c <- err:
		default:
		}
	}
}

// MineTo moves the chain to the given height and notifies every subscriber.
func (m *MockChain) MineTo(height uint32) {
	m.Lock()
	defer m.Unlock()

	m.height = height
	for _, c := range m.subs {
		select {
		case c <- int32(height):
		default:
		}
	}
}

// MockSigner signs by copying the digest.
type MockSigner struct {
	sync.Mutex

	// Signed counts the signed digests.
	Signed int

	// FailWith is returned from SignCommitment if set.
	FailWith error
}

// SignCommitment returns the digest as signature.
func (m *MockSigner) SignCommitment(_ context.Context,
	digest [32]byte) ([]byte, error) {

	m.Lock()
	defer m.Unlock()

	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.Signed++

	return append([]byte{0x30}, digest[:]...), nil
}

// MockStore is an in-memory Store.
type MockStore struct {
	sync.Mutex

	payments map[lntypes.Hash]*Payment
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		payments: make(map[lntypes.Hash]*Payment),
	}
}

// InsertPayment stores a new payment.
func (m *MockStore) InsertPayment(_ context.Context, p *Payment) error {
	m.Lock()
	defer m.Unlock()

	stored, ok := m.payments[p.Hash]
	if ok && stored.Status == StatusSucceeded {
		return fmt.Errorf("payment %v already succeeded", p.Hash)
	}
	m.payments[p.Hash] = p.copy()

	return nil
}

// UpdatePayment replaces the status of a payment.
func (m *MockStore) UpdatePayment(_ context.Context, p *Payment) error {
	m.Lock()
	defer m.Unlock()

	stored, ok := m.payments[p.Hash]
	if !ok {
		return fmt.Errorf("payment %v not found", p.Hash)
	}
	stored.Status = p.Status
	stored.Preimage = p.Preimage
	stored.Fulfilled = p.Fulfilled
	stored.ResolvedAt = p.ResolvedAt

	return nil
}

// UpsertShard stores the state of a shard.
func (m *MockStore) UpsertShard(_ context.Context, hash lntypes.Hash,
	shard *ShardResult) error {

	m.Lock()
	defer m.Unlock()

	stored, ok := m.payments[hash]
	if !ok {
		return fmt.Errorf("payment %v not found", hash)
	}

	cp := *shard
	cp.Path = nil
	for i, s := range stored.Shards {
		if s.ShardID == shard.ShardID {
			stored.Shards[i] = &cp
			return nil
		}
	}
	stored.Shards = append(stored.Shards, &cp)

	return nil
}

// FetchPayments returns copies of every payment, newest first.
func (m *MockStore) FetchPayments(context.Context) ([]*Payment, error) {
	m.Lock()
	defer m.Unlock()

	payments := make([]*Payment, 0, len(m.payments))
	for _, p := range m.payments {
		payments = append(payments, p.copy())
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})

	return payments, nil
}

// MockDecoder decodes payment requests from a fixed table.
type MockDecoder struct {
	Invoices map[string]*Invoice
}

// DecodeInvoice returns the invoice registered for the request.
func (m *MockDecoder) DecodeInvoice(_ context.Context, payReq string,
	pixel *chroma.Pixel) (*Invoice, error) {

	inv, ok := m.Invoices[payReq]
	if !ok {
		return nil, fmt.Errorf("unknown payment request %q", payReq)
	}

	cp := *inv
	if pixel != nil {
		cp.Amount = pixel.Luma
		cp.Chroma = pixel.Chroma
	}

	return &cp, nil
}

var (
	_ ChainBridge    = (*MockChain)(nil)
	_ Signer         = (*MockSigner)(nil)
	_ Store          = (*MockStore)(nil)
	_ InvoiceDecoder = (*MockDecoder)(nil)
)
