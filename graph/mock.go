package graph

import (
	"context"
	"sync"
)

// MockPolicyStore is an in-memory PolicyStore.
type MockPolicyStore struct {
	sync.Mutex

	policies map[policyKey]*ChannelUpdate
}

// NewMockPolicyStore creates an empty mock policy store.
func NewMockPolicyStore() *MockPolicyStore {
	return &MockPolicyStore{
		policies: make(map[policyKey]*ChannelUpdate),
	}
}

// UpsertPolicy stores a copy of the update.
func (m *MockPolicyStore) UpsertPolicy(_ context.Context,
	update *ChannelUpdate) error {

	m.Lock()
	defer m.Unlock()

	cpy := *update
	m.policies[keyOf(update)] = &cpy

	return nil
}

// FetchPolicies returns every stored update.
func (m *MockPolicyStore) FetchPolicies(
	_ context.Context) ([]*ChannelUpdate, error) {

	m.Lock()
	defer m.Unlock()

	updates := make([]*ChannelUpdate, 0, len(m.policies))
	for _, u := range m.policies {
		cpy := *u
		updates = append(updates, &cpy)
	}

	return updates, nil
}

var _ PolicyStore = (*MockPolicyStore)(nil)
