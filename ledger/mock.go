package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/lnwire"
)

// MockStore is an in-memory Store.
type MockStore struct {
	sync.Mutex

	channels map[lnwire.ShortChannelID]*ChannelState

	// Writes counts the calls to UpsertChannel.
	Writes int

	// FailWith is returned from UpsertChannel if set.
	FailWith error
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		channels: make(map[lnwire.ShortChannelID]*ChannelState),
	}
}

// UpsertChannel stores a copy of the channel state.
func (m *MockStore) UpsertChannel(_ context.Context,
	state *ChannelState) error {

	m.Lock()
	defer m.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}

	m.Writes++
	m.channels[state.ChannelID] = state.Copy()

	return nil
}

// FetchChannels returns copies of every stored channel.
func (m *MockStore) FetchChannels(_ context.Context) ([]*ChannelState,
	error) {

	m.Lock()
	defer m.Unlock()

	states := make([]*ChannelState, 0, len(m.channels))
	for _, state := range m.channels {
		states = append(states, state.Copy())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ChannelID.ToUint64() <
			states[j].ChannelID.ToUint64()
	})

	return states, nil
}

var _ Store = (*MockStore)(nil)
