package htlcswitch

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/routing/route"
)

// MockNetwork is an in-memory transport connecting any number of nodes.
type MockNetwork struct {
	sync.Mutex

	inboxes map[route.Vertex]chan lndclient.CustomMessage

	// Duplicate makes every message be delivered twice.
	Duplicate bool

	// Sent records every sent message in order.
	Sent []lndclient.CustomMessage
}

// NewMockNetwork creates an empty mock network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		inboxes: make(map[route.Vertex]chan lndclient.CustomMessage),
	}
}

func (n *MockNetwork) inbox(node route.Vertex) chan lndclient.CustomMessage {
	n.Lock()
	defer n.Unlock()

	c, ok := n.inboxes[node]
	if !ok {
		c = make(chan lndclient.CustomMessage, 1024)
		n.inboxes[node] = c
	}

	return c
}

// Messenger returns the transport endpoint of a node.
func (n *MockNetwork) Messenger(node route.Vertex) *MockMessenger {
	return &MockMessenger{
		net:  n,
		self: node,
	}
}

// MockMessenger is the transport endpoint of one node of a MockNetwork.
type MockMessenger struct {
	net  *MockNetwork
	self route.Vertex
}

// SubscribeCustomMessages returns the inbox of the node.
func (m *MockMessenger) SubscribeCustomMessages(
	ctx context.Context) (<-chan lndclient.CustomMessage, <-chan error,
	error) {

	return m.net.inbox(m.self), make(chan error), nil
}

// SendCustomMessage puts the message into the inbox of the peer, marked as
// coming from this node.
func (m *MockMessenger) SendCustomMessage(ctx context.Context,
	msg lndclient.CustomMessage) error {

	if msg.Peer == m.self {
		return fmt.Errorf("cannot send to self")
	}

	inbox := m.net.inbox(msg.Peer)

	m.net.Lock()
	m.net.Sent = append(m.net.Sent, msg)
	copies := 1
	if m.net.Duplicate {
		copies = 2
	}
	m.net.Unlock()

	delivered := msg
	delivered.Peer = m.self
	for i := 0; i < copies; i++ {
		select {
		case inbox <- delivered:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

var _ PeerMessenger = (*MockMessenger)(nil)
