package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/pathfind"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout    = 10 * time.Second
	testCarrier    = 354
	testBaseAmount = 100_000
	startHeight    = 1000
	finalDelta     = 40
)

var (
	alice = route.Vertex{0x02, 0x01}
	bob   = route.Vertex{0x02, 0x02}
	carol = route.Vertex{0x02, 0x03}
	dan   = route.Vertex{0x02, 0x04}

	assetX = chroma.Chroma{0xaa}

	testPolicy = graph.Policy{
		BaseFee:     1,
		ExpiryDelta: 10,
	}
)

func scid(n uint32) lnwire.ShortChannelID {
	return lnwire.ShortChannelID{BlockHeight: 100, TxIndex: n}
}

// testChannel is an open channel whose funds are all on the side of a.
type testChannel struct {
	id    uint32
	a, b  route.Vertex
	asset uint64
}

// destMode selects how a scripted destination resolves HTLCs.
type destMode uint8

const (
	// holdUntilTotal fulfills every shard once the total amount arrived.
	holdUntilTotal destMode = iota

	// fulfillEach fulfills every shard as soon as it is committed.
	fulfillEach

	// silent never resolves any shard.
	silent
)

// testNode is a scripted remote node.
type testNode struct {
	t      *testing.T
	vertex route.Vertex
	box    *htlcswitch.Mailbox

	mu        sync.Mutex
	mode      destMode
	reject    fn.Set[lnwire.ShortChannelID]
	reneged   fn.Set[lnwire.ShortChannelID]
	gates     map[lnwire.ShortChannelID]chan struct{}
	preimages map[lntypes.Hash]lntypes.Preimage
	adds      map[htlcswitch.CircuitKey]*htlcswitch.AddHTLC
	held      map[lntypes.Hash][]htlcswitch.CircuitKey
	heldAmt   map[lntypes.Hash]uint64
	received  []htlcswitch.Message
}

func newTestNode(t *testing.T, net *htlcswitch.MockNetwork,
	vertex route.Vertex) *testNode {

	n := &testNode{
		t:         t,
		vertex:    vertex,
		reject:    fn.NewSet[lnwire.ShortChannelID](),
		reneged:   fn.NewSet[lnwire.ShortChannelID](),
		gates:     make(map[lnwire.ShortChannelID]chan struct{}),
		preimages: make(map[lntypes.Hash]lntypes.Preimage),
		adds:      make(map[htlcswitch.CircuitKey]*htlcswitch.AddHTLC),
		held:      make(map[lntypes.Hash][]htlcswitch.CircuitKey),
		heldAmt:   make(map[lntypes.Hash]uint64),
	}

	n.box = htlcswitch.NewMailbox(&htlcswitch.MailboxConfig{
		Messenger: net.Messenger(vertex),
	})
	for _, msgType := range []lnwire.MessageType{
		htlcswitch.MsgTypeAddHTLC, htlcswitch.MsgTypeCommitHTLC,
		htlcswitch.MsgTypeFulfillHTLC, htlcswitch.MsgTypeFailHTLC,
	} {

		n.box.RegisterHandler(msgType, n.handle)
	}
	require.NoError(t, n.box.Start())
	t.Cleanup(func() {
		require.NoError(t, n.box.Stop())
	})

	return n
}

func (n *testNode) handle(msg htlcswitch.PeerMessage) {
	n.mu.Lock()

	n.received = append(n.received, msg.Msg)

	var (
		replies []htlcswitch.Message
		gate    chan struct{}
	)
	switch m := msg.Msg.(type) {
	case *htlcswitch.AddHTLC:
		n.adds[m.CircuitKey] = m
		gate = n.gates[m.ChannelID]

		if m.KeysendPreimage != nil {
			n.preimages[m.Hash] = *m.KeysendPreimage
		}

		if n.reject.Contains(m.ChannelID) {
			replies = append(replies, &htlcswitch.FailHTLC{
				CircuitKey: m.CircuitKey,
				Code:       htlcswitch.CodeTemporaryChannelFailure,
				Reason:     []byte("no liquidity"),
			})
			break
		}

		replies = append(replies, &htlcswitch.AckHTLC{
			CircuitKey: m.CircuitKey,
		})

	case *htlcswitch.CommitHTLC:
		add := n.adds[m.CircuitKey]
		preimage, ok := n.preimages[m.Hash]
		if add == nil || !ok {
			break
		}

		// A reneging node fails the HTLC and then fulfills it anyway.
		if n.reneged.Contains(add.ChannelID) {
			replies = append(replies,
				&htlcswitch.FailHTLC{
					CircuitKey: m.CircuitKey,
					Code:       htlcswitch.CodeIncorrectAmount,
				},
				&htlcswitch.FulfillHTLC{
					CircuitKey: m.CircuitKey,
					Preimage:   preimage,
				},
			)
			break
		}

		switch n.mode {
		case fulfillEach:
			replies = append(replies, &htlcswitch.FulfillHTLC{
				CircuitKey: m.CircuitKey,
				Preimage:   preimage,
			})

		case holdUntilTotal:
			n.held[m.Hash] = append(n.held[m.Hash], m.CircuitKey)
			n.heldAmt[m.Hash] += add.Amount
			if n.heldAmt[m.Hash] < add.TotalAmount {
				break
			}

			for _, key := range n.held[m.Hash] {
				replies = append(replies,
					&htlcswitch.FulfillHTLC{
						CircuitKey: key,
						Preimage:   preimage,
					},
				)
			}
			delete(n.held, m.Hash)
		}
	}

	n.mu.Unlock()

	// Replies about a gated channel wait until the test opens the gate.
	if gate != nil {
		<-gate
	}

	for _, reply := range replies {
		err := n.box.Send(context.Background(), htlcswitch.PeerMessage{
			Peer: msg.Peer,
			Msg:  reply,
		})
		if err != nil {
			n.t.Errorf("unable to reply: %v", err)
		}
	}
}

// count returns the number of received messages of the given type.
func (n *testNode) count(msgType lnwire.MessageType) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	var count int
	for _, msg := range n.received {
		if msg.MsgType() == msgType {
			count++
		}
	}

	return count
}

// addsOf returns the received AddHTLCs of a channel.
func (n *testNode) addsOf(chanID lnwire.ShortChannelID) []*htlcswitch.AddHTLC {
	n.mu.Lock()
	defer n.mu.Unlock()

	var adds []*htlcswitch.AddHTLC
	for _, add := range n.adds {
		if add.ChannelID == chanID {
			adds = append(adds, add)
		}
	}

	return adds
}

// send sends a message from the node to alice.
func (n *testNode) send(msg htlcswitch.Message) {
	err := n.box.Send(context.Background(), htlcswitch.PeerMessage{
		Peer: alice,
		Msg:  msg,
	})
	require.NoError(n.t, err)
}

// failCodes returns the codes of every received failure.
func (n *testNode) failCodes() []htlcswitch.FailCode {
	n.mu.Lock()
	defer n.mu.Unlock()

	var codes []htlcswitch.FailCode
	for _, msg := range n.received {
		if fail, ok := msg.(*htlcswitch.FailHTLC); ok {
			codes = append(codes, fail.Code)
		}
	}

	return codes
}

type testEnv struct {
	t      *testing.T
	net    *htlcswitch.MockNetwork
	chain  *MockChain
	signer *MockSigner
	store  *MockStore
	ledger *ledger.Ledger
	coord  *Coordinator
	nodes  map[route.Vertex]*testNode
}

func newTestEnv(t *testing.T, channels []testChannel,
	modify func(*Config)) *testEnv {

	t.Helper()

	ctx := context.Background()
	l := ledger.New(&ledger.Config{})
	for _, ch := range channels {
		state := ledger.NewChannelState(
			scid(ch.id), wire.OutPoint{Index: ch.id}, ch.a, ch.b,
			map[chroma.Chroma][2]uint64{
				chroma.None: {testBaseAmount, 0},
				assetX:      {ch.asset, 0},
			},
		)
		state.Status = ledger.StatusOpen
		require.NoError(t, l.OpenChannel(ctx, state))
	}

	view := graph.NewView(&graph.ViewConfig{
		Channels:      l,
		DefaultPolicy: testPolicy,
	})
	require.NoError(t, view.Start())
	t.Cleanup(func() {
		require.NoError(t, view.Stop())
	})

	net := htlcswitch.NewMockNetwork()
	box := htlcswitch.NewMailbox(&htlcswitch.MailboxConfig{
		Messenger: net.Messenger(alice),
	})
	require.NoError(t, box.Start())
	t.Cleanup(func() {
		require.NoError(t, box.Stop())
	})

	env := &testEnv{
		t:      t,
		net:    net,
		chain:  NewMockChain(startHeight),
		signer: &MockSigner{},
		store:  NewMockStore(),
		ledger: l,
		nodes:  make(map[route.Vertex]*testNode),
	}

	cfg := &Config{
		Self:             alice,
		Ledger:           l,
		Topology:         view,
		Mailbox:          box,
		Chain:            env.chain,
		Signer:           env.signer,
		Store:            env.store,
		MaxPaths:         4,
		MinShardFloor:    100,
		MaxRetryRounds:   DefaultMaxRetryRounds,
		FinalExpiryDelta: finalDelta,
		HtlcCarrierMsat:  testCarrier,
		DefaultTimeout:   testTimeout,
	}
	if modify != nil {
		modify(cfg)
	}

	env.coord = NewCoordinator(cfg)
	require.NoError(t, env.coord.Start())
	t.Cleanup(func() {
		require.NoError(t, env.coord.Stop())
	})

	for _, v := range []route.Vertex{bob, carol, dan} {
		env.nodes[v] = newTestNode(t, net, v)
	}

	return env
}

// invoice makes dan accept payments to a fresh hash in the given mode.
func (e *testEnv) invoice(seed byte, mode destMode) (lntypes.Preimage,
	lntypes.Hash) {

	preimage := lntypes.Preimage{seed, 0x42}
	hash := preimage.Hash()

	d := e.nodes[dan]
	d.mu.Lock()
	d.mode = mode
	d.preimages[hash] = preimage
	d.mu.Unlock()

	return preimage, hash
}

// local returns what node can send on a channel and makes sure nothing is in
// flight.
func (e *testEnv) local(id uint32, tag chroma.Chroma,
	node route.Vertex) uint64 {

	e.t.Helper()

	state, err := e.ledger.Channel(scid(id))
	require.NoError(e.t, err)
	require.NoError(e.t, state.Verify())

	d, err := state.Direction(node)
	require.NoError(e.t, err)

	balance := state.Balances[tag]
	require.Zero(e.t, balance.InFlight[0]+balance.InFlight[1])

	return balance.Local[d]
}

// eventually waits until the node received count messages of a type.
func (e *testEnv) eventually(node route.Vertex, msgType lnwire.MessageType,
	count int) {

	e.t.Helper()

	require.Eventually(e.t, func() bool {
		return e.nodes[node].count(msgType) == count
	}, testTimeout, 10*time.Millisecond)
}

func diamond(bobSide, carolSide uint64) []testChannel {
	return []testChannel{
		{id: 1, a: alice, b: bob, asset: bobSide},
		{id: 2, a: bob, b: dan, asset: bobSide},
		{id: 3, a: alice, b: carol, asset: carolSide},
		{id: 4, a: carol, b: dan, asset: carolSide},
	}
}

// TestSingleChannelPayment pays over a single direct channel.
func TestSingleChannelPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, []testChannel{
		{id: 1, a: alice, b: dan, asset: 5000},
	}, nil)
	preimage, hash := env.invoice(1, holdUntilTotal)

	outcome, err := env.coord.SendPayment(context.Background(), Request{
		Dest:   dan,
		Amount: 3000,
		Chroma: assetX,
		Hash:   hash,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Equal(t, preimage, outcome.Preimage)
	require.Equal(t, uint64(3000), outcome.Fulfilled)
	require.Zero(t, outcome.Shortfall)
	require.NoError(t, outcome.Reason)
	require.Len(t, outcome.Shards, 1)
	require.Equal(t, ShardFulfilled, outcome.Shards[0].Status)
	require.Equal(t, uint64(3000), outcome.Shards[0].Amount)

	require.Equal(t, uint64(2000), env.local(1, assetX, alice))
	require.Equal(t, uint64(3000), env.local(1, assetX, dan))
	require.Equal(t, uint64(testCarrier), env.local(1, chroma.None, dan))

	// The commitment of the only hop was signed once.
	require.Equal(t, 1, env.signer.Signed)

	payments := env.coord.ListPayments()
	require.Len(t, payments, 1)
	require.Equal(t, StatusSucceeded, payments[0].Status)
	require.Equal(t, &preimage, payments[0].Preimage)

	stored, err := env.store.FetchPayments(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, StatusSucceeded, stored[0].Status)
	require.Len(t, stored[0].Shards, 1)
	require.Equal(t, ShardFulfilled, stored[0].Shards[0].Status)
	require.Equal(t, []lnwire.ShortChannelID{scid(1)},
		stored[0].Shards[0].Route)

	// Paying the same hash again is refused.
	_, err = env.coord.SendPayment(context.Background(), Request{
		Dest:   dan,
		Amount: 3000,
		Chroma: assetX,
		Hash:   hash,
	})
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

// TestMultiPathPayment splits a payment across two disjoint paths.
func TestMultiPathPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, diamond(3000, 3000), nil)
	preimage, hash := env.invoice(2, holdUntilTotal)

	outcome, err := env.coord.SendPayment(context.Background(), Request{
		Dest:   dan,
		Amount: 4000,
		Chroma: assetX,
		Hash:   hash,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind, outcome.String())
	require.Equal(t, preimage, outcome.Preimage)
	require.Len(t, outcome.Shards, 2)

	var total uint64
	for _, shard := range outcome.Shards {
		require.Equal(t, ShardFulfilled, shard.Status)
		total += shard.Amount
	}
	require.Equal(t, uint64(4000), total)

	// The lower path is found first and filled first.
	require.Equal(t, uint64(3000), outcome.Shards[0].Amount)
	require.Equal(t, bob, outcome.Shards[0].Path.Hops[0].To)
	require.Equal(t, uint64(1000), outcome.Shards[1].Amount)
	require.Equal(t, carol, outcome.Shards[1].Path.Hops[0].To)

	// Every hop moved exactly its shard amount.
	require.Zero(t, env.local(1, assetX, alice))
	require.Equal(t, uint64(3000), env.local(1, assetX, bob))
	require.Zero(t, env.local(2, assetX, bob))
	require.Equal(t, uint64(3000), env.local(2, assetX, dan))
	require.Equal(t, uint64(2000), env.local(3, assetX, alice))
	require.Equal(t, uint64(1000), env.local(3, assetX, carol))
	require.Equal(t, uint64(2000), env.local(4, assetX, carol))
	require.Equal(t, uint64(1000), env.local(4, assetX, dan))

	// Both intermediate nodes learn about the settlement.
	env.eventually(bob, htlcswitch.MsgTypeFulfillHTLC, 1)
	env.eventually(carol, htlcswitch.MsgTypeFulfillHTLC, 1)
	require.Equal(t, 4, env.signer.Signed)
}

// TestInsufficientCapacityLeavesLedger makes sure a payment above the
// aggregate capacity fails without touching any channel.
func TestInsufficientCapacityLeavesLedger(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, diamond(3000, 3000), nil)
	_, hash := env.invoice(3, holdUntilTotal)

	before := env.ledger.Channels()

	outcome, err := env.coord.SendPayment(context.Background(), Request{
		Dest:   dan,
		Amount: 7000,
		Chroma: assetX,
		Hash:   hash,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeTotalFailure, outcome.Kind)
	require.ErrorIs(
		t, outcome.Reason, pathfind.ErrInsufficientAggregateCapacity,
	)
	require.Empty(t, outcome.Shards)
	require.Equal(t, uint64(7000), outcome.Shortfall)

	require.Equal(t, before, env.ledger.Channels())

	env.net.Lock()
	require.Empty(t, env.net.Sent)
	env.net.Unlock()

	payments := env.coord.ListPayments()
	require.Len(t, payments, 1)
	require.Equal(t, StatusFailed, payments[0].Status)
	require.Nil(t, payments[0].Preimage)
}

// TestRejectedShardWithoutAlternative checks that a shard rejected after its
// first hop was committed is rolled back and reported as shortfall when no
// other capacity is left.
func TestRejectedShardWithoutAlternative(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, diamond(3000, 3000), nil)
	preimage, hash := env.invoice(4, fulfillEach)
	env.nodes[dan].reject.Add(scid(2))

	outcome, err := env.coord.SendPayment(context.Background(), Request{
		Dest:   dan,
		Amount: 4000,
		Chroma: assetX,
		Hash:   hash,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomePartialFailure, outcome.Kind)
	require.Equal(t, preimage, outcome.Preimage)
	require.Equal(t, uint64(1000), outcome.Fulfilled)
	require.Equal(t, uint64(3000), outcome.Shortfall)
	require.ErrorIs(
		t, outcome.Reason, pathfind.ErrInsufficientAggregateCapacity,
	)
	require.Len(t, outcome.Shards, 2)

	failed := outcome.Shards[0]
	require.Equal(t, ShardFailed, failed.Status)
	var hopErr *htlcswitch.HopRejectedError
	require.True(t, errors.As(failed.Failure, &hopErr))
	require.Equal(t, scid(2), hopErr.ChannelID)
	require.Equal(t, uint16(1), hopErr.Hop)
	require.Equal(t, htlcswitch.CodeTemporaryChannelFailure, hopErr.Code)

	require.Equal(t, ShardFulfilled, outcome.Shards[1].Status)
	require.Equal(t, uint64(1000), outcome.Shards[1].Amount)

	// The committed hop towards bob was rolled back.
	require.Equal(t, uint64(3000), env.local(1, assetX, alice))
	require.Equal(t, uint64(testBaseAmount), env.local(1, chroma.None, alice))
	require.Equal(t, uint64(3000), env.local(2, assetX, bob))
	require.Equal(t, uint64(2000), env.local(3, assetX, alice))
	require.Equal(t, uint64(1000), env.local(4, assetX, dan))

	env.eventually(bob, htlcswitch.MsgTypeFailHTLC, 1)
	require.Equal(t, []htlcswitch.FailCode{
		htlcswitch.CodeTemporaryChannelFailure,
	}, env.nodes[bob].failCodes())

	payments := env.coord.ListPayments()
	require.Equal(t, StatusPartial, payments[0].Status)
	require.Equal(t, uint64(1000), payments[0].Fulfilled)
}

// TestRejectedShardRetried checks that the amount of a rejected shard is
// sent again over the capacity that is left.
func TestRejectedShardRetried(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, diamond(3000, 6000), nil)
	preimage, hash := env.invoice(5, holdUntilTotal)
	env.nodes[dan].reject.Add(scid(2))

	outcome, err := env.coord.SendPayment(context.Background(), Request{
		Dest:   dan,
		Amount: 4000,
		Chroma: assetX,
		Hash:   hash,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind, outcome.String())
	require.Equal(t, preimage, outcome.Preimage)
	require.Equal(t, uint64(4000), outcome.Fulfilled)
	require.Len(t, outcome.Shards, 3)

	require.Equal(t, ShardFailed, outcome.Shards[0].Status)
	require.Equal(t, 0, outcome.Shards[0].Round)

	retried := outcome.Shards[2]
	require.Equal(t, ShardFulfilled, retried.Status)
	require.Equal(t, 1, retried.Round)
	require.Equal(t, uint64(3000), retried.Amount)
	require.Equal(t, []lnwire.ShortChannelID{scid(3), scid(4)},
		retried.Route)

	require.Equal(t, uint64(3000), env.local(1, assetX, alice))
	require.Equal(t, uint64(3000), env.local(2, assetX, bob))
	require.Equal(t, uint64(2000), env.local(3, assetX, alice))
	require.Equal(t, uint64(4000), env.local(4, assetX, dan))
}

// TestCancelPayment cancels a payment whose destination never answers.
func TestCancelPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, []testChannel{
		{id: 1, a: alice, b: dan, asset: 5000},
	}, nil)
	_, hash := env.invoice(6, silent)

	type result struct {
		outcome *Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := env.coord.SendPayment(
			context.Background(), Request{
				Dest:   dan,
				Amount: 3000,
				Chroma: assetX,
				Hash:   hash,
			},
		)
		done <- result{outcome, err}
	}()

	env.eventually(dan, htlcswitch.MsgTypeCommitHTLC, 1)
	require.NoError(t, env.coord.CancelPayment(hash))

	var res result
	select {
	case res = <-done:
	case <-time.After(testTimeout):
		t.Fatalf("payment not cancelled")
	}

	require.NoError(t, res.err)
	require.Equal(t, OutcomeTotalFailure, res.outcome.Kind)
	require.ErrorIs(t, res.outcome.Reason, ErrPaymentCancelled)
	require.Equal(t, uint64(5000), env.local(1, assetX, alice))

	env.eventually(dan, htlcswitch.MsgTypeFailHTLC, 1)
	require.Equal(t, []htlcswitch.FailCode{htlcswitch.CodeCancelled},
		env.nodes[dan].failCodes())

	require.ErrorIs(t, env.coord.CancelPayment(hash), ErrPaymentNotFound)
}

// TestPaymentDeadline makes sure the deadline cancels the payment.
func TestPaymentDeadline(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, []testChannel{
		{id: 1, a: alice, b: dan, asset: 5000},
	}, nil)
	_, hash := env.invoice(7, silent)

	outcome, err := env.coord.SendPayment(context.Background(), Request{
		Dest:     dan,
		Amount:   3000,
		Chroma:   assetX,
		Hash:     hash,
		Deadline: time.Now().Add(200 * time.Millisecond),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeTotalFailure, outcome.Kind)
	require.ErrorIs(t, outcome.Reason, ErrPaymentCancelled)
	require.Equal(t, uint64(5000), env.local(1, assetX, alice))
}

// TestExpiredShard makes sure a shard whose HTLC expires is rolled back.
func TestExpiredShard(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, []testChannel{
		{id: 1, a: alice, b: dan, asset: 5000},
	}, func(cfg *Config) {
		cfg.MaxRetryRounds = 0
	})
	_, hash := env.invoice(8, silent)

	done := make(chan *Outcome, 1)
	go func() {
		outcome, err := env.coord.SendPayment(
			context.Background(), Request{
				Dest:   dan,
				Amount: 3000,
				Chroma: assetX,
				Hash:   hash,
			},
		)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- outcome
	}()

	env.eventually(dan, htlcswitch.MsgTypeCommitHTLC, 1)

	// One block before the expiry nothing happens.
	env.chain.MineTo(startHeight + finalDelta - 1)
	select {
	case <-done:
		t.Fatalf("payment resolved before expiry")
	case <-time.After(100 * time.Millisecond):
	}

	env.chain.MineTo(startHeight + finalDelta)

	var outcome *Outcome
	select {
	case outcome = <-done:
	case <-time.After(testTimeout):
		t.Fatalf("payment not expired")
	}

	require.Equal(t, OutcomeTotalFailure, outcome.Kind)
	require.ErrorIs(t, outcome.Reason, htlcswitch.ErrExpiryElapsed)
	require.Equal(t, uint64(5000), env.local(1, assetX, alice))

	env.eventually(dan, htlcswitch.MsgTypeFailHTLC, 1)
	require.Equal(t, []htlcswitch.FailCode{htlcswitch.CodeExpiryTooSoon},
		env.nodes[dan].failCodes())
}

// TestPayInvoice pays a decoded payment request.
func TestPayInvoice(t *testing.T) {
	t.Parallel()

	decoder := &MockDecoder{Invoices: make(map[string]*Invoice)}
	env := newTestEnv(t, []testChannel{
		{id: 1, a: alice, b: dan, asset: 5000},
	}, func(cfg *Config) {
		cfg.Decoder = decoder
	})
	preimage, hash := env.invoice(9, holdUntilTotal)

	decoder.Invoices["lnbcrt1"] = &Invoice{
		Dest:   dan,
		Hash:   hash,
		Amount: 100,
	}

	pixel := &chroma.Pixel{Luma: 1200, Chroma: assetX}
	outcome, err := env.coord.PayInvoice(
		context.Background(), "lnbcrt1", pixel, time.Time{},
	)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind)
	require.Equal(t, preimage, outcome.Preimage)
	require.Equal(t, uint64(3800), env.local(1, assetX, alice))

	_, err = env.coord.PayInvoice(
		context.Background(), "unknown", nil, time.Time{},
	)
	require.Error(t, err)
}

// TestInvalidPayments checks the request validation.
func TestInvalidPayments(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	_, err := env.coord.SendPayment(ctx, Request{
		Dest: dan, Hash: lntypes.Hash{1},
	})
	require.ErrorIs(t, err, ErrInvalidPayment)

	_, err = env.coord.SendPayment(ctx, Request{
		Dest: alice, Amount: 1, Hash: lntypes.Hash{1},
	})
	require.ErrorIs(t, err, ErrInvalidPayment)

	_, err = env.coord.SendPayment(ctx, Request{Dest: dan, Amount: 1})
	require.ErrorIs(t, err, ErrInvalidPayment)

	outcome, err := env.coord.SendPayment(ctx, Request{
		Dest: dan, Amount: 1, Chroma: assetX, Hash: lntypes.Hash{1},
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeTotalFailure, outcome.Kind)
	require.ErrorIs(t, outcome.Reason, pathfind.ErrNoRouteFound)
}

// TestRestartFailsPendingPayments checks that pending payments found at
// startup are failed.
func TestRestartFailsPendingPayments(t *testing.T) {
	t.Parallel()

	store := NewMockStore()
	ctx := context.Background()
	require.NoError(t, store.InsertPayment(ctx, &Payment{
		Hash:      lntypes.Hash{7},
		Dest:      dan,
		Amount:    10,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}))

	env := newTestEnv(t, nil, func(cfg *Config) {
		cfg.Store = store
	})

	payments := env.coord.ListPayments()
	require.Len(t, payments, 1)
	require.Equal(t, StatusFailed, payments[0].Status)

	stored, err := store.FetchPayments(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored[0].Status)
}

// asyncPayment runs a payment in the background.
func (e *testEnv) asyncPayment(attempt *Attempt) <-chan paymentResult {
	done := make(chan paymentResult, 1)
	go func() {
		outcome, err := e.coord.Execute(context.Background(), attempt)
		done <- paymentResult{outcome, err}
	}()

	return done
}

type paymentResult struct {
	outcome *Outcome
	err     error
}

func (e *testEnv) wait(done <-chan paymentResult) paymentResult {
	e.t.Helper()

	select {
	case res := <-done:
		return res
	case <-time.After(testTimeout):
		e.t.Fatalf("payment did not resolve")
		return paymentResult{}
	}
}

// TestUpstreamFailureWhileAwaitingPreimage makes sure a failure of an
// already committed hop ends the shard while it waits further down the path,
// and that a fulfillment of the destination arriving afterwards changes
// nothing.
func TestUpstreamFailureWhileAwaitingPreimage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, []testChannel{
		{id: 1, a: alice, b: bob, asset: 5000},
		{id: 2, a: bob, b: dan, asset: 5000},
	}, func(cfg *Config) {
		cfg.MaxRetryRounds = 0
	})
	preimage, hash := env.invoice(10, silent)

	done := env.asyncPayment(NewAttempt(Request{
		Dest:   dan,
		Amount: 3000,
		Chroma: assetX,
		Hash:   hash,
	}))

	env.eventually(dan, htlcswitch.MsgTypeCommitHTLC, 1)

	adds := env.nodes[bob].addsOf(scid(1))
	require.Len(t, adds, 1)
	upstream := adds[0].CircuitKey

	env.nodes[bob].send(&htlcswitch.FailHTLC{
		CircuitKey: upstream,
		Code:       htlcswitch.CodeTemporaryChannelFailure,
	})

	res := env.wait(done)
	require.NoError(t, res.err)
	require.Equal(t, OutcomeTotalFailure, res.outcome.Kind)

	var hopErr *htlcswitch.HopRejectedError
	require.ErrorAs(t, res.outcome.Reason, &hopErr)
	require.Equal(t, scid(1), hopErr.ChannelID)
	require.Equal(t, uint16(0), hopErr.Hop)

	// Only dan is told, bob already failed the first hop.
	env.eventually(dan, htlcswitch.MsgTypeFailHTLC, 1)
	require.Zero(t, env.nodes[bob].count(htlcswitch.MsgTypeFailHTLC))

	downstream := upstream
	downstream.Hop = 1
	env.nodes[dan].send(&htlcswitch.FulfillHTLC{
		CircuitKey: downstream,
		Preimage:   preimage,
	})

	require.Never(t, func() bool {
		state, err := env.ledger.Channel(scid(1))
		require.NoError(t, err)

		return state.Balances[assetX].Local[0] != 5000
	}, 200*time.Millisecond, 10*time.Millisecond)

	require.Equal(t, uint64(5000), env.local(1, assetX, alice))
	require.Equal(t, uint64(5000), env.local(2, assetX, bob))
}

// TestBlockSubscriptionFailure makes sure a shard that loses its block
// subscription is rolled back instead of waiting without an expiry clock.
func TestBlockSubscriptionFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, []testChannel{
		{id: 1, a: alice, b: dan, asset: 5000},
	}, func(cfg *Config) {
		cfg.MaxRetryRounds = 0
	})
	_, hash := env.invoice(11, silent)

	done := env.asyncPayment(NewAttempt(Request{
		Dest:   dan,
		Amount: 3000,
		Chroma: assetX,
		Hash:   hash,
	}))

	env.eventually(dan, htlcswitch.MsgTypeCommitHTLC, 1)

	errChainGone := errors.New("chain backend gone")
	env.chain.FailSubscriptions(errChainGone)

	res := env.wait(done)
	require.NoError(t, res.err)
	require.Equal(t, OutcomeTotalFailure, res.outcome.Kind)
	require.ErrorIs(t, res.outcome.Reason, errChainGone)
	require.Equal(t, uint64(5000), env.local(1, assetX, alice))

	env.eventually(dan, htlcswitch.MsgTypeFailHTLC, 1)
}

// TestLedgerConflictRetried checks that a shard losing its capacity to a
// concurrent payment over a shared channel is retried elsewhere.
func TestLedgerConflictRetried(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, diamond(3000, 3000), nil)
	preimage, hash := env.invoice(12, holdUntilTotal)

	// Bob holds back his acknowledgement until the other payment took
	// the channel towards dan.
	gate := make(chan struct{})
	env.nodes[bob].mu.Lock()
	env.nodes[bob].gates[scid(1)] = gate
	env.nodes[bob].mu.Unlock()

	done := env.asyncPayment(NewAttempt(Request{
		Dest:   dan,
		Amount: 3000,
		Chroma: assetX,
		Hash:   hash,
	}))

	env.eventually(bob, htlcswitch.MsgTypeAddHTLC, 1)

	ctx := context.Background()
	other, err := env.ledger.Reserve(ctx, ledger.ReserveRequest{
		ChannelID: scid(2),
		From:      bob,
		Chroma:    assetX,
		Amount:    3000,
	})
	require.NoError(t, err)
	close(gate)

	res := env.wait(done)
	require.NoError(t, res.err)
	require.Equal(t, OutcomeSuccess, res.outcome.Kind,
		res.outcome.String())
	require.Equal(t, preimage, res.outcome.Preimage)
	require.Len(t, res.outcome.Shards, 2)

	conflicted := res.outcome.Shards[0]
	require.Equal(t, ShardFailed, conflicted.Status)
	require.ErrorIs(t, conflicted.Failure, ledger.ErrLedgerConflict)

	retried := res.outcome.Shards[1]
	require.Equal(t, ShardFulfilled, retried.Status)
	require.Equal(t, 1, retried.Round)
	require.Equal(t, []lnwire.ShortChannelID{scid(3), scid(4)},
		retried.Route)

	require.NoError(t, env.ledger.Release(ctx, other))
	require.Equal(t, uint64(3000), env.local(1, assetX, alice))
	require.Equal(t, uint64(3000), env.local(2, assetX, bob))
	require.Zero(t, env.local(3, assetX, alice))
	require.Equal(t, uint64(3000), env.local(4, assetX, dan))

	env.eventually(bob, htlcswitch.MsgTypeFailHTLC, 1)
}

// TestDoubleResolutionReported checks that a destination fulfilling an HTLC
// it failed before makes Execute return the violation with the outcome.
func TestDoubleResolutionReported(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, diamond(3000, 3000), func(cfg *Config) {
		cfg.MaxRetryRounds = 0
	})
	_, hash := env.invoice(13, silent)
	env.nodes[dan].reneged.Add(scid(2))

	// The shard over carol keeps the payment open until it expires.
	attempt := NewAttempt(Request{
		Dest:   dan,
		Amount: 4000,
		Chroma: assetX,
		Hash:   hash,
	})
	done := env.asyncPayment(attempt)

	env.eventually(dan, htlcswitch.MsgTypeCommitHTLC, 2)
	require.Eventually(t, func() bool {
		return attempt.violation() != nil
	}, testTimeout, 10*time.Millisecond)

	env.chain.MineTo(startHeight + finalDelta)

	res := env.wait(done)
	require.ErrorIs(t, res.err, htlcswitch.ErrDoubleResolution)
	require.NotNil(t, res.outcome)
	require.Zero(t, res.outcome.Fulfilled)
	require.Len(t, res.outcome.Shards, 2)
	for _, shard := range res.outcome.Shards {
		require.Equal(t, ShardFailed, shard.Status)
	}
}

// TestKeysend pays without an invoice and checks that only the destination
// learns the preimage up front.
func TestKeysend(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, []testChannel{
		{id: 1, a: alice, b: bob, asset: 5000},
		{id: 2, a: bob, b: dan, asset: 5000},
	}, nil)

	outcome, err := env.coord.Keysend(
		context.Background(), dan, 3000, assetX, time.Time{},
	)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome.Kind, outcome.String())
	require.Equal(t, uint64(3000), outcome.Fulfilled)

	toBob := env.nodes[bob].addsOf(scid(1))
	require.Len(t, toBob, 1)
	require.Nil(t, toBob[0].KeysendPreimage)

	toDan := env.nodes[dan].addsOf(scid(2))
	require.Len(t, toDan, 1)
	require.NotNil(t, toDan[0].KeysendPreimage)
	require.Equal(t, outcome.Preimage, *toDan[0].KeysendPreimage)
	require.Equal(t, outcome.Preimage.Hash(), toDan[0].Hash)

	require.Equal(t, uint64(2000), env.local(1, assetX, alice))
	require.Equal(t, uint64(3000), env.local(2, assetX, dan))

	// A preimage that doesn't belong to the hash is refused.
	wrong := lntypes.Preimage{0x01}
	_, err = env.coord.SendPayment(context.Background(), Request{
		Dest:            dan,
		Amount:          10,
		Chroma:          assetX,
		Hash:            lntypes.Hash{0x02},
		KeysendPreimage: &wrong,
	})
	require.ErrorIs(t, err, ErrInvalidPayment)
}
