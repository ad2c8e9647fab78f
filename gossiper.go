package yuvln

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/chainntnfs"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/routing/route"
)

const (
	// DefaultNumConfs is the default number of confirmations of a funding
	// transaction before an announced channel is used.
	DefaultNumConfs = 3

	// gossipInboxSize bounds the announcements waiting to be processed.
	gossipInboxSize = 64
)

// FundingNotifier notifies about confirmations of funding transactions.
type FundingNotifier interface {
	// RegisterConfirmationsNtfn registers an intent to be notified once
	// txid reaches numConfs confirmations.
	RegisterConfirmationsNtfn(ctx context.Context, txid *chainhash.Hash,
		pkScript []byte, numConfs,
		heightHint uint32) (*chainntnfs.ConfirmationEvent, chan error,
		error)
}

// GossiperConfig holds the collaborators of the gossiper.
type GossiperConfig struct {
	// Self is our node.
	Self route.Vertex

	// Mailbox exchanges the announcements with our peers.
	Mailbox *htlcswitch.Mailbox

	// Ledger receives the announced channels.
	Ledger *ledger.Ledger

	// Topology receives the announced policies.
	Topology *graph.View

	// Chain watches the funding transactions of announced channels. If
	// it is nil, announced channels are used right away.
	Chain FundingNotifier

	// NumConfs is the number of confirmations required before an
	// announced channel is used.
	NumConfs uint32

	// Policy is the policy we announce for every dimension of our own
	// channels.
	Policy graph.Policy

	// Clock timestamps our policy announcements.
	Clock clock.Clock
}

// Gossiper consumes the channel and policy announcements of our direct peers
// and announces our own policies once a channel of ours opens. Announcements
// are never relayed.
type Gossiper struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg *GossiperConfig

	inbox   chan htlcswitch.PeerMessage
	updates *fn.EventReceiver[*ledger.CapacityUpdate]

	*fn.ContextGuard
}

// NewGossiper creates a new gossiper.
func NewGossiper(cfg *GossiperConfig) *Gossiper {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Gossiper{
		cfg:   cfg,
		inbox: make(chan htlcswitch.PeerMessage, gossipInboxSize),
		ContextGuard: &fn.ContextGuard{
			DefaultTimeout: ledger.DefaultStoreTimeout,
			Quit:           make(chan struct{}),
		},
	}
}

// Start registers the announcement handlers and starts processing.
func (g *Gossiper) Start() error {
	var startErr error
	g.startOnce.Do(func() {
		gspLog.Info("Starting gossiper")

		g.updates = fn.NewEventReceiver[*ledger.CapacityUpdate](
			fn.DefaultQueueSize,
		)
		err := g.cfg.Ledger.RegisterSubscriber(
			g.updates, false, chroma.None,
		)
		if err != nil {
			startErr = err
			return
		}

		g.cfg.Mailbox.RegisterHandler(
			htlcswitch.MsgTypeChannelAnnounce, g.enqueue,
		)
		g.cfg.Mailbox.RegisterHandler(
			htlcswitch.MsgTypeChannelUpdate, g.enqueue,
		)

		g.Wg.Add(1)
		go g.mainEventLoop()
	})

	return startErr
}

// Stop stops the gossiper and every funding watch.
func (g *Gossiper) Stop() error {
	var stopErr error
	g.stopOnce.Do(func() {
		gspLog.Info("Stopping gossiper")

		close(g.Quit)
		if g.updates != nil {
			stopErr = g.cfg.Ledger.RemoveSubscriber(g.updates)
		}
		g.Wg.Wait()
	})

	return stopErr
}

// enqueue hands a message from the mailbox to the event loop.
func (g *Gossiper) enqueue(msg htlcswitch.PeerMessage) {
	if !fn.SendOrQuit(g.inbox, msg, g.Quit) {
		gspLog.Debugf("Dropping %v, shutting down", msg.Msg)
	}
}

func (g *Gossiper) mainEventLoop() {
	defer g.Wg.Done()

	g.announceOpenChannels()

	for {
		select {
		case msg := <-g.inbox:
			var err error
			switch m := msg.Msg.(type) {
			case *htlcswitch.ChannelAnnounce:
				err = g.handleAnnounce(msg.Peer, m)

			case *htlcswitch.ChannelUpdate:
				err = g.handleUpdate(msg.Peer, m)
			}
			if err != nil {
				gspLog.Warnf("Unable to process %v from %x: %v",
					msg.Msg, msg.Peer[:4], err)
			}

		case update, ok := <-g.updates.Updates.ChanOut():
			if !ok {
				return
			}
			if update.Kind != ledger.UpdateOpened ||
				update.State.Status != ledger.StatusOpen {

				continue
			}

			ctx, cancel := g.WithCtxQuit()
			err := g.announcePolicies(ctx, update.State)
			cancel()
			if err != nil {
				gspLog.Warnf("Unable to announce policies of "+
					"%v: %v", update.ChannelID, err)
			}

		case <-g.Quit:
			return
		}
	}
}

// handleAnnounce adds a channel announced by one of its endpoints to the
// ledger and watches its funding transaction.
func (g *Gossiper) handleAnnounce(peer route.Vertex,
	ann *htlcswitch.ChannelAnnounce) error {

	node1, node2 := route.Vertex(ann.Node1), route.Vertex(ann.Node2)
	if peer != node1 && peer != node2 {
		return fmt.Errorf("%w: %x", ledger.ErrUnknownEndpoint, peer[:4])
	}

	amounts := make(map[chroma.Chroma][2]uint64, len(ann.Balances))
	for _, b := range ann.Balances {
		amounts[b.Chroma] = [2]uint64{b.Local1, b.Local2}
	}
	state := ledger.NewChannelState(
		ann.ChannelID, ann.FundingPoint, node1, node2, amounts,
	)

	// Without a chain to watch the channel is trusted right away.
	if g.cfg.Chain == nil || g.cfg.NumConfs == 0 {
		state.Status = ledger.StatusOpen
	}

	ctx, cancel := g.WithCtxQuit()
	defer cancel()

	err := g.cfg.Ledger.OpenChannel(ctx, state)
	switch {
	case errors.Is(err, ledger.ErrChannelExists):
		gspLog.Debugf("Ignoring known %v", ann)
		return nil

	case err != nil:
		return err
	}

	if state.Status == ledger.StatusOpen {
		return nil
	}

	return g.watchFunding(ann)
}

// watchFunding marks an announced channel open once its funding transaction
// is confirmed.
func (g *Gossiper) watchFunding(ann *htlcswitch.ChannelAnnounce) error {
	if len(ann.FundingScript) == 0 {
		return fmt.Errorf("channel %v announced without funding "+
			"script, leaving it pending", ann.ChannelID)
	}

	ctx, cancel := g.WithCtxQuitNoTimeout()
	txid := ann.FundingPoint.Hash
	confEvent, errChan, err := g.cfg.Chain.RegisterConfirmationsNtfn(
		ctx, &txid, ann.FundingScript, g.cfg.NumConfs,
		ann.ChannelID.BlockHeight,
	)
	if err != nil {
		cancel()
		return err
	}

	gspLog.Debugf("Waiting for %d confirmations of channel %v",
		g.cfg.NumConfs, ann.ChannelID)

	g.Wg.Add(1)
	go func() {
		defer g.Wg.Done()
		defer cancel()
		defer confEvent.Cancel()

		select {
		case conf := <-confEvent.Confirmed:
			gspLog.Debugf("Funding of channel %v confirmed: %v",
				ann.ChannelID, spew.Sdump(conf))

			ctx, cancel := g.WithCtxQuit()
			defer cancel()

			err := g.cfg.Ledger.MarkOpen(ctx, ann.ChannelID)
			if err != nil {
				gspLog.Errorf("Unable to open channel %v: %v",
					ann.ChannelID, err)
			}

		case err := <-errChan:
			gspLog.Errorf("Funding watch of channel %v failed: %v",
				ann.ChannelID, err)

		case <-g.Quit:
		}
	}()

	return nil
}

// handleUpdate applies a policy a peer announced for one of its channels.
func (g *Gossiper) handleUpdate(peer route.Vertex,
	upd *htlcswitch.ChannelUpdate) error {

	state, err := g.cfg.Ledger.Channel(upd.ChannelID)
	if err != nil {
		return err
	}
	if _, err := state.Direction(peer); err != nil {
		return err
	}

	ctx, cancel := g.WithCtxQuit()
	defer cancel()

	_, err = g.cfg.Topology.ApplyUpdate(ctx, &graph.ChannelUpdate{
		ChannelID: upd.ChannelID,
		Node:      peer,
		Chroma:    upd.Chroma,
		Timestamp: upd.Timestamp,
		Policy: graph.Policy{
			BaseFee:     upd.BaseFee,
			FeeRate:     upd.FeeRate,
			ExpiryDelta: upd.ExpiryDelta,
			MinHTLC:     upd.MinHTLC,
			Disabled:    upd.Disabled,
		},
	})

	return err
}

// announceOpenChannels announces our policies of every channel that was
// already open when we started, all peers at once.
func (g *Gossiper) announceOpenChannels() {
	ours := fn.Filter(
		g.cfg.Ledger.Channels(), func(c *ledger.ChannelState) bool {
			return c.Status == ledger.StatusOpen && g.isOurs(c)
		},
	)
	if len(ours) == 0 {
		return
	}

	gspLog.Infof("Announcing policies of %d open channels", len(ours))

	ctx, cancel := g.WithCtxQuit()
	defer cancel()

	err := fn.ParSlice(ctx, ours, func(ctx context.Context,
		state *ledger.ChannelState) error {

		// One unreachable peer doesn't hold back the others.
		if err := g.announcePolicies(ctx, state); err != nil {
			gspLog.Warnf("Unable to announce policies of %v: %v",
				state.ChannelID, err)
		}

		return nil
	})
	if err != nil {
		gspLog.Errorf("Unable to announce policies: %v", err)
	}
}

// isOurs returns true if we are an endpoint of the channel.
func (g *Gossiper) isOurs(state *ledger.ChannelState) bool {
	return state.Node1 == g.cfg.Self || state.Node2 == g.cfg.Self
}

// announcePolicies records our policy for every dimension of an open channel
// of ours and sends it to the channel peer.
func (g *Gossiper) announcePolicies(ctx context.Context,
	state *ledger.ChannelState) error {

	if !g.isOurs(state) {
		return nil
	}
	peer := state.Peer(g.cfg.Self)

	timestamp := uint32(g.cfg.Clock.Now().Unix())
	for tag := range state.Balances {
		update := &graph.ChannelUpdate{
			ChannelID: state.ChannelID,
			Node:      g.cfg.Self,
			Chroma:    tag,
			Timestamp: timestamp,
			Policy:    g.cfg.Policy,
		}
		if _, err := g.cfg.Topology.ApplyUpdate(ctx, update); err != nil {
			return err
		}

		err := g.cfg.Mailbox.Send(ctx, htlcswitch.PeerMessage{
			Peer: peer,
			Msg: &htlcswitch.ChannelUpdate{
				ChannelID:   state.ChannelID,
				Chroma:      tag,
				Timestamp:   timestamp,
				BaseFee:     g.cfg.Policy.BaseFee,
				FeeRate:     g.cfg.Policy.FeeRate,
				ExpiryDelta: g.cfg.Policy.ExpiryDelta,
				MinHTLC:     g.cfg.Policy.MinHTLC,
				Disabled:    g.cfg.Policy.Disabled,
			},
		})
		if err != nil {
			return err
		}
	}

	gspLog.Infof("Announced policies of channel %v to %x",
		state.ChannelID, peer[:4])

	return nil
}
