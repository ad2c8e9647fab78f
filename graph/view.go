package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// ChannelSource is the part of the channel ledger the view projects.
type ChannelSource interface {
	fn.EventPublisher[*ledger.CapacityUpdate, chroma.Chroma]

	// Channels returns a copy of every channel.
	Channels() []*ledger.ChannelState

	// Version returns a counter that changes with every channel
	// mutation.
	Version() uint64
}

// ViewConfig holds the collaborators of the topology view.
type ViewConfig struct {
	// Channels is the ledger the view projects.
	Channels ChannelSource

	// Store persists announced policies. It may be nil.
	Store PolicyStore

	// DefaultPolicy is used for channel directions without an announced
	// policy.
	DefaultPolicy Policy

	// StoreTimeout bounds every store interaction.
	StoreTimeout time.Duration
}

// View builds immutable per-dimension snapshots of the known channels. A
// snapshot reflects the ledger at the time it was taken; it is rebuilt
// whenever the ledger or a policy changed in between.
type View struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg *ViewConfig

	mu       sync.Mutex
	policies map[policyKey]*ChannelUpdate
	cache    map[chroma.Chroma]*Graph

	updates *fn.EventReceiver[*ledger.CapacityUpdate]

	*fn.ContextGuard
}

// NewView creates a new topology view.
func NewView(cfg *ViewConfig) *View {
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = ledger.DefaultStoreTimeout
	}

	return &View{
		cfg:      cfg,
		policies: make(map[policyKey]*ChannelUpdate),
		cache:    make(map[chroma.Chroma]*Graph),
		ContextGuard: &fn.ContextGuard{
			DefaultTimeout: cfg.StoreTimeout,
			Quit:           make(chan struct{}),
		},
	}
}

// Start loads the stored policies and subscribes to ledger updates.
func (v *View) Start() error {
	var startErr error
	v.startOnce.Do(func() {
		log.Info("Starting topology view")

		if v.cfg.Store != nil {
			ctx, cancel := v.WithCtxQuit()
			defer cancel()

			updates, err := v.cfg.Store.FetchPolicies(ctx)
			if err != nil {
				startErr = fmt.Errorf("unable to load "+
					"policies: %w", err)
				return
			}

			v.mu.Lock()
			for _, u := range updates {
				v.policies[keyOf(u)] = u
			}
			v.mu.Unlock()

			log.Infof("Loaded %d channel policies", len(updates))
		}

		v.updates = fn.NewEventReceiver[*ledger.CapacityUpdate](
			fn.DefaultQueueSize,
		)
		err := v.cfg.Channels.RegisterSubscriber(
			v.updates, false, chroma.None,
		)
		if err != nil {
			startErr = err
			return
		}

		v.Wg.Add(1)
		go v.consumeUpdates()
	})

	return startErr
}

// Stop stops the view.
func (v *View) Stop() error {
	var stopErr error
	v.stopOnce.Do(func() {
		log.Info("Stopping topology view")

		close(v.Quit)
		if v.updates != nil {
			stopErr = v.cfg.Channels.RemoveSubscriber(v.updates)
		}
		v.Wg.Wait()
	})

	return stopErr
}

// consumeUpdates drops cached snapshots touched by ledger changes and forgets
// the policies of closed channels.
func (v *View) consumeUpdates() {
	defer v.Wg.Done()

	for {
		select {
		case update, ok := <-v.updates.Updates.ChanOut():
			if !ok {
				return
			}

			log.Tracef("Capacity update: channel %v %v",
				update.ChannelID, update.Kind)

			v.mu.Lock()
			for _, tag := range update.Chromas {
				delete(v.cache, tag)
			}
			if update.Kind == ledger.UpdateClosed {
				v.forgetChannel(update.ChannelID)
			}
			v.mu.Unlock()

		case <-v.Quit:
			return
		}
	}
}

// forgetChannel removes every policy of a channel. The caller must hold the
// mutex.
func (v *View) forgetChannel(id lnwire.ShortChannelID) {
	for key := range v.policies {
		if key.chanID == id {
			delete(v.policies, key)
		}
	}
}

// ApplyUpdate records a policy announcement. Updates that are not newer than
// the known policy of the same channel direction are ignored and false is
// returned.
func (v *View) ApplyUpdate(ctx context.Context,
	update *ChannelUpdate) (bool, error) {

	v.mu.Lock()
	defer v.mu.Unlock()

	key := keyOf(update)
	if known, ok := v.policies[key]; ok &&
		known.Timestamp >= update.Timestamp {

		log.Debugf("Ignoring stale %v", update)
		return false, nil
	}

	if v.cfg.Store != nil {
		ctxt, cancel := context.WithTimeout(ctx, v.cfg.StoreTimeout)
		defer cancel()

		if err := v.cfg.Store.UpsertPolicy(ctxt, update); err != nil {
			return false, fmt.Errorf("unable to store policy: %w",
				err)
		}
	}

	cpy := *update
	v.policies[key] = &cpy
	delete(v.cache, update.Chroma)

	log.Debugf("Applied %v", update)

	return true, nil
}

// Snapshot returns the graph of every open channel carrying the given
// dimension, built from the ledger state at call time.
func (v *View) Snapshot(c chroma.Chroma) *Graph {
	v.mu.Lock()
	defer v.mu.Unlock()

	version := v.cfg.Channels.Version()
	if g, ok := v.cache[c]; ok && g.version == version {
		return g
	}

	var edges []Edge
	for _, state := range v.cfg.Channels.Channels() {
		if state.Status != ledger.StatusOpen {
			continue
		}

		balance, ok := state.Balances[c]
		if !ok {
			continue
		}
		base := state.Balances[chroma.None]

		for _, d := range []ledger.Direction{
			ledger.Forward, ledger.Backward,
		} {

			if balance.CanSend(d) == 0 {
				continue
			}

			from := state.Endpoint(d)
			policy := v.policyLocked(state.ChannelID, from, c)
			if policy.Disabled {
				continue
			}

			edge := Edge{
				ChannelID: state.ChannelID,
				From:      from,
				To:        state.Peer(from),
				Chroma:    c,
				Capacity:  balance.CanSend(d),
				Policy:    policy,
			}
			if !c.IsNone() {
				edge.CarrierCapacity = base.CanSend(d)
			}

			edges = append(edges, edge)
		}
	}

	g := newGraph(c, version, edges)
	v.cache[c] = g

	log.Debugf("Built snapshot for %v: %d nodes, %d edges (version=%d)",
		c.Short(), len(g.nodes), len(edges), version)

	return g
}

// Policy returns the known policy of a channel direction, or the default.
func (v *View) Policy(id lnwire.ShortChannelID, from route.Vertex,
	c chroma.Chroma) Policy {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.policyLocked(id, from, c)
}

func (v *View) policyLocked(id lnwire.ShortChannelID, from route.Vertex,
	c chroma.Chroma) Policy {

	update, ok := v.policies[policyKey{chanID: id, node: from, chroma: c}]
	if !ok {
		return v.cfg.DefaultPolicy
	}

	return update.Policy
}
