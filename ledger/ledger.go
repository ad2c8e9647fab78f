package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

const (
	// DefaultStoreTimeout is the default timeout used for any interaction
	// with the storage backend.
	DefaultStoreTimeout = 10 * time.Second
)

// ErrInvalidAmount is returned when a zero amount is reserved.
var ErrInvalidAmount = errors.New("reservation amount must be positive")

// ReservationState is the lifecycle state of a reservation.
type ReservationState uint8

const (
	// ReservationActive is a reservation whose funds are in flight but
	// whose HTLC is not committed yet.
	ReservationActive ReservationState = iota

	// ReservationCommitted is a reservation whose HTLC was committed.
	ReservationCommitted

	// ReservationSettled is a reservation whose funds moved to the
	// receiving side.
	ReservationSettled

	// ReservationReleased is a reservation whose funds returned to the
	// sending side.
	ReservationReleased

	// ReservationInvalidated is a reservation that was released by the
	// ledger because its channel closed before the HTLC was committed.
	ReservationInvalidated
)

// String returns a human readable reservation state.
func (s ReservationState) String() string {
	switch s {
	case ReservationActive:
		return "active"
	case ReservationCommitted:
		return "committed"
	case ReservationSettled:
		return "settled"
	case ReservationReleased:
		return "released"
	case ReservationInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// ReserveRequest describes the funds a single hop of a shard wants to move in
// flight.
type ReserveRequest struct {
	// ChannelID is the channel to reserve on.
	ChannelID lnwire.ShortChannelID

	// From is the sending endpoint.
	From route.Vertex

	// Chroma is the dimension the amount is denominated in.
	Chroma chroma.Chroma

	// Amount is the amount to reserve.
	Amount uint64

	// Carrier is the base currency amount (msat) that carries an asset
	// HTLC. It is ignored for base currency reservations.
	Carrier uint64
}

// Reservation is a handle to funds moved in flight by Reserve. Its state is
// owned by the ledger.
type Reservation struct {
	// ID is the process unique identifier of the reservation.
	ID uint64

	// ChannelID is the channel the funds are reserved on.
	ChannelID lnwire.ShortChannelID

	// Direction is the sending direction.
	Direction Direction

	// Chroma is the reserved dimension.
	Chroma chroma.Chroma

	// Amount is the reserved amount.
	Amount uint64

	// Carrier is the reserved base currency carrier amount.
	Carrier uint64

	// state is guarded by the mutex of the channel.
	state ReservationState
}

// chromas returns the dimensions touched by the reservation.
func (r *Reservation) chromas() []chroma.Chroma {
	if r.Carrier > 0 && !r.Chroma.IsNone() {
		return []chroma.Chroma{r.Chroma, chroma.None}
	}

	return []chroma.Chroma{r.Chroma}
}

// channel is one entry of the arena.
type channel struct {
	sync.Mutex

	state *ChannelState

	// active holds the reservations that are not resolved yet.
	active map[uint64]*Reservation
}

// Config holds the collaborators of the ledger.
type Config struct {
	// Store persists channel states. It may be nil, in which case the
	// ledger is memory only.
	Store Store

	// StoreTimeout bounds every write to the store.
	StoreTimeout time.Duration
}

// Ledger is the single owner of channel balances. Every mutation of a channel
// is serialized by the mutex of that channel entry.
type Ledger struct {
	cfg *Config

	nextResID uint64

	// version is bumped after every applied mutation. It must be used
	// atomically.
	version uint64

	arenaMtx sync.RWMutex
	channels map[lnwire.ShortChannelID]*channel

	subscribers *fn.Subscribers[*CapacityUpdate]
}

// A compile-time assertion to make sure Ledger satisfies the
// fn.EventPublisher interface.
var _ fn.EventPublisher[*CapacityUpdate, chroma.Chroma] = (*Ledger)(nil)

// New creates an empty ledger.
func New(cfg *Config) *Ledger {
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}

	return &Ledger{
		cfg:         cfg,
		channels:    make(map[lnwire.ShortChannelID]*channel),
		subscribers: fn.NewSubscribers[*CapacityUpdate](),
	}
}

// Load populates the arena from the store. Amounts that were in flight when
// the node stopped are returned to their senders, since no HTLC survives a
// restart.
func (l *Ledger) Load(ctx context.Context) error {
	if l.cfg.Store == nil {
		return nil
	}

	states, err := l.cfg.Store.FetchChannels(ctx)
	if err != nil {
		return fmt.Errorf("unable to fetch channels: %w", err)
	}

	l.arenaMtx.Lock()
	defer l.arenaMtx.Unlock()

	for _, state := range states {
		var dirty bool
		for tag, balance := range state.Balances {
			for d := range balance.InFlight {
				if balance.InFlight[d] == 0 {
					continue
				}
				balance.Local[d] += balance.InFlight[d]
				balance.InFlight[d] = 0
				dirty = true
			}
			state.Balances[tag] = balance
		}

		if err := state.Verify(); err != nil {
			return fmt.Errorf("stored channel %v: %w",
				state.ChannelID, err)
		}

		if dirty {
			log.Infof("Returned stale in-flight funds of channel %v",
				state.ChannelID)

			err := l.cfg.Store.UpsertChannel(ctx, state)
			if err != nil {
				return err
			}
		}

		l.channels[state.ChannelID] = &channel{
			state:  state,
			active: make(map[uint64]*Reservation),
		}
	}

	log.Infof("Loaded %d channels", len(states))

	return nil
}

// OpenChannel adds a new channel to the arena.
func (l *Ledger) OpenChannel(ctx context.Context, state *ChannelState) error {
	if err := state.Verify(); err != nil {
		return err
	}
	if state.Status == StatusClosed {
		return fmt.Errorf("cannot add closed channel %v",
			state.ChannelID)
	}

	state = state.Copy()

	l.arenaMtx.Lock()
	if _, ok := l.channels[state.ChannelID]; ok {
		l.arenaMtx.Unlock()
		return fmt.Errorf("%w: %v", ErrChannelExists, state.ChannelID)
	}

	if err := l.persist(ctx, state); err != nil {
		l.arenaMtx.Unlock()
		return err
	}

	l.channels[state.ChannelID] = &channel{
		state:  state,
		active: make(map[uint64]*Reservation),
	}
	atomic.AddUint64(&l.version, 1)
	l.arenaMtx.Unlock()

	log.Infof("Added channel %v (status=%v, dimensions=%d)",
		state.ChannelID, state.Status, len(state.Balances))

	l.publish(&CapacityUpdate{
		Kind:      UpdateOpened,
		ChannelID: state.ChannelID,
		Chromas:   state.chromas(),
		State:     state.Copy(),
	})

	return nil
}

// MarkOpen transitions a pending channel to open once its funding
// transaction confirmed.
func (l *Ledger) MarkOpen(ctx context.Context,
	id lnwire.ShortChannelID) error {

	state, err := l.mutate(ctx, id, func(next *ChannelState) (func(),
		error) {

		if next.Status != StatusPending {
			return nil, fmt.Errorf("channel %v is %v", id,
				next.Status)
		}
		next.Status = StatusOpen

		return nil, nil
	})
	if err != nil {
		return err
	}

	log.Infof("Channel %v is open", id)

	l.publish(&CapacityUpdate{
		Kind:      UpdateOpened,
		ChannelID: id,
		Chromas:   state.chromas(),
		State:     state,
	})

	return nil
}

// CloseChannel marks a channel as closed. Reservations that were not
// committed yet are invalidated and their funds returned to the sender.
// Committed reservations stay in flight until they are resolved.
func (l *Ledger) CloseChannel(ctx context.Context,
	id lnwire.ShortChannelID) error {

	var invalidated []*Reservation
	state, err := l.mutateLocked(ctx, id, func(ch *channel,
		next *ChannelState) (func(), error) {

		if next.Status == StatusClosed {
			return nil, fmt.Errorf("channel %v already closed", id)
		}
		next.Status = StatusClosed

		for _, res := range ch.active {
			if res.state != ReservationActive {
				continue
			}
			unreserve(next, res, res.Direction)
			invalidated = append(invalidated, res)
		}

		return func() {
			for _, res := range invalidated {
				res.state = ReservationInvalidated
				delete(ch.active, res.ID)
			}
		}, nil
	})
	if err != nil {
		return err
	}

	log.Infof("Channel %v closed, invalidated %d reservations", id,
		len(invalidated))

	l.publish(&CapacityUpdate{
		Kind:      UpdateClosed,
		ChannelID: id,
		Chromas:   state.chromas(),
		State:     state,
	})

	return nil
}

// Channel returns a copy of the state of a single channel.
func (l *Ledger) Channel(id lnwire.ShortChannelID) (*ChannelState, error) {
	ch, err := l.lookup(id)
	if err != nil {
		return nil, err
	}

	ch.Lock()
	defer ch.Unlock()

	return ch.state.Copy(), nil
}

// Version returns a counter that changes whenever any channel state changes.
func (l *Ledger) Version() uint64 {
	return atomic.LoadUint64(&l.version)
}

// Channels returns a copy of every channel, ordered by channel ID.
func (l *Ledger) Channels() []*ChannelState {
	l.arenaMtx.RLock()
	entries := make([]*channel, 0, len(l.channels))
	for _, ch := range l.channels {
		entries = append(entries, ch)
	}
	l.arenaMtx.RUnlock()

	states := make([]*ChannelState, 0, len(entries))
	for _, ch := range entries {
		ch.Lock()
		states = append(states, ch.state.Copy())
		ch.Unlock()
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].ChannelID.ToUint64() <
			states[j].ChannelID.ToUint64()
	})

	return states
}

// Reserve moves the requested amount of the sender's local balance in flight.
// The live balance is checked, not any snapshot the caller routed on.
func (l *Ledger) Reserve(ctx context.Context,
	req ReserveRequest) (*Reservation, error) {

	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}

	res := &Reservation{
		ID:        atomic.AddUint64(&l.nextResID, 1),
		ChannelID: req.ChannelID,
		Chroma:    req.Chroma,
		Amount:    req.Amount,
	}
	if !req.Chroma.IsNone() {
		res.Carrier = req.Carrier
	}

	state, err := l.mutateLocked(ctx, req.ChannelID, func(ch *channel,
		next *ChannelState) (func(), error) {

		if next.Status != StatusOpen {
			return nil, fmt.Errorf("%w: channel %v is %v",
				ErrLedgerConflict, req.ChannelID, next.Status)
		}

		d, err := next.Direction(req.From)
		if err != nil {
			return nil, err
		}
		res.Direction = d

		balance, ok := next.Balances[req.Chroma]
		if !ok || balance.Local[d] < req.Amount {
			return nil, fmt.Errorf("%w: channel %v can send %d of "+
				"%v, need %d", ErrLedgerConflict, req.ChannelID,
				balance.Local[d], req.Chroma.Short(),
				req.Amount)
		}

		if res.Carrier > 0 {
			base := next.Balances[chroma.None]
			if base.Local[d] < res.Carrier {
				return nil, fmt.Errorf("%w: channel %v cannot "+
					"carry asset htlc: %d msat available, "+
					"need %d", ErrLedgerConflict,
					req.ChannelID, base.Local[d],
					res.Carrier)
			}
		}

		reserve(next, res, d)

		return func() {
			ch.active[res.ID] = res
		}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Tracef("Reserved %d of %v on channel %v (res=%d)", res.Amount,
		res.Chroma.Short(), res.ChannelID, res.ID)

	l.publish(&CapacityUpdate{
		Kind:      UpdateReserved,
		ChannelID: res.ChannelID,
		Chromas:   res.chromas(),
		State:     state,
	})

	return res, nil
}

// Commit re-validates a reservation at HTLC commit time. It fails with
// ErrLedgerConflict if the channel is no longer open or the reservation was
// invalidated in the meantime. Committing twice is a no-op.
func (l *Ledger) Commit(ctx context.Context, res *Reservation) error {
	ch, err := l.lookup(res.ChannelID)
	if err != nil {
		return err
	}

	ch.Lock()
	defer ch.Unlock()

	switch res.state {
	case ReservationCommitted:
		return nil

	case ReservationActive:

	default:
		return fmt.Errorf("%w: reservation %d is %v", ErrLedgerConflict,
			res.ID, res.state)
	}

	if ch.state.Status != StatusOpen {
		return fmt.Errorf("%w: channel %v is %v", ErrLedgerConflict,
			res.ChannelID, ch.state.Status)
	}

	balance := ch.state.Balances[res.Chroma]
	if balance.InFlight[res.Direction] < res.Amount {
		return fmt.Errorf("%w: in-flight balance of channel %v below "+
			"reservation %d", ErrLedgerConflict, res.ChannelID,
			res.ID)
	}

	res.state = ReservationCommitted

	return nil
}

// Settle moves the in-flight funds of a committed reservation to the
// receiving side. Settling twice is a no-op.
func (l *Ledger) Settle(ctx context.Context, res *Reservation) error {
	return l.resolve(ctx, res, ReservationSettled)
}

// Release returns the in-flight funds of a reservation to the sending side.
// Releasing an already released or invalidated reservation is a no-op.
func (l *Ledger) Release(ctx context.Context, res *Reservation) error {
	return l.resolve(ctx, res, ReservationReleased)
}

// resolve applies a terminal transition to a reservation.
func (l *Ledger) resolve(ctx context.Context, res *Reservation,
	target ReservationState) error {

	var noop bool
	state, err := l.mutateLocked(ctx, res.ChannelID, func(ch *channel,
		next *ChannelState) (func(), error) {

		switch {
		case res.state == target:
			noop = true
			return nil, errNoop

		case target == ReservationReleased &&
			res.state == ReservationInvalidated:

			noop = true
			return nil, errNoop

		case target == ReservationSettled &&
			res.state != ReservationCommitted:

			return nil, fmt.Errorf("%w: cannot settle %v "+
				"reservation %d", ErrLedgerConflict, res.state,
				res.ID)

		case target == ReservationReleased &&
			res.state == ReservationSettled:

			return nil, fmt.Errorf("%w: cannot release settled "+
				"reservation %d", ErrLedgerConflict, res.ID)
		}

		if target == ReservationSettled {
			settle(next, res)
		} else {
			unreserve(next, res, res.Direction)
		}

		return func() {
			res.state = target
			delete(ch.active, res.ID)
		}, nil
	})
	switch {
	case noop:
		return nil

	case err != nil:
		return err
	}

	kind := UpdateSettled
	if target == ReservationReleased {
		kind = UpdateReleased
	}

	log.Tracef("Reservation %d on channel %v %v", res.ID, res.ChannelID,
		target)

	l.publish(&CapacityUpdate{
		Kind:      kind,
		ChannelID: res.ChannelID,
		Chromas:   res.chromas(),
		State:     state,
	})

	return nil
}

// State returns the current state of a reservation.
func (l *Ledger) State(res *Reservation) (ReservationState, error) {
	ch, err := l.lookup(res.ChannelID)
	if err != nil {
		return 0, err
	}

	ch.Lock()
	defer ch.Unlock()

	return res.state, nil
}

// RegisterSubscriber adds a new subscriber for capacity updates. If
// deliverExisting is set, every channel carrying the given dimension is
// replayed as an UpdateOpened event. chroma.None replays all channels.
func (l *Ledger) RegisterSubscriber(
	receiver *fn.EventReceiver[*CapacityUpdate], deliverExisting bool,
	deliverFrom chroma.Chroma) error {

	if !deliverExisting {
		l.subscribers.Add(receiver, nil)
		return nil
	}

	l.subscribers.Add(receiver, func() []*CapacityUpdate {
		var backlog []*CapacityUpdate
		for _, state := range l.Channels() {
			if _, ok := state.Balances[deliverFrom]; !ok {
				continue
			}

			backlog = append(backlog, &CapacityUpdate{
				Kind:      UpdateOpened,
				ChannelID: state.ChannelID,
				Chromas:   state.chromas(),
				State:     state,
			})
		}

		return backlog
	})

	return nil
}

// RemoveSubscriber removes the given subscriber and also stops it from
// processing events.
func (l *Ledger) RemoveSubscriber(
	subscriber *fn.EventReceiver[*CapacityUpdate]) error {

	return l.subscribers.Remove(subscriber)
}

// publish delivers an update to every subscriber.
func (l *Ledger) publish(update *CapacityUpdate) {
	l.subscribers.Publish(update)
}

// errNoop signals a mutation that has nothing to apply.
var errNoop = errors.New("no-op")

// lookup returns the arena entry of a channel.
func (l *Ledger) lookup(id lnwire.ShortChannelID) (*channel, error) {
	l.arenaMtx.RLock()
	defer l.arenaMtx.RUnlock()

	ch, ok := l.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrChannelNotFound, id)
	}

	return ch, nil
}

// mutate applies a change to a copy of a channel state.
func (l *Ledger) mutate(ctx context.Context, id lnwire.ShortChannelID,
	f func(next *ChannelState) (func(), error)) (*ChannelState, error) {

	return l.mutateLocked(ctx, id, func(_ *channel,
		next *ChannelState) (func(), error) {

		return f(next)
	})
}

// mutateLocked applies a change to a copy of a channel state while holding
// the channel mutex. The copy is verified and persisted before it replaces
// the live state, and only then is the returned apply closure run. A failed
// mutation leaves the live state untouched.
func (l *Ledger) mutateLocked(ctx context.Context, id lnwire.ShortChannelID,
	f func(ch *channel, next *ChannelState) (func(), error)) (*ChannelState,
	error) {

	ch, err := l.lookup(id)
	if err != nil {
		return nil, err
	}

	ch.Lock()
	defer ch.Unlock()

	next := ch.state.Copy()
	apply, err := f(ch, next)
	if err != nil {
		return nil, err
	}

	if err := next.Verify(); err != nil {
		log.Errorf("Rejected mutation of channel %v: %v", id, err)
		return nil, err
	}

	if err := l.persist(ctx, next); err != nil {
		return nil, err
	}

	ch.state = next
	if apply != nil {
		apply()
	}
	atomic.AddUint64(&l.version, 1)

	return next.Copy(), nil
}

// persist writes a channel state to the store, if there is one.
func (l *Ledger) persist(ctx context.Context, state *ChannelState) error {
	if l.cfg.Store == nil {
		return nil
	}

	ctxt, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	if err := l.cfg.Store.UpsertChannel(ctxt, state); err != nil {
		return fmt.Errorf("unable to persist channel %v: %w",
			state.ChannelID, err)
	}

	return nil
}

// chromas returns the dimensions of a channel in a stable order.
func (c *ChannelState) chromas() []chroma.Chroma {
	return chroma.SortedKeys(c.Balances)
}

// reserve moves the amounts of a reservation from local to in flight.
func reserve(state *ChannelState, res *Reservation, d Direction) {
	balance := state.Balances[res.Chroma]
	balance.Local[d] -= res.Amount
	balance.InFlight[d] += res.Amount
	state.Balances[res.Chroma] = balance

	if res.Carrier > 0 {
		base := state.Balances[chroma.None]
		base.Local[d] -= res.Carrier
		base.InFlight[d] += res.Carrier
		state.Balances[chroma.None] = base
	}
}

// unreserve returns the amounts of a reservation to the sender.
func unreserve(state *ChannelState, res *Reservation, d Direction) {
	move := func(tag chroma.Chroma, amt uint64) {
		balance := state.Balances[tag]
		balance.InFlight[d] -= amt
		balance.Local[d] += amt
		state.Balances[tag] = balance
	}

	move(res.Chroma, res.Amount)
	if res.Carrier > 0 {
		move(chroma.None, res.Carrier)
	}
}

// settle moves the amounts of a reservation to the receiver.
func settle(state *ChannelState, res *Reservation) {
	d := res.Direction
	move := func(tag chroma.Chroma, amt uint64) {
		balance := state.Balances[tag]
		balance.InFlight[d] -= amt
		balance.Local[d.Opposite()] += amt
		state.Balances[tag] = balance
	}

	move(res.Chroma, res.Amount)
	if res.Carrier > 0 {
		move(chroma.None, res.Carrier)
	}
}
