package htlcswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akitamiabtc/yuvln/fn"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultTimeout is the default timeout used for sending messages.
	DefaultTimeout = 30 * time.Second

	// DefaultDedupTTL is how long a delivered circuit message is
	// remembered to drop redelivered copies.
	DefaultDedupTTL = 10 * time.Minute

	// waiterBuffer is the buffer of every shard waiter channel. A shard
	// that falls this far behind loses further messages.
	waiterBuffer = 64
)

var (
	// ErrMailboxShuttingDown is returned when the mailbox stops while a
	// message is dispatched.
	ErrMailboxShuttingDown = errors.New("mailbox shutting down")

	// ErrAlreadyRegistered is returned when a shard is registered twice.
	ErrAlreadyRegistered = errors.New("shard already registered")
)

// PeerMessenger is an interface that abstracts the peer message transport
// layer.
type PeerMessenger interface {
	// SubscribeCustomMessages creates a subscription to raw messages
	// received from our peers.
	SubscribeCustomMessages(
		ctx context.Context) (<-chan lndclient.CustomMessage,
		<-chan error, error)

	// SendCustomMessage sends a raw message to a peer.
	SendCustomMessage(context.Context, lndclient.CustomMessage) error
}

// Handler processes a message no shard waiter is registered for.
type Handler func(msg PeerMessage)

// MailboxConfig holds the collaborators of the mailbox.
type MailboxConfig struct {
	// Messenger is the peer transport.
	Messenger PeerMessenger

	// DedupTTL is how long delivered circuit messages are remembered.
	DedupTTL time.Duration

	// SendRetry configures retries of failed sends.
	SendRetry fn.RetryConfig

	// ErrChan receives a critical error if the transport subscription
	// ends. It may be nil.
	ErrChan chan<- error
}

// dedupKey identifies one delivered circuit message.
type dedupKey struct {
	circuit CircuitKey
	msgType lnwire.MessageType
}

// Mailbox decodes incoming peer messages, drops redelivered copies of
// circuit messages and routes every message either to the waiter of its
// shard or to the registered handlers.
type Mailbox struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg *MailboxConfig

	mu       sync.Mutex
	waiters  map[ShardKey]chan PeerMessage
	handlers map[lnwire.MessageType][]Handler
	seen     map[dedupKey]time.Time

	pruneTicker ticker.Ticker

	*fn.ContextGuard
}

// NewMailbox creates a new mailbox.
func NewMailbox(cfg *MailboxConfig) *Mailbox {
	if cfg.DedupTTL == 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}

	return &Mailbox{
		cfg:         cfg,
		waiters:     make(map[ShardKey]chan PeerMessage),
		handlers:    make(map[lnwire.MessageType][]Handler),
		seen:        make(map[dedupKey]time.Time),
		pruneTicker: ticker.New(cfg.DedupTTL / 2),
		ContextGuard: &fn.ContextGuard{
			DefaultTimeout: DefaultTimeout,
			Quit:           make(chan struct{}),
		},
	}
}

// Start subscribes to the transport and starts dispatching.
func (m *Mailbox) Start() error {
	var startErr error
	m.startOnce.Do(func() {
		log.Info("Starting mailbox")

		ctx, cancel := m.WithCtxQuitNoTimeout()
		msgs, errs, err := m.cfg.Messenger.SubscribeCustomMessages(ctx)
		if err != nil {
			cancel()
			startErr = fmt.Errorf("unable to subscribe to peer "+
				"messages: %w", err)
			return
		}

		m.pruneTicker.Resume()

		m.Wg.Add(1)
		go func() {
			defer m.Wg.Done()
			defer cancel()

			m.mainEventLoop(msgs, errs)
		}()
	})

	return startErr
}

// Stop stops dispatching.
func (m *Mailbox) Stop() error {
	m.stopOnce.Do(func() {
		log.Info("Stopping mailbox")

		close(m.Quit)
		m.Wg.Wait()
		m.pruneTicker.Stop()
	})

	return nil
}

// RegisterHandler adds a handler for a message type. Circuit messages only
// reach handlers if no waiter is registered for their shard.
func (m *Mailbox) RegisterHandler(msgType lnwire.MessageType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[msgType] = append(m.handlers[msgType], h)
}

// RegisterShard returns a channel that receives every circuit message of the
// given shard. The returned function unregisters the waiter.
func (m *Mailbox) RegisterShard(key ShardKey) (<-chan PeerMessage, func(),
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.waiters[key]; ok {
		return nil, nil, fmt.Errorf("%w: %v", ErrAlreadyRegistered,
			key)
	}

	c := make(chan PeerMessage, waiterBuffer)
	m.waiters[key] = c

	return c, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.waiters, key)
	}, nil
}

// Send encodes and sends a message to a peer, retrying transient transport
// errors.
func (m *Mailbox) Send(ctx context.Context, msg PeerMessage) error {
	wireMsg, err := ToWire(msg.Peer, msg.Msg)
	if err != nil {
		return err
	}

	customMsg := lndclient.CustomMessage{
		Peer:    wireMsg.Peer,
		MsgType: uint32(wireMsg.MsgType),
		Data:    wireMsg.Data,
	}

	log.Tracef("Sending %v to %x", msg.Msg, msg.Peer[:4])

	_, err = fn.RetryFuncN(ctx, m.cfg.SendRetry, func() (struct{}, error) {
		return struct{}{}, m.cfg.Messenger.SendCustomMessage(
			ctx, customMsg,
		)
	})
	if err != nil {
		return fmt.Errorf("unable to send %v to %x: %w", msg.Msg,
			msg.Peer[:4], err)
	}

	return nil
}

// mainEventLoop executes the main event handling loop.
func (m *Mailbox) mainEventLoop(msgs <-chan lndclient.CustomMessage,
	errs <-chan error) {

	log.Debug("Starting mailbox event loop")

	for {
		select {
		case rawMsg, ok := <-msgs:
			if !ok {
				m.reportCritical(errors.New("peer message " +
					"subscription closed unexpectedly"))
				return
			}

			// Convert custom message type to wire message type,
			// taking care not to overflow in the down conversion.
			if rawMsg.MsgType > uint32(MaxMessageType) {
				log.Warnf("Received message with invalid "+
					"type: msg_type=%d", rawMsg.MsgType)
				continue
			}

			m.handleWireMessage(WireMessage{
				Peer:    rawMsg.Peer,
				MsgType: lnwire.MessageType(rawMsg.MsgType),
				Data:    rawMsg.Data,
			})

		case err := <-errs:
			if fn.IsCanceled(err) {
				log.Debugf("Peer message subscription "+
					"canceled: %v", err)
				return
			}

			m.reportCritical(fmt.Errorf("peer message "+
				"subscription failed: %w", err))
			return

		case <-m.pruneTicker.Ticks():
			m.prune(time.Now())

		case <-m.Quit:
			log.Debug("Received quit signal. Stopping mailbox " +
				"event loop")
			return
		}
	}
}

// reportCritical logs an error that ends the mailbox and hands it to the
// daemon.
func (m *Mailbox) reportCritical(err error) {
	log.Errorf("Mailbox stopped dispatching: %v", err)

	if m.cfg.ErrChan == nil {
		return
	}

	fn.SendOrQuit(m.cfg.ErrChan, error(fn.NewCriticalError(err)), m.Quit)
}

// handleWireMessage decodes and dispatches one incoming message.
func (m *Mailbox) handleWireMessage(wireMsg WireMessage) {
	msg, err := NewMessageFromWire(wireMsg)
	switch {
	case errors.Is(err, ErrUnknownMessageType):
		log.Tracef("Silently disregarding incoming message of "+
			"unknown type (msg_type=%d)", wireMsg.MsgType)
		return

	case err != nil:
		log.Warnf("Unable to decode message from %x: %v",
			wireMsg.Peer[:4], err)
		return
	}

	m.Deliver(PeerMessage{Peer: wireMsg.Peer, Msg: msg})
}

// Deliver dispatches a decoded message. Circuit messages that were already
// delivered are dropped. A waiter is fed while the lock is held, so once its
// shard is unregistered every later message goes to the handlers.
func (m *Mailbox) Deliver(msg PeerMessage) {
	m.mu.Lock()

	if cm, ok := msg.Msg.(CircuitMessage); ok {
		key := dedupKey{circuit: cm.Circuit(), msgType: cm.MsgType()}
		if _, dup := m.seen[key]; dup {
			m.mu.Unlock()

			log.Debugf("Dropping redelivered %v from %x", msg.Msg,
				msg.Peer[:4])
			return
		}
		m.seen[key] = time.Now()

		if waiter, ok := m.waiters[cm.Circuit().ShardKey]; ok {
			select {
			case waiter <- msg:
				log.Debugf("Received %v from %x", msg.Msg,
					msg.Peer[:4])

			default:
				log.Warnf("Waiter of shard %v is full, dropped "+
					"%v from %x", cm.Circuit().ShardKey,
					msg.Msg, msg.Peer[:4])
			}
			m.mu.Unlock()

			return
		}
	}

	handlers := m.handlers[msg.Msg.MsgType()]
	m.mu.Unlock()

	log.Debugf("Received %v from %x", msg.Msg, msg.Peer[:4])

	if len(handlers) == 0 {
		log.Debugf("No recipient for %v from %x", msg.Msg,
			msg.Peer[:4])
		return
	}

	for _, h := range handlers {
		h(msg)
	}
}

// prune forgets delivered circuit messages older than the dedup TTL.
func (m *Mailbox) prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned int
	for key, at := range m.seen {
		if now.Sub(at) > m.cfg.DedupTTL {
			delete(m.seen, key)
			pruned++
		}
	}

	if pruned > 0 {
		log.Tracef("Pruned %d delivered message markers", pruned)
	}
}
