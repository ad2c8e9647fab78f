package payments

import (
	"errors"
	"fmt"

	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/splitter"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// hop is the state of one hop of a shard.
type hop struct {
	edge graph.Edge
	res  *ledger.Reservation
	htlc *htlcswitch.HTLC

	// rejected is set if the receiving node failed the HTLC itself.
	rejected bool
}

// shardRunner drives the HTLCs of one shard forward hop by hop, then settles
// them backward or rolls them back.
type shardRunner struct {
	c       *Coordinator
	attempt *Attempt
	shard   *splitter.Shard
	key     htlcswitch.ShardKey

	// result is guarded by the coordinator mutex.
	result *ShardResult

	// blame is the channel that caused the failure of the shard, if any.
	blame *lnwire.ShortChannelID

	msgs       <-chan htlcswitch.PeerMessage
	unregister func()
	epochs     chan int32
	epochErrs  chan error
	height     uint32

	hops []*hop
}

func newShardRunner(c *Coordinator, attempt *Attempt, shard *splitter.Shard,
	round int) *shardRunner {

	id := attempt.newShardID()

	chans := make([]lnwire.ShortChannelID, 0, len(shard.Path.Hops))
	for _, edge := range shard.Path.Hops {
		chans = append(chans, edge.ChannelID)
	}

	return &shardRunner{
		c:       c,
		attempt: attempt,
		shard:   shard,
		key: htlcswitch.ShardKey{
			Hash:    attempt.Hash,
			ShardID: id,
		},
		result: &ShardResult{
			ShardID: id,
			Round:   round,
			Path:    shard.Path,
			Route:   chans,
			Amount:  shard.Amount,
			Status:  ShardInFlight,
		},
	}
}

// run drives the shard to a terminal state.
func (s *shardRunner) run() {
	log.Debugf("Shard %v: sending %d over %v", s.key, s.shard.Amount,
		s.shard.Path)

	if err := s.subscribe(); err != nil {
		s.finish(ShardFailed, err)
		return
	}
	defer s.unregister()

	ctx, cancel := s.c.WithCtxQuit()
	height, err := s.c.cfg.Chain.CurrentHeight(ctx)
	cancel()
	if err != nil {
		s.finish(ShardFailed, fmt.Errorf("unable to fetch block "+
			"height: %w", err))
		return
	}
	s.height = height

	finalExpiry := height + s.c.cfg.FinalExpiryDelta
	for i := range s.shard.Path.Hops {
		if err := s.forward(i, finalExpiry); err != nil {
			s.rollback(err)
			return
		}
	}

	preimage, err := s.awaitPreimage()
	if err != nil {
		s.rollback(err)
		return
	}

	s.settle(preimage)
}

// subscribe registers the shard with the mailbox and the chain.
func (s *shardRunner) subscribe() error {
	msgs, unregister, err := s.c.cfg.Mailbox.RegisterShard(s.key)
	if err != nil {
		return err
	}

	ctx, cancel := s.c.WithCtxQuitNoTimeout()
	epochs, errs, err := s.c.cfg.Chain.RegisterBlockEpochNtfn(ctx)
	if err != nil {
		cancel()
		unregister()

		return fmt.Errorf("unable to register for blocks: %w", err)
	}

	s.msgs = msgs
	s.epochs = epochs
	s.epochErrs = errs

	var done bool
	s.unregister = func() {
		if done {
			return
		}
		done = true

		unregister()
		cancel()
	}

	return nil
}

// forward reserves, offers and commits the HTLC of the given hop.
func (s *shardRunner) forward(idx int, finalExpiry uint32) error {
	var (
		edge    = s.shard.Path.Hops[idx]
		amount  = s.shard.Amount
		tag     = s.attempt.Chroma
		carrier = s.c.carrier(tag)
		expiry  = finalExpiry + s.shard.Path.ExpiryDeltaAfter(idx)
		key     = htlcswitch.CircuitKey{ShardKey: s.key, Hop: uint16(idx)}
	)

	ctx, cancel := s.c.WithCtxQuit()
	res, err := s.c.cfg.Ledger.Reserve(ctx, ledger.ReserveRequest{
		ChannelID: edge.ChannelID,
		From:      edge.From,
		Chroma:    tag,
		Amount:    amount,
		Carrier:   carrier,
	})
	cancel()
	if err != nil {
		s.blame = &edge.ChannelID
		return fmt.Errorf("unable to reserve hop %d: %w", idx, err)
	}

	h := &hop{
		edge: edge,
		res:  res,
		htlc: htlcswitch.NewHTLC(
			key, edge.ChannelID, amount, tag, expiry,
		),
	}
	s.hops = append(s.hops, h)

	add := &htlcswitch.AddHTLC{
		CircuitKey:  key,
		ChannelID:   edge.ChannelID,
		Amount:      amount,
		Chroma:      tag,
		Expiry:      expiry,
		Carrier:     carrier,
		TotalAmount: s.attempt.Amount,
	}
	if idx == len(s.shard.Path.Hops)-1 {
		add.KeysendPreimage = s.attempt.KeysendPreimage
	}
	if err := s.send(edge.To, add); err != nil {
		s.blame = &edge.ChannelID
		return err
	}

	if _, err := s.await(idx, htlcswitch.MsgTypeAckHTLC); err != nil {
		return err
	}

	digest, err := add.CommitmentDigest()
	if err != nil {
		return err
	}

	ctx, cancel = s.c.WithCtxQuit()
	sig, err := s.c.cfg.Signer.SignCommitment(ctx, digest)
	cancel()
	if err != nil {
		return fmt.Errorf("unable to sign commitment of hop %d: %w",
			idx, err)
	}

	// The snapshot the path was found on may be stale, so the
	// reservation is validated against the live channel again.
	ctx, cancel = s.c.WithCtxQuit()
	err = s.c.cfg.Ledger.Commit(ctx, res)
	cancel()
	if err != nil {
		s.blame = &edge.ChannelID
		return fmt.Errorf("unable to commit hop %d: %w", idx, err)
	}

	if err := h.htlc.Commit(); err != nil {
		return err
	}

	return s.send(edge.To, &htlcswitch.CommitHTLC{
		CircuitKey: key,
		Sig:        sig,
	})
}

// awaitPreimage waits for the destination to fulfill the last hop.
func (s *shardRunner) awaitPreimage() (lntypes.Preimage, error) {
	last := len(s.hops) - 1

	msg, err := s.await(last, htlcswitch.MsgTypeFulfillHTLC)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	preimage := msg.(*htlcswitch.FulfillHTLC).Preimage
	if err := s.hops[last].htlc.Fulfill(preimage); err != nil {
		s.blame = &s.hops[last].edge.ChannelID
		return lntypes.Preimage{}, err
	}

	s.attempt.reveal(preimage)

	log.Debugf("Shard %v: destination revealed preimage", s.key)

	return preimage, nil
}

// await waits for a message of the given type about the given hop from the
// node that received its HTLC. A failure of this or any earlier hop, the
// expiry of its HTLC, the loss of the block subscription, the cancellation of
// the attempt and a shutdown end the wait with an error.
func (s *shardRunner) await(idx int,
	want lnwire.MessageType) (htlcswitch.Message, error) {

	h := s.hops[idx]
	for {
		select {
		case msg := <-s.msgs:
			cm, ok := msg.Msg.(htlcswitch.CircuitMessage)
			if !ok {
				continue
			}

			// An upstream node may give up on its HTLC while we
			// still wait further down the path.
			j := int(cm.Circuit().Hop)
			if fail, ok := msg.Msg.(*htlcswitch.FailHTLC); ok &&
				j <= idx {

				failed := s.hops[j]
				if msg.Peer != failed.edge.To {
					log.Warnf("Shard %v: ignoring %v from "+
						"%x, expected %x", s.key,
						msg.Msg, msg.Peer[:4],
						failed.edge.To[:4])
					continue
				}

				failed.rejected = true
				s.blame = &failed.edge.ChannelID

				return nil, fail.ToError(
					msg.Peer, failed.edge.ChannelID,
				)
			}

			if j != idx {
				log.Debugf("Shard %v: ignoring %v while "+
					"waiting on hop %d", s.key, msg.Msg, idx)
				continue
			}

			if msg.Peer != h.edge.To {
				log.Warnf("Shard %v: ignoring %v from %x, "+
					"expected %x", s.key, msg.Msg,
					msg.Peer[:4], h.edge.To[:4])
				continue
			}

			if msg.Msg.MsgType() != want {
				log.Debugf("Shard %v: ignoring unexpected %v",
					s.key, msg.Msg)
				continue
			}

			return msg.Msg, nil

		case height, ok := <-s.epochs:
			if !ok {
				return nil, errBlockSubscriptionClosed
			}

			s.height = uint32(height)
			if h.htlc.CheckExpiry(s.height) {
				s.blame = &h.edge.ChannelID
				return nil, h.htlc.Failure()
			}

		case err := <-s.epochErrs:
			// Without block heights the expiry of the HTLCs can
			// no longer be watched.
			return nil, fmt.Errorf("block subscription failed: %w",
				err)

		case <-s.attempt.Done():
			return nil, s.attempt.Cancelled()

		case <-s.c.Quit:
			return nil, ErrCoordinatorShuttingDown
		}
	}
}

// settle fulfills every hop from the destination back to us.
func (s *shardRunner) settle(preimage lntypes.Preimage) {
	last := len(s.hops) - 1

	var settleErr error
	for i := last; i >= 0; i-- {
		h := s.hops[i]

		if err := h.htlc.Fulfill(preimage); err != nil {
			if errors.Is(err, htlcswitch.ErrDoubleResolution) {
				s.attempt.recordViolation(err)
			}
			settleErr = err
		}

		ctx, cancel := s.c.WithCtxQuit()
		err := s.c.cfg.Ledger.Settle(ctx, h.res)
		cancel()
		if err != nil {
			log.Errorf("Shard %v: unable to settle hop %d: %v",
				s.key, i, err)
			settleErr = err
		}

		// The destination fulfilled the last hop itself.
		if i == last {
			continue
		}

		fulfill := &htlcswitch.FulfillHTLC{
			CircuitKey: h.htlc.Key,
			Preimage:   preimage,
		}
		if err := s.send(h.edge.To, fulfill); err != nil {
			log.Warnf("Shard %v: %v", s.key, err)
		}
	}

	log.Debugf("Shard %v: fulfilled %d", s.key, s.shard.Amount)

	s.finish(ShardFulfilled, settleErr)
}

// rollback fails and releases every hop from the last offered one back to
// us.
func (s *shardRunner) rollback(cause error) {
	log.Debugf("Shard %v: rolling back %d hops: %v", s.key, len(s.hops),
		cause)

	// Fulfillments arriving from now on are handled by the coordinator.
	for _, h := range s.hops {
		s.attempt.trackFailed(h.htlc, h.edge.To)
	}
	s.unregister()
	s.drain()

	for i := len(s.hops) - 1; i >= 0; i-- {
		h := s.hops[i]

		if err := h.htlc.Fail(cause); err != nil {
			s.attempt.recordViolation(err)
		}

		ctx, cancel := s.c.WithCtxQuit()
		err := s.c.cfg.Ledger.Release(ctx, h.res)
		cancel()
		if err != nil {
			log.Errorf("Shard %v: unable to release hop %d: %v",
				s.key, i, err)
		}
	}

	code := failCode(cause)
	for i := len(s.hops) - 1; i >= 0; i-- {
		h := s.hops[i]
		if h.rejected {
			continue
		}

		fail := &htlcswitch.FailHTLC{
			CircuitKey: h.htlc.Key,
			Code:       code,
			Reason:     []byte(cause.Error()),
		}
		if err := s.send(h.edge.To, fail); err != nil {
			log.Warnf("Shard %v: %v", s.key, err)
		}
	}

	s.finish(ShardFailed, cause)
}

// drain hands fulfillments that reached the shard but were never read to the
// attempt.
func (s *shardRunner) drain() {
	for {
		select {
		case msg := <-s.msgs:
			fulfill, ok := msg.Msg.(*htlcswitch.FulfillHTLC)
			if ok {
				s.attempt.lateFulfill(msg.Peer, fulfill)
			}

		default:
			return
		}
	}
}

// send sends a message to a hop.
func (s *shardRunner) send(peer route.Vertex, msg htlcswitch.Message) error {
	ctx, cancel := s.c.WithCtxQuit()
	defer cancel()

	return s.c.cfg.Mailbox.Send(ctx, htlcswitch.PeerMessage{
		Peer: peer,
		Msg:  msg,
	})
}

// finish records the terminal state of the shard.
func (s *shardRunner) finish(status ShardStatus, err error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.result.Status = status
	s.result.Failure = err
}

// failCode maps the reason of a rollback to the code reported to the hops.
func failCode(cause error) htlcswitch.FailCode {
	var hopErr *htlcswitch.HopRejectedError
	switch {
	case errors.As(cause, &hopErr):
		return hopErr.Code

	case errors.Is(cause, ErrPaymentCancelled),
		errors.Is(cause, ErrCoordinatorShuttingDown):

		return htlcswitch.CodeCancelled

	case errors.Is(cause, htlcswitch.ErrExpiryElapsed):
		return htlcswitch.CodeExpiryTooSoon

	default:
		return htlcswitch.CodeTemporaryChannelFailure
	}
}
