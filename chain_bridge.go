package yuvln

import (
	"context"
	"errors"
	"fmt"

	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/chainntnfs"
)

// ErrChainNotSynced is returned by the chain bridge while lnd is still
// catching up with the chain. HTLC expiries are never derived from a stale
// height.
var ErrChainNotSynced = errors.New("lnd is not synced to chain")

// LndChainBridge gives the router components access to the chain through
// the notifier and info calls of a remote lnd node.
type LndChainBridge struct {
	lnd *lndclient.LndServices
}

// NewLndChainBridge creates a chain bridge on top of the lnd services.
func NewLndChainBridge(lnd *lndclient.LndServices) *LndChainBridge {
	return &LndChainBridge{
		lnd: lnd,
	}
}

// RegisterConfirmationsNtfn watches a funding transaction until it reaches
// numConfs confirmations. The height hint is the block of the channel ID,
// lnd scans from the genesis block if it is zero.
func (l *LndChainBridge) RegisterConfirmationsNtfn(ctx context.Context,
	txid *chainhash.Hash, pkScript []byte, numConfs,
	heightHint uint32) (*chainntnfs.ConfirmationEvent, chan error, error) {

	if heightHint == 0 {
		heightHint = 1
	}

	ctx, cancel := context.WithCancel(ctx) // nolint:govet
	confs, errs, err := l.lnd.ChainNotifier.RegisterConfirmationsNtfn(
		ctx, txid, pkScript, int32(numConfs), int32(heightHint),
	)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("unable to watch funding tx %v: %w",
			txid, err)
	}

	return &chainntnfs.ConfirmationEvent{
		Confirmed: confs,
		Cancel:    cancel,
	}, errs, nil
}

// RegisterBlockEpochNtfn streams the height of every connected block.
func (l *LndChainBridge) RegisterBlockEpochNtfn(
	ctx context.Context) (chan int32, chan error, error) {

	return l.lnd.ChainNotifier.RegisterBlockEpochNtfn(ctx)
}

// CurrentHeight returns the height of the chain tip known to lnd.
func (l *LndChainBridge) CurrentHeight(ctx context.Context) (uint32, error) {
	info, err := l.lnd.Client.GetInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to query chain tip: %w", err)
	}
	if !info.SyncedToChain {
		return 0, fmt.Errorf("%w: tip %d", ErrChainNotSynced,
			info.BlockHeight)
	}

	return info.BlockHeight, nil
}

var (
	_ payments.ChainBridge = (*LndChainBridge)(nil)
	_ invoices.ChainBridge = (*LndChainBridge)(nil)
	_ FundingNotifier      = (*LndChainBridge)(nil)
)

// LndPeerMessenger carries the router messages as custom peer messages of
// lnd.
type LndPeerMessenger struct {
	lnd *lndclient.LndServices
}

// NewLndPeerMessenger creates a peer messenger on top of the lnd services.
func NewLndPeerMessenger(lnd *lndclient.LndServices) *LndPeerMessenger {
	return &LndPeerMessenger{
		lnd: lnd,
	}
}

// SubscribeCustomMessages streams the custom messages of every peer.
func (l *LndPeerMessenger) SubscribeCustomMessages(
	ctx context.Context) (<-chan lndclient.CustomMessage,
	<-chan error, error) {

	return l.lnd.Client.SubscribeCustomMessages(ctx)
}

// SendCustomMessage sends a custom message to a connected peer.
func (l *LndPeerMessenger) SendCustomMessage(ctx context.Context,
	msg lndclient.CustomMessage) error {

	if err := l.lnd.Client.SendCustomMessage(ctx, msg); err != nil {
		return fmt.Errorf("unable to send message type %d to %v: %w",
			msg.MsgType, msg.Peer, err)
	}

	return nil
}
