package yuvln

import (
	"context"
	"fmt"

	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/keychain"
	"github.com/lightningnetwork/lnd/routing/route"
)

// nodeKeyLocator is the locator of the identity key of lnd.
var nodeKeyLocator = keychain.KeyLocator{
	Family: keychain.KeyFamilyNodeKey,
	Index:  0,
}

// LndRpcSigner signs and verifies commitment updates with the identity keys
// of the lnd nodes.
type LndRpcSigner struct {
	lnd *lndclient.LndServices
}

// NewLndRpcSigner creates a new signer backed by the given lnd services.
func NewLndRpcSigner(lnd *lndclient.LndServices) *LndRpcSigner {
	return &LndRpcSigner{
		lnd: lnd,
	}
}

// SignCommitment signs the digest of a commitment update with our node key.
func (l *LndRpcSigner) SignCommitment(ctx context.Context,
	digest [32]byte) ([]byte, error) {

	sig, err := l.lnd.Signer.SignMessage(ctx, digest[:], nodeKeyLocator)
	if err != nil {
		return nil, fmt.Errorf("unable to sign commitment: %w", err)
	}

	return sig, nil
}

// VerifyCommitment checks that sig is a signature of the given node over the
// digest of a commitment update.
func (l *LndRpcSigner) VerifyCommitment(ctx context.Context,
	node route.Vertex, digest [32]byte, sig []byte) error {

	valid, err := l.lnd.Signer.VerifyMessage(ctx, digest[:], sig, node)
	if err != nil {
		return fmt.Errorf("unable to verify commitment: %w", err)
	}
	if !valid {
		return fmt.Errorf("invalid commitment signature of %v", node)
	}

	return nil
}

// A compile time assertion to ensure LndRpcSigner meets the payments.Signer
// and invoices.CommitmentVerifier interfaces.
var (
	_ payments.Signer             = (*LndRpcSigner)(nil)
	_ invoices.CommitmentVerifier = (*LndRpcSigner)(nil)
)
