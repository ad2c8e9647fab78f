package payments

import (
	"context"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/routing/route"
)

// ChainBridge is our bridge to the target chain. Block heights drive the
// expiry of in-flight HTLCs.
type ChainBridge interface {
	// CurrentHeight return the current height of the main chain.
	CurrentHeight(context.Context) (uint32, error)

	// RegisterBlockEpochNtfn registers an intent to be notified of each
	// new block connected to the main chain.
	RegisterBlockEpochNtfn(ctx context.Context) (chan int32, chan error,
		error)
}

// Signer signs commitment updates. The router never accesses key material
// itself.
type Signer interface {
	// SignCommitment signs the digest of a commitment update that adds
	// an HTLC.
	SignCommitment(ctx context.Context, digest [32]byte) ([]byte, error)
}

// Invoice is a decoded payment request.
type Invoice struct {
	// Dest is the node to pay.
	Dest route.Vertex

	// Hash is the payment hash.
	Hash lntypes.Hash

	// Amount is the requested amount, denominated in Chroma.
	Amount uint64

	// Chroma is the requested dimension.
	Chroma chroma.Chroma

	// Expiry is the time after which the invoice can no longer be paid.
	Expiry time.Time
}

// InvoiceDecoder turns an encoded payment request into an Invoice.
type InvoiceDecoder interface {
	// DecodeInvoice decodes and validates a payment request. The asset
	// pixel is supplied by the caller since it is not part of the
	// encoding.
	DecodeInvoice(ctx context.Context, payReq string,
		pixel *chroma.Pixel) (*Invoice, error)
}

// Store persists outgoing payments and their shard attempts.
type Store interface {
	// InsertPayment stores a new pending payment.
	InsertPayment(ctx context.Context, p *Payment) error

	// UpdatePayment stores the final status of a payment.
	UpdatePayment(ctx context.Context, p *Payment) error

	// UpsertShard stores the latest state of a shard attempt.
	UpsertShard(ctx context.Context, hash lntypes.Hash,
		shard *ShardResult) error

	// FetchPayments returns every stored payment including its shards,
	// newest first.
	FetchPayments(ctx context.Context) ([]*Payment, error)
}
