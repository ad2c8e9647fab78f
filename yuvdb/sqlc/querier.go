package sqlc

import (
	"context"
)

// Querier is the full set of queries of the daemon.
type Querier interface {
	DeletePayment(ctx context.Context, id int64) error
	DeletePaymentShards(ctx context.Context, paymentID int64) error
	FetchChannelBalances(ctx context.Context) ([]ChannelBalance, error)
	FetchChannelPolicies(ctx context.Context) ([]ChannelPolicy, error)
	FetchChannels(ctx context.Context) ([]Channel, error)
	FetchInvoices(ctx context.Context) ([]Invoice, error)
	FetchPayment(ctx context.Context, paymentHash []byte) (Payment, error)
	FetchPaymentShards(ctx context.Context) ([]PaymentShard, error)
	FetchPayments(ctx context.Context) ([]Payment, error)
	InsertInvoice(ctx context.Context, arg InsertInvoiceParams) (int64,
		error)
	InsertPayment(ctx context.Context, arg InsertPaymentParams) (int64,
		error)
	UpdateInvoice(ctx context.Context, arg UpdateInvoiceParams) (int64,
		error)
	UpdatePayment(ctx context.Context, arg UpdatePaymentParams) (int64,
		error)
	UpsertChannel(ctx context.Context, arg UpsertChannelParams) (int64,
		error)
	UpsertChannelBalance(ctx context.Context,
		arg UpsertChannelBalanceParams) error
	UpsertChannelPolicy(ctx context.Context,
		arg UpsertChannelPolicyParams) error
	UpsertPaymentShard(ctx context.Context,
		arg UpsertPaymentShardParams) error
}

var _ Querier = (*Queries)(nil)
