package yuvdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/akitamiabtc/yuvln/yuvdb/sqlc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/routing/route"
)

type (
	// PaymentRow is a stored payment.
	PaymentRow = sqlc.Payment

	// ShardRow is a stored shard attempt.
	ShardRow = sqlc.PaymentShard

	// NewPayment is the set of params to insert a payment.
	NewPayment = sqlc.InsertPaymentParams

	// PaymentUpdate is the set of params to update the status of a
	// payment.
	PaymentUpdate = sqlc.UpdatePaymentParams

	// NewShard is the set of params to insert or update a shard.
	NewShard = sqlc.UpsertPaymentShardParams
)

// PaymentQueries is the set of queries the payment store needs.
type PaymentQueries interface {
	// FetchPayment returns the payment with the given hash.
	FetchPayment(ctx context.Context, paymentHash []byte) (PaymentRow,
		error)

	// DeletePaymentShards removes every shard of a payment.
	DeletePaymentShards(ctx context.Context, paymentID int64) error

	// DeletePayment removes a payment.
	DeletePayment(ctx context.Context, id int64) error

	// InsertPayment inserts a payment and returns its primary key.
	InsertPayment(ctx context.Context, arg NewPayment) (int64, error)

	// UpdatePayment updates the status of a payment and returns its
	// primary key.
	UpdatePayment(ctx context.Context, arg PaymentUpdate) (int64, error)

	// UpsertPaymentShard inserts or updates a shard.
	UpsertPaymentShard(ctx context.Context, arg NewShard) error

	// FetchPayments returns every payment, newest first.
	FetchPayments(ctx context.Context) ([]PaymentRow, error)

	// FetchPaymentShards returns every shard of every payment.
	FetchPaymentShards(ctx context.Context) ([]ShardRow, error)
}

// BatchedPaymentQueries is a version of the PaymentQueries that's capable of
// batched database operations.
type BatchedPaymentQueries interface {
	PaymentQueries

	BatchedTx[PaymentQueries]
}

// PaymentStore persists outgoing payments and their shard attempts.
type PaymentStore struct {
	db BatchedPaymentQueries
}

// A compile-time assertion to make sure PaymentStore satisfies the
// payments.Store interface.
var _ payments.Store = (*PaymentStore)(nil)

// NewPaymentStore creates a new payment store.
func NewPaymentStore(db BatchedPaymentQueries) *PaymentStore {
	return &PaymentStore{
		db: db,
	}
}

// InsertPayment stores a new pending payment. A payment that failed before is
// replaced together with its shards, a succeeded one is never overwritten.
func (p *PaymentStore) InsertPayment(ctx context.Context,
	payment *payments.Payment) error {

	return p.db.ExecTx(ctx, WriteTx(), func(q PaymentQueries) error {
		stored, err := q.FetchPayment(ctx, payment.Hash[:])
		switch {
		case errors.Is(err, sql.ErrNoRows):

		case err != nil:
			return fmt.Errorf("unable to fetch payment: %w", err)

		case payments.Status(stored.Status) == payments.StatusSucceeded:
			return fmt.Errorf("payment %v already succeeded",
				payment.Hash)

		default:
			err := q.DeletePaymentShards(ctx, stored.ID)
			if err != nil {
				return fmt.Errorf("unable to delete shards: "+
					"%w", err)
			}
			if err := q.DeletePayment(ctx, stored.ID); err != nil {
				return fmt.Errorf("unable to delete payment: "+
					"%w", err)
			}
		}

		paymentID, err := q.InsertPayment(ctx, NewPayment{
			PaymentHash: payment.Hash[:],
			Dest:        payment.Dest[:],
			Amount:      int64(payment.Amount),
			Chroma:      payment.Chroma.Bytes(),
			Status:      int16(payment.Status),
			Preimage:    preimageBytes(payment.Preimage),
			Fulfilled:   int64(payment.Fulfilled),
			CreatedAt:   payment.CreatedAt.UTC(),
			ResolvedAt:  sqlTime(payment.ResolvedAt),
		})
		if err != nil {
			return fmt.Errorf("unable to insert payment: %w", err)
		}

		for _, shard := range payment.Shards {
			err := q.UpsertPaymentShard(
				ctx, newShard(paymentID, shard),
			)
			if err != nil {
				return fmt.Errorf("unable to insert shard: %w",
					err)
			}
		}

		return nil
	})
}

// UpdatePayment stores the final status of a payment.
func (p *PaymentStore) UpdatePayment(ctx context.Context,
	payment *payments.Payment) error {

	return p.db.ExecTx(ctx, WriteTx(), func(q PaymentQueries) error {
		_, err := q.UpdatePayment(ctx, PaymentUpdate{
			PaymentHash: payment.Hash[:],
			Status:      int16(payment.Status),
			Preimage:    preimageBytes(payment.Preimage),
			Fulfilled:   int64(payment.Fulfilled),
			ResolvedAt:  sqlTime(payment.ResolvedAt),
		})
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("payment %v not found", payment.Hash)
		}

		return err
	})
}

// UpsertShard stores the latest state of a shard attempt.
func (p *PaymentStore) UpsertShard(ctx context.Context, hash lntypes.Hash,
	shard *payments.ShardResult) error {

	return p.db.ExecTx(ctx, WriteTx(), func(q PaymentQueries) error {
		stored, err := q.FetchPayment(ctx, hash[:])
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("payment %v not found", hash)
		}
		if err != nil {
			return fmt.Errorf("unable to fetch payment: %w", err)
		}

		return q.UpsertPaymentShard(ctx, newShard(stored.ID, shard))
	})
}

// FetchPayments returns every stored payment including its shards, newest
// first.
func (p *PaymentStore) FetchPayments(
	ctx context.Context) ([]*payments.Payment, error) {

	var result []*payments.Payment
	err := p.db.ExecTx(ctx, ReadTx(), func(q PaymentQueries) error {
		result = nil

		rows, err := q.FetchPayments(ctx)
		if err != nil {
			return fmt.Errorf("unable to fetch payments: %w", err)
		}

		shards, err := q.FetchPaymentShards(ctx)
		if err != nil {
			return fmt.Errorf("unable to fetch shards: %w", err)
		}

		byID := make(map[int64]*payments.Payment, len(rows))
		for _, row := range rows {
			payment, err := parsePayment(row)
			if err != nil {
				return err
			}

			byID[row.ID] = payment
			result = append(result, payment)
		}

		for _, row := range shards {
			payment, ok := byID[row.PaymentID]
			if !ok {
				return fmt.Errorf("shard %d of unknown "+
					"payment %d", row.ID, row.PaymentID)
			}

			shard, err := parseShard(row)
			if err != nil {
				return err
			}
			payment.Shards = append(payment.Shards, shard)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// newShard maps a shard attempt to the params of its row.
func newShard(paymentID int64, shard *payments.ShardResult) NewShard {
	var failure string
	if shard.Failure != nil {
		failure = shard.Failure.Error()
	}

	return NewShard{
		PaymentID: paymentID,
		ShardID:   int64(shard.ShardID),
		Round:     int32(shard.Round),
		Route:     serializeRoute(shard.Route),
		Amount:    int64(shard.Amount),
		Status:    int16(shard.Status),
		Failure:   sqlStr(failure),
	}
}

// preimageBytes returns the raw preimage or nil if none is known.
func preimageBytes(preimage *lntypes.Preimage) []byte {
	if preimage == nil {
		return nil
	}

	return preimage[:]
}

func parsePayment(row PaymentRow) (*payments.Payment, error) {
	var hash lntypes.Hash
	copy(hash[:], row.PaymentHash)

	dest, err := route.NewVertexFromBytes(row.Dest)
	if err != nil {
		return nil, fmt.Errorf("invalid destination of payment %v: %w",
			hash, err)
	}

	tag, err := chroma.FromBytes(row.Chroma)
	if err != nil {
		return nil, err
	}

	payment := &payments.Payment{
		Hash:       hash,
		Dest:       dest,
		Amount:     uint64(row.Amount),
		Chroma:     tag,
		Status:     payments.Status(row.Status),
		Fulfilled:  uint64(row.Fulfilled),
		CreatedAt:  row.CreatedAt.UTC(),
		ResolvedAt: extractSqlTime(row.ResolvedAt),
	}

	// An unset preimage may come back as an empty blob.
	if len(row.Preimage) == lntypes.PreimageSize {
		preimage, err := lntypes.MakePreimage(row.Preimage)
		if err != nil {
			return nil, err
		}
		payment.Preimage = &preimage
	}

	return payment, nil
}

func parseShard(row ShardRow) (*payments.ShardResult, error) {
	scids, err := parseRoute(row.Route)
	if err != nil {
		return nil, fmt.Errorf("invalid route of shard %d: %w",
			row.ShardID, err)
	}

	shard := &payments.ShardResult{
		ShardID: uint64(row.ShardID),
		Round:   int(row.Round),
		Route:   scids,
		Amount:  uint64(row.Amount),
		Status:  payments.ShardStatus(row.Status),
	}
	if row.Failure.Valid {
		shard.Failure = errors.New(row.Failure.String)
	}

	return shard, nil
}
