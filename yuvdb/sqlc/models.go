package sqlc

import (
	"database/sql"
	"time"
)

type Channel struct {
	ID           int64
	ChanID       int64
	Node1        []byte
	Node2        []byte
	FundingTxid  []byte
	FundingIndex int32
	Status       int16
	UpdatedAt    time.Time
}

type ChannelBalance struct {
	ID        int64
	ChannelID int64
	Chroma    []byte
	Capacity  int64
	Local1    int64
	Local2    int64
	InFlight1 int64
	InFlight2 int64
}

type ChannelPolicy struct {
	ID          int64
	ChanID      int64
	Node        []byte
	Chroma      []byte
	UpdateTime  int64
	BaseFee     int64
	FeeRate     int64
	ExpiryDelta int32
	MinHtlc     int64
	Disabled    bool
}

type Invoice struct {
	ID          int64
	PaymentHash []byte
	Preimage    []byte
	Amount      int64
	Chroma      []byte
	State       int16
	AmountPaid  int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
	SettledAt   sql.NullTime
}

type Payment struct {
	ID          int64
	PaymentHash []byte
	Dest        []byte
	Amount      int64
	Chroma      []byte
	Status      int16
	Preimage    []byte
	Fulfilled   int64
	CreatedAt   time.Time
	ResolvedAt  sql.NullTime
}

type PaymentShard struct {
	ID        int64
	PaymentID int64
	ShardID   int64
	Round     int32
	Route     []byte
	Amount    int64
	Status    int16
	Failure   sql.NullString
}
