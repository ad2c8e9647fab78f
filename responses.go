package yuvln

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/invoices"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/payments"
	"github.com/lightningnetwork/lnd/lnwire"
)

// BalanceResp is the printable balance of one channel dimension.
type BalanceResp struct {
	Chroma    string `json:"chroma,omitempty"`
	Capacity  uint64 `json:"capacity"`
	Local1    uint64 `json:"local1"`
	Local2    uint64 `json:"local2"`
	InFlight1 uint64 `json:"in_flight1"`
	InFlight2 uint64 `json:"in_flight2"`
}

// ChannelResp is the printable state of a channel.
type ChannelResp struct {
	ChannelID    string        `json:"channel_id"`
	Node1        string        `json:"node1"`
	Node2        string        `json:"node2"`
	FundingPoint string        `json:"funding_point"`
	Status       string        `json:"status"`
	Balances     []BalanceResp `json:"balances"`
}

// ShardResp is the printable result of a shard attempt.
type ShardResp struct {
	ShardID uint64   `json:"shard_id"`
	Round   int      `json:"round"`
	Route   []string `json:"route"`
	Amount  uint64   `json:"amount"`
	Status  string   `json:"status"`
	Failure string   `json:"failure,omitempty"`
}

// PaymentResp is the printable state of an outbound payment.
type PaymentResp struct {
	Hash       string      `json:"hash"`
	Dest       string      `json:"dest"`
	Amount     uint64      `json:"amount"`
	Chroma     string      `json:"chroma,omitempty"`
	Status     string      `json:"status"`
	Preimage   string      `json:"preimage,omitempty"`
	Fulfilled  uint64      `json:"fulfilled"`
	CreatedAt  int64       `json:"created_at"`
	ResolvedAt int64       `json:"resolved_at,omitempty"`
	Shards     []ShardResp `json:"shards"`
}

// OutcomeResp is the printable outcome of a payment attempt.
type OutcomeResp struct {
	Kind      string      `json:"kind"`
	Preimage  string      `json:"preimage,omitempty"`
	Fulfilled uint64      `json:"fulfilled"`
	Shortfall uint64      `json:"shortfall"`
	Reason    string      `json:"reason,omitempty"`
	Shards    []ShardResp `json:"shards"`
}

// InvoiceResp is the printable state of an invoice.
type InvoiceResp struct {
	Hash       string `json:"hash"`
	Preimage   string `json:"preimage"`
	Amount     uint64 `json:"amount"`
	Chroma     string `json:"chroma,omitempty"`
	State      string `json:"state"`
	AmountPaid uint64 `json:"amount_paid"`
	CreatedAt  int64  `json:"created_at"`
	ExpiresAt  int64  `json:"expires_at"`
}

// PolicyResp is the printable policy of one channel direction.
type PolicyResp struct {
	ChannelID   string `json:"channel_id"`
	Node        string `json:"node"`
	Chroma      string `json:"chroma,omitempty"`
	Timestamp   uint32 `json:"timestamp"`
	BaseFee     uint64 `json:"base_fee"`
	FeeRate     uint64 `json:"fee_rate"`
	ExpiryDelta uint16 `json:"expiry_delta"`
	MinHTLC     uint64 `json:"min_htlc"`
	Disabled    bool   `json:"disabled"`
}

func chromaStr(c chroma.Chroma) string {
	if c.IsNone() {
		return ""
	}
	return c.String()
}

func routeStr(route []lnwire.ShortChannelID) []string {
	out := make([]string, 0, len(route))
	for _, id := range route {
		out = append(out, id.String())
	}
	return out
}

// NewChannelsResp converts channel states, ordered by channel ID.
func NewChannelsResp(states []*ledger.ChannelState) []ChannelResp {
	sort.Slice(states, func(i, j int) bool {
		return states[i].ChannelID.ToUint64() <
			states[j].ChannelID.ToUint64()
	})

	resp := make([]ChannelResp, 0, len(states))
	for _, state := range states {
		tags := chroma.SortedKeys(state.Balances)

		c := ChannelResp{
			ChannelID:    state.ChannelID.String(),
			Node1:        hex.EncodeToString(state.Node1[:]),
			Node2:        hex.EncodeToString(state.Node2[:]),
			FundingPoint: state.FundingPoint.String(),
			Status:       state.Status.String(),
		}
		for _, tag := range tags {
			b := state.Balances[tag]
			c.Balances = append(c.Balances, BalanceResp{
				Chroma:    chromaStr(tag),
				Capacity:  b.Capacity,
				Local1:    b.Local[0],
				Local2:    b.Local[1],
				InFlight1: b.InFlight[0],
				InFlight2: b.InFlight[1],
			})
		}

		resp = append(resp, c)
	}

	return resp
}

func newShardsResp(shards []*payments.ShardResult) []ShardResp {
	resp := make([]ShardResp, 0, len(shards))
	for _, s := range shards {
		r := ShardResp{
			ShardID: s.ShardID,
			Round:   s.Round,
			Route:   routeStr(s.Route),
			Amount:  s.Amount,
			Status:  s.Status.String(),
		}
		if s.Failure != nil {
			r.Failure = s.Failure.Error()
		}
		resp = append(resp, r)
	}

	return resp
}

// NewPaymentsResp converts outbound payments.
func NewPaymentsResp(list []*payments.Payment) []PaymentResp {
	resp := make([]PaymentResp, 0, len(list))
	for _, p := range list {
		r := PaymentResp{
			Hash:      p.Hash.String(),
			Dest:      hex.EncodeToString(p.Dest[:]),
			Amount:    p.Amount,
			Chroma:    chromaStr(p.Chroma),
			Status:    p.Status.String(),
			Fulfilled: p.Fulfilled,
			CreatedAt: p.CreatedAt.Unix(),
			Shards:    newShardsResp(p.Shards),
		}
		if p.Preimage != nil {
			r.Preimage = p.Preimage.String()
		}
		if !p.ResolvedAt.IsZero() {
			r.ResolvedAt = p.ResolvedAt.Unix()
		}

		resp = append(resp, r)
	}

	return resp
}

// NewOutcomeResp converts a payment outcome.
func NewOutcomeResp(o *payments.Outcome) OutcomeResp {
	resp := OutcomeResp{
		Kind:      o.Kind.String(),
		Fulfilled: o.Fulfilled,
		Shortfall: o.Shortfall,
		Shards:    newShardsResp(o.Shards),
	}
	if o.Kind != payments.OutcomeTotalFailure {
		resp.Preimage = o.Preimage.String()
	}
	if o.Reason != nil {
		resp.Reason = o.Reason.Error()
	}

	return resp
}

// NewInvoiceResp converts an invoice.
func NewInvoiceResp(inv *invoices.Invoice) InvoiceResp {
	return InvoiceResp{
		Hash:       inv.Hash.String(),
		Preimage:   inv.Preimage.String(),
		Amount:     inv.Amount,
		Chroma:     chromaStr(inv.Chroma),
		State:      inv.State.String(),
		AmountPaid: inv.AmountPaid,
		CreatedAt:  inv.CreatedAt.Unix(),
		ExpiresAt:  inv.ExpiresAt.Unix(),
	}
}

// NewInvoicesResp converts invoices.
func NewInvoicesResp(list []*invoices.Invoice) []InvoiceResp {
	resp := make([]InvoiceResp, 0, len(list))
	for _, inv := range list {
		resp = append(resp, NewInvoiceResp(inv))
	}

	return resp
}

// NewPoliciesResp converts channel updates, ordered by channel ID and node.
func NewPoliciesResp(updates []*graph.ChannelUpdate) []PolicyResp {
	sort.Slice(updates, func(i, j int) bool {
		a, b := updates[i], updates[j]
		if a.ChannelID != b.ChannelID {
			return a.ChannelID.ToUint64() < b.ChannelID.ToUint64()
		}
		if a.Node != b.Node {
			return bytes.Compare(a.Node[:], b.Node[:]) < 0
		}
		return chroma.Less(a.Chroma, b.Chroma)
	})

	resp := make([]PolicyResp, 0, len(updates))
	for _, u := range updates {
		resp = append(resp, PolicyResp{
			ChannelID:   u.ChannelID.String(),
			Node:        hex.EncodeToString(u.Node[:]),
			Chroma:      chromaStr(u.Chroma),
			Timestamp:   u.Timestamp,
			BaseFee:     u.Policy.BaseFee,
			FeeRate:     u.Policy.FeeRate,
			ExpiryDelta: u.Policy.ExpiryDelta,
			MinHTLC:     u.Policy.MinHTLC,
			Disabled:    u.Policy.Disabled,
		})
	}

	return resp
}
