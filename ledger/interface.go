package ledger

import (
	"context"
	"errors"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/lightningnetwork/lnd/lnwire"
)

var (
	// ErrLedgerConflict is returned when a reservation cannot be taken or
	// is no longer valid because of concurrent use of the same channel.
	ErrLedgerConflict = errors.New("ledger conflict")

	// ErrChannelNotFound is returned when a channel is not known.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelExists is returned when a channel is added twice.
	ErrChannelExists = errors.New("channel already exists")

	// ErrUnknownEndpoint is returned when a node is not an endpoint of a
	// channel.
	ErrUnknownEndpoint = errors.New("node is not a channel endpoint")

	// ErrInvariantViolation is returned when a mutation would break the
	// balance invariant of a channel. Such mutations are never applied.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)

// Store persists channel states.
type Store interface {
	// UpsertChannel inserts or replaces the stored state of a channel
	// including all of its balances.
	UpsertChannel(ctx context.Context, state *ChannelState) error

	// FetchChannels returns every stored channel.
	FetchChannels(ctx context.Context) ([]*ChannelState, error)
}

// UpdateKind describes what changed in a capacity update.
type UpdateKind uint8

const (
	// UpdateOpened is sent when a channel was added or became usable.
	UpdateOpened UpdateKind = iota

	// UpdateClosed is sent when a channel was closed.
	UpdateClosed

	// UpdateReserved is sent when capacity was moved in flight.
	UpdateReserved

	// UpdateSettled is sent when in-flight capacity moved to the
	// receiving side.
	UpdateSettled

	// UpdateReleased is sent when in-flight capacity returned to the
	// sending side.
	UpdateReleased
)

// String returns a human readable update kind.
func (k UpdateKind) String() string {
	switch k {
	case UpdateOpened:
		return "opened"
	case UpdateClosed:
		return "closed"
	case UpdateReserved:
		return "reserved"
	case UpdateSettled:
		return "settled"
	case UpdateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// CapacityUpdate notifies subscribers that the balances of a channel changed.
type CapacityUpdate struct {
	// Kind is the kind of change.
	Kind UpdateKind

	// ChannelID is the channel that changed.
	ChannelID lnwire.ShortChannelID

	// Chromas lists the dimensions that changed.
	Chromas []chroma.Chroma

	// State is a copy of the channel state after the change.
	State *ChannelState
}

// Touches returns true if the update changed the given dimension.
func (u *CapacityUpdate) Touches(c chroma.Chroma) bool {
	for _, tag := range u.Chromas {
		if tag == c {
			return true
		}
	}

	return false
}
