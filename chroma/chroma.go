package chroma

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Size is the length in bytes of an encoded chroma.
const Size = 32

var (
	// ErrInvalidPixel is returned when a pixel string cannot be parsed.
	ErrInvalidPixel = errors.New("pixel must be in the form " +
		"<luma>:<chroma>")

	// ErrInvalidChroma is returned when a chroma cannot be decoded.
	ErrInvalidChroma = errors.New("invalid chroma")
)

// Chroma identifies one fungible asset class carried over a channel. It is the
// x-only public key of the asset issuer. The zero value is the base currency.
type Chroma [Size]byte

// None is the chroma of the base currency.
var None Chroma

// IsNone returns true if the chroma denotes the base currency.
func (c Chroma) IsNone() bool {
	return c == None
}

// String returns the hex encoding of the chroma.
func (c Chroma) String() string {
	return hex.EncodeToString(c[:])
}

// Short returns an abbreviated form of the chroma for log output.
func (c Chroma) Short() string {
	if c.IsNone() {
		return "btc"
	}

	return c.String()[:8]
}

// PubKey parses the chroma as an x-only public key.
func (c Chroma) PubKey() (*btcec.PublicKey, error) {
	if c.IsNone() {
		return nil, fmt.Errorf("%w: base currency has no issuer key",
			ErrInvalidChroma)
	}

	return schnorr.ParsePubKey(c[:])
}

// Address renders the chroma as the P2TR address of the issuer key on the
// given network.
func (c Chroma) Address(params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressTaproot(c[:], params)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}

// FromPubKey derives the chroma of an issuer key.
func FromPubKey(key *btcec.PublicKey) Chroma {
	var c Chroma
	copy(c[:], schnorr.SerializePubKey(key))

	return c
}

// FromHex decodes a hex encoded chroma.
func FromHex(s string) (Chroma, error) {
	var c Chroma

	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidChroma, err)
	}
	if len(b) != Size {
		return c, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidChroma, Size, len(b))
	}
	copy(c[:], b)

	return c, nil
}

// FromAddress decodes a P2TR address into the chroma it commits to.
func FromAddress(addr string, params *chaincfg.Params) (Chroma, error) {
	var c Chroma

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidChroma, err)
	}

	taproot, ok := decoded.(*btcutil.AddressTaproot)
	if !ok {
		return c, fmt.Errorf("%w: %s is not a P2TR address",
			ErrInvalidChroma, addr)
	}
	if !taproot.IsForNet(params) {
		return c, fmt.Errorf("%w: address is not for network %s",
			ErrInvalidChroma, params.Name)
	}

	copy(c[:], taproot.ScriptAddress())

	return c, nil
}

// Parse decodes a chroma given either as 64 hex characters or as a P2TR
// address.
func Parse(s string, params *chaincfg.Params) (Chroma, error) {
	if len(s) == hex.EncodedLen(Size) {
		if c, err := FromHex(s); err == nil {
			return c, nil
		}
	}

	return FromAddress(s, params)
}

// Pixel is an amount (luma) of a specific asset (chroma).
type Pixel struct {
	// Luma is the amount of the asset.
	Luma uint64

	// Chroma is the asset the amount is denominated in.
	Chroma Chroma
}

// String returns the "<luma>:<chroma>" form of the pixel.
func (p Pixel) String() string {
	return fmt.Sprintf("%d:%v", p.Luma, p.Chroma)
}

// ParsePixel parses a pixel of the form "<luma>:<chroma>".
func ParsePixel(s string, params *chaincfg.Params) (Pixel, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Pixel{}, ErrInvalidPixel
	}

	luma, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Pixel{}, fmt.Errorf("%w: invalid luma: %v",
			ErrInvalidPixel, err)
	}

	c, err := Parse(parts[1], params)
	if err != nil {
		return Pixel{}, fmt.Errorf("%w: %v", ErrInvalidPixel, err)
	}

	return Pixel{Luma: luma, Chroma: c}, nil
}

// Encoder is a TLV encoder for a chroma.
func Encoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*Chroma); ok {
		c := [Size]byte(*t)
		return tlv.EBytes32(w, &c, buf)
	}

	return tlv.NewTypeForEncodingErr(val, "Chroma")
}

// Decoder is a TLV decoder for a chroma.
func Decoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if typ, ok := val.(*Chroma); ok {
		var c [Size]byte
		if err := tlv.DBytes32(r, &c, buf, l); err != nil {
			return err
		}
		*typ = Chroma(c)

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "Chroma", l, Size)
}

// NewRecord returns a TLV record of the given type for the chroma.
func NewRecord(typ tlv.Type, c *Chroma) tlv.Record {
	return tlv.MakeStaticRecord(typ, c, Size, Encoder, Decoder)
}

// Less orders chromas by their raw bytes. The base currency sorts first.
func Less(a, b Chroma) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// SortedKeys returns the chromas of a per-dimension map in a stable order.
func SortedKeys[V any](m map[Chroma]V) []Chroma {
	keys := maps.Keys(m)
	slices.SortFunc(keys, Less)

	return keys
}

// Bytes returns a copy of the raw chroma bytes, as stored in the database.
func (c Chroma) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, c[:])

	return b
}

// FromBytes converts raw database bytes into a chroma. An empty slice is the
// base currency.
func FromBytes(b []byte) (Chroma, error) {
	var c Chroma
	switch len(b) {
	case 0:
		return None, nil

	case Size:
		copy(c[:], b)
		return c, nil

	default:
		return c, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidChroma, Size, len(b))
	}
}
