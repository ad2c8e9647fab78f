package chroma

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
)

func randChroma(t *testing.T) Chroma {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return FromPubKey(priv.PubKey())
}

// TestParsePixel checks the accepted and rejected pixel forms.
func TestParsePixel(t *testing.T) {
	t.Parallel()

	params := &chaincfg.RegressionNetParams
	c := randChroma(t)

	addr, err := c.Address(params)
	require.NoError(t, err)

	testCases := []struct {
		name        string
		input       string
		expected    Pixel
		expectedErr error
	}{{
		name:     "address chroma",
		input:    "1000:" + addr,
		expected: Pixel{Luma: 1000, Chroma: c},
	}, {
		name:     "hex chroma",
		input:    "7:" + c.String(),
		expected: Pixel{Luma: 7, Chroma: c},
	}, {
		name:        "missing chroma",
		input:       "1000",
		expectedErr: ErrInvalidPixel,
	}, {
		name:        "negative luma",
		input:       "-5:" + addr,
		expectedErr: ErrInvalidPixel,
	}, {
		name:        "garbage chroma",
		input:       "5:not-an-address",
		expectedErr: ErrInvalidPixel,
	}, {
		name:        "too many parts",
		input:       "5:" + addr + ":x",
		expectedErr: ErrInvalidPixel,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pixel, err := ParsePixel(tc.input, params)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, pixel)
		})
	}
}

// TestAddressRoundTrip makes sure a chroma survives the P2TR address form.
func TestAddressRoundTrip(t *testing.T) {
	t.Parallel()

	c := randChroma(t)

	addr, err := c.Address(&chaincfg.MainNetParams)
	require.NoError(t, err)

	parsed, err := FromAddress(addr, &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, c, parsed)

	_, err = FromAddress(addr, &chaincfg.TestNet3Params)
	require.ErrorIs(t, err, ErrInvalidChroma)

	key, err := parsed.PubKey()
	require.NoError(t, err)
	require.Equal(t, c, FromPubKey(key))
}

func TestChromaBytes(t *testing.T) {
	t.Parallel()

	none, err := FromBytes(nil)
	require.NoError(t, err)
	require.True(t, none.IsNone())
	require.Equal(t, "btc", none.Short())

	c := randChroma(t)
	decoded, err := FromBytes(c.Bytes())
	require.NoError(t, err)
	require.Equal(t, c, decoded)

	_, err = FromBytes([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidChroma)

	_, err = FromHex("abcd")
	require.ErrorIs(t, err, ErrInvalidChroma)
}

func TestChromaRecord(t *testing.T) {
	t.Parallel()

	c := randChroma(t)

	stream, err := tlv.NewStream(NewRecord(1, &c))
	require.NoError(t, err)

	var b bytes.Buffer
	require.NoError(t, stream.Encode(&b))

	var decoded Chroma
	stream, err = tlv.NewStream(NewRecord(1, &decoded))
	require.NoError(t, err)
	require.NoError(t, stream.Decode(&b))
	require.Equal(t, c, decoded)
}

func TestSortedKeys(t *testing.T) {
	a, b := randChroma(t), randChroma(t)
	if Less(b, a) {
		a, b = b, a
	}

	balances := map[Chroma]uint64{b: 2, None: 0, a: 1}
	require.Equal(t, []Chroma{None, a, b}, SortedKeys(balances))
	require.Empty(t, SortedKeys(map[Chroma]uint64{}))
}
