package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/yuvcfg"
	"github.com/akitamiabtc/yuvln/yuvdb"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/require"
)

// newTestDB creates a database holding one open channel and returns its
// path.
func newTestDB(t *testing.T) string {
	dbFile := filepath.Join(t.TempDir(), "yuvd.db")

	db, err := yuvdb.NewSqliteStore(&yuvdb.SqliteConfig{
		DatabaseFileName: dbFile,
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	dbCfg := yuvcfg.NewDatabaseConfig(
		db.BaseDB, clock.NewTestClock(time.Unix(1, 0)),
	)

	state := ledger.NewChannelState(
		lnwire.NewShortChanIDFromInt(42), wire.OutPoint{Index: 1},
		route.Vertex{0x02, 0x01}, route.Vertex{0x03, 0x02},
		map[chroma.Chroma][2]uint64{
			chroma.None: {7_000, 3_000},
		},
	)
	state.Status = ledger.StatusOpen
	require.NoError(t, dbCfg.ChannelStore.UpsertChannel(
		context.Background(), state,
	))

	return dbFile
}

func runApp(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run(append([]string{"yuvcli"}, args...))

	return out.String(), err
}

func TestListChannels(t *testing.T) {
	dbFile := newTestDB(t)

	out, err := runApp(t, "--dbfile", dbFile, "listchannels")
	require.NoError(t, err)

	var resp []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp, 1)
	require.Equal(t, "0:0:42", resp[0]["channel_id"])
	require.Equal(t, "open", resp[0]["status"])
}

func TestListEmpty(t *testing.T) {
	dbFile := newTestDB(t)

	for _, cmd := range []string{
		"listpolicies", "listpayments", "listinvoices",
	} {
		out, err := runApp(t, "--dbfile", dbFile, cmd)
		require.NoError(t, err, cmd)
		require.Equal(t, "[]\n", out, cmd)
	}
}

func TestMissingDatabase(t *testing.T) {
	_, err := runApp(
		t, "--yuvdir", t.TempDir(), "--network", "regtest",
		"listchannels",
	)
	require.ErrorContains(t, err, "unable to find database")
}

func TestDecodePixel(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	c := chroma.FromPubKey(key.PubKey())

	out, err := runApp(
		t, "--network", "regtest", "decodepixel",
		fmt.Sprintf("500:%v", c),
	)
	require.NoError(t, err)

	var resp struct {
		Luma    uint64 `json:"luma"`
		Chroma  string `json:"chroma"`
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.EqualValues(t, 500, resp.Luma)
	require.Equal(t, c.String(), resp.Chroma)

	decoded, err := chroma.FromAddress(
		resp.Address, &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	require.Equal(t, c, decoded)

	_, err = runApp(t, "decodepixel", "nope")
	require.ErrorIs(t, err, chroma.ErrInvalidPixel)
}
