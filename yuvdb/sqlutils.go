package yuvdb

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lnwire"
)

// sqlStr turns a string into the NullString that sql/sqlc uses when a string
// can be permitted to be NULL.
func sqlStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{
		String: s,
		Valid:  true,
	}
}

// sqlTime turns a time into the NullTime that sql/sqlc uses when a timestamp
// can be permitted to be NULL. The zero time maps to NULL.
func sqlTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}

	return sql.NullTime{
		Time:  t.UTC(),
		Valid: true,
	}
}

// extractSqlTime turns a NullTime into a time, NULL being the zero time.
func extractSqlTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}

	return t.Time.UTC()
}

// serializeRoute encodes a list of short channel IDs.
func serializeRoute(route []lnwire.ShortChannelID) []byte {
	b := make([]byte, 0, 8*len(route))
	for _, scid := range route {
		b = binary.BigEndian.AppendUint64(b, scid.ToUint64())
	}

	return b
}

// parseRoute decodes a list of short channel IDs.
func parseRoute(b []byte) ([]lnwire.ShortChannelID, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("invalid route length %d", len(b))
	}

	var (
		r     = bytes.NewReader(b)
		route = make([]lnwire.ShortChannelID, 0, len(b)/8)
	)
	for r.Len() > 0 {
		var scid uint64
		if err := binary.Read(r, binary.BigEndian, &scid); err != nil {
			return nil, err
		}
		route = append(route, lnwire.NewShortChanIDFromInt(scid))
	}

	return route, nil
}
