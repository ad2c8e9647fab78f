package yuvdb

import (
	"database/sql"
	"time"
)

// connPool is the connection pool shape of a database handle.
type connPool struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// sqlitePool keeps as many idle connections as open ones, a new sqlite
// connection re-reads the pragmas on every open.
var sqlitePool = connPool{
	maxOpen:     25,
	maxIdle:     25,
	maxLifetime: 10 * time.Minute,
}

// postgresPool is the default pool of a postgres server connection.
var postgresPool = connPool{
	maxOpen:     25,
	maxIdle:     6,
	maxLifetime: 10 * time.Minute,
	maxIdleTime: 5 * time.Minute,
}

// override returns the pool with every positive field of o replacing the
// corresponding default.
func (p connPool) override(o connPool) connPool {
	if o.maxOpen > 0 {
		p.maxOpen = o.maxOpen
	}
	if o.maxIdle > 0 {
		p.maxIdle = o.maxIdle
	}
	if o.maxLifetime > 0 {
		p.maxLifetime = o.maxLifetime
	}
	if o.maxIdleTime > 0 {
		p.maxIdleTime = o.maxIdleTime
	}

	return p
}

// open opens a database handle with the pool applied. A zero maxIdleTime
// keeps idle connections until their lifetime ends.
func (p connPool) open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(p.maxOpen)
	db.SetMaxIdleConns(p.maxIdle)
	db.SetConnMaxLifetime(p.maxLifetime)
	db.SetConnMaxIdleTime(p.maxIdleTime)

	return db, nil
}
