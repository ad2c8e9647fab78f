package yuvdb

import (
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/akitamiabtc/yuvln/yuvdb/sqlc"
	postgres_migrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/jackc/pgx/v4/stdlib" // Register the pgx driver.
	"github.com/stretchr/testify/require"
)

// DefaultPostgresFixtureLifetime is the longest a postgres test container
// lives before docker kills it.
var DefaultPostgresFixtureLifetime = 60 * time.Minute

// postgresTypes maps the sqlite column types of the schema files to their
// postgres counterparts.
var postgresTypes = map[string]string{
	"BLOB":                "BYTEA",
	"INTEGER PRIMARY KEY": "SERIAL PRIMARY KEY",
	"TIMESTAMP":           "TIMESTAMP WITHOUT TIME ZONE",
}

// PostgresConfig holds the postgres database configuration.
type PostgresConfig struct {
	SkipMigrations     bool          `long:"skipmigrations" description:"Skip applying migrations on startup."`
	Host               string        `long:"host" description:"Database server hostname."`
	Port               int           `long:"port" description:"Database server port."`
	User               string        `long:"user" description:"Database user."`
	Password           string        `long:"password" description:"Database user's password."`
	DBName             string        `long:"dbname" description:"Database name to use."`
	MaxOpenConnections int           `long:"maxconnections" description:"Max open connections to keep alive to the database server."`
	MaxIdleConnections int           `long:"maxidleconnections" description:"Max number of idle connections to keep in the connection pool."`
	ConnMaxLifetime    time.Duration `long:"connmaxlifetime" description:"Max amount of time a connection can be reused for before it is closed."`
	ConnMaxIdleTime    time.Duration `long:"connmaxidletime" description:"Max amount of time a connection can be idle for before it is closed."`
	RequireSSL         bool          `long:"requiressl" description:"Whether to require using SSL (mode: require) when connecting to the server."`
}

// DSN returns the connection URL of the database. The password can be masked
// for log output.
func (s *PostgresConfig) DSN(hidePassword bool) string {
	password := s.Password
	if hidePassword {
		password = "****"
	}

	sslMode := "disable"
	if s.RequireSSL {
		sslMode = "require"
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s", s.User,
		password, net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		s.DBName, sslMode)
}

// pool returns the connection pool with the configured limits applied.
func (s *PostgresConfig) pool() connPool {
	return postgresPool.override(connPool{
		maxOpen:     s.MaxOpenConnections,
		maxIdle:     s.MaxIdleConnections,
		maxLifetime: s.ConnMaxLifetime,
		maxIdleTime: s.ConnMaxIdleTime,
	})
}

// PostgresStore is the postgres backend of the router database.
type PostgresStore struct {
	cfg *PostgresConfig

	*BaseDB
}

// NewPostgresStore connects to the configured server and brings its schema
// up to date.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	log.Infof("Using SQL database '%s'", cfg.DSN(true))

	db, err := cfg.pool().open("pgx", cfg.DSN(false))
	if err != nil {
		return nil, err
	}

	if !cfg.SkipMigrations {
		driver, err := postgres_migrate.WithInstance(
			db, &postgres_migrate.Config{},
		)
		if err != nil {
			return nil, err
		}

		err = applyMigrations(
			newReplacerFS(sqlSchemas, postgresTypes), driver,
			"sqlc/migrations", cfg.DBName,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to migrate postgres "+
				"schema: %w", err)
		}
	}

	return &PostgresStore{
		cfg: cfg,
		BaseDB: &BaseDB{
			DB:      db,
			Queries: sqlc.NewPostgres(db),
		},
	}, nil
}

// NewTestPostgresDB starts a postgres container and opens a store on it. The
// container is removed when the test ends.
func NewTestPostgresDB(t *testing.T) *PostgresStore {
	t.Helper()

	fixture := NewTestPgFixture(t, DefaultPostgresFixtureLifetime)
	store, err := NewPostgresStore(fixture.GetConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.DB.Close())
		fixture.TearDown(t)
	})

	return store
}
