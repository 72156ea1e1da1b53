// Package pool manages live connections to registered source databases,
// keyed by connection alias. It replaces ambient global connection state
// with an explicit object handed to the executor.
package pool

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	// Source drivers. Postgres and SQLite are the supported source kinds.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Sentinel errors.
var (
	// ErrUnknownAlias is returned when no source is configured for an alias.
	ErrUnknownAlias = errors.New("no source configured for alias")

	// ErrUnsupportedDriver is returned for a source kind outside the
	// supported set.
	ErrUnsupportedDriver = errors.New("unsupported source driver")
)

// Source is the connection configuration for one registered database.
type Source struct {
	Driver string
	DSN    string
}

// Pool opens and caches one *sql.DB per configured source. It is safe for
// concurrent use; connections are opened lazily on first Get.
type Pool struct {
	mu      sync.Mutex
	sources map[string]Source
	conns   map[string]*sql.DB
}

// New creates a pool over the configured sources.
func New(sources map[string]Source) *Pool {
	return &Pool{
		sources: sources,
		conns:   make(map[string]*sql.DB),
	}
}

// Aliases returns the configured aliases.
func (p *Pool) Aliases() []string {
	aliases := make([]string, 0, len(p.sources))
	for alias := range p.sources {
		aliases = append(aliases, alias)
	}
	return aliases
}

// Driver returns the driver name configured for an alias.
func (p *Pool) Driver(alias string) (string, error) {
	src, ok := p.sources[alias]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	return src.Driver, nil
}

// Get returns the connection for an alias, opening it on first use.
func (p *Pool) Get(alias string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.conns[alias]; ok {
		return db, nil
	}

	src, ok := p.sources[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlias, alias)
	}
	if src.Driver != DriverPostgres && src.Driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, src.Driver)
	}

	db, err := sql.Open(src.Driver, src.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening source %q: %w", alias, err)
	}
	p.conns[alias] = db
	return db, nil
}

// Close closes all open connections. The pool can be used again afterwards;
// connections reopen on demand.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for alias, db := range p.conns {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing source %q: %w", alias, err))
		}
		delete(p.conns, alias)
	}
	return errors.Join(errs...)
}
