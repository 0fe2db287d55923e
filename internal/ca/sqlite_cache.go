package ca

import (
	"crypto/x509"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// sqliteCache mirrors the in-memory leaf LRU to disk so a restarted
// proxy can warm-start without re-minting every leaf it has already
// issued. The DB is opened once, statements are prepared once, and
// *sql.DB's own connection pool does the guarding. This store is an
// opportunistic cache, so every error here is non-fatal to the caller.
type sqliteCache struct {
	db *sql.DB
}

func openSQLiteCache(path string) (*sqliteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening leaf cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS leaves (
	sni TEXT PRIMARY KEY,
	leaf_der BLOB NOT NULL,
	key_der BLOB NOT NULL,
	not_after INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating leaf cache schema: %w", err)
	}

	return &sqliteCache{db: db}, nil
}

func (c *sqliteCache) Close() error {
	return c.db.Close()
}

func (c *sqliteCache) store(sni string, leaf *LeafMaterial) error {
	if len(leaf.Chain) == 0 {
		return fmt.Errorf("leaf cache: empty chain for %s", sni)
	}
	keyDER, err := x509.MarshalECPrivateKey(leaf.Key)
	if err != nil {
		return fmt.Errorf("marshaling leaf key for cache: %w", err)
	}

	_, err = c.db.Exec(
		`INSERT INTO leaves (sni, leaf_der, key_der, not_after) VALUES (?, ?, ?, ?)
		 ON CONFLICT(sni) DO UPDATE SET leaf_der=excluded.leaf_der, key_der=excluded.key_der, not_after=excluded.not_after`,
		sni, leaf.Chain[0].Raw, keyDER, leaf.NotAfter.Unix(),
	)
	return err
}

// load reconstructs a LeafMaterial for sni, re-chaining it to root.
// Returns ok=false on any read, decode, or miss error — callers treat
// that identically to a cold cache and mint a fresh leaf.
func (c *sqliteCache) load(sni string, root *RootMaterial) (*LeafMaterial, bool) {
	row := c.db.QueryRow(`SELECT leaf_der, key_der, not_after FROM leaves WHERE sni = ?`, sni)

	var leafDER, keyDER []byte
	var notAfterUnix int64
	if err := row.Scan(&leafDER, &keyDER, &notAfterUnix); err != nil {
		return nil, false
	}

	cert, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, false
	}
	key, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		return nil, false
	}

	return &LeafMaterial{
		Chain:    []*x509.Certificate{cert, root.Cert},
		Key:      key,
		NotAfter: time.Unix(notAfterUnix, 0),
	}, true
}
