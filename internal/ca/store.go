// Package ca implements the CA Store: a persistent root
// certificate authority plus an SNI-keyed leaf-certificate cache used
// to mint just-in-time server leaves for TLS termination.
package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roxyhq/roxy/internal/rerr"
	"gopkg.in/yaml.v3"
	"software.sslmate.com/src/go-pkcs12"
)

const (
	rootSubjectCN  = "Roxy Root CA"
	rootValidity   = 10 * 365 * 24 * time.Hour
	leafValidity   = 90 * 24 * time.Hour
	leafRenewGrace = 1 * time.Hour
	defaultLeafCap = 1024
)

// RootMaterial is the persisted root CA key pair and certificate.
type RootMaterial struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// LeafMaterial is a just-in-time server certificate chain plus key.
type LeafMaterial struct {
	Chain    []*x509.Certificate
	Key      *ecdsa.PrivateKey
	NotAfter time.Time
}

// rootManifest is the yaml sidecar written alongside the PEM/DER/PKCS12
// files: enough to verify the persisted root without
// re-parsing the DER on every restart.
type rootManifest struct {
	Serial      string    `yaml:"serial"`
	CreatedAt   time.Time `yaml:"created_at"`
	Fingerprint string    `yaml:"sha256_fingerprint"`
}

// Store owns the root CA material and the leaf-issuance cache.
type Store struct {
	dir string

	mu   sync.Mutex
	root *RootMaterial

	cache *leafCache
	db    *sqliteCache // nil if persistence is disabled
}

// Options configures a Store.
type Options struct {
	// Dir is the CA directory (CLI default $HOME/.roxy).
	Dir string
	// LeafCacheCapacity overrides the default 1024-entry LRU capacity.
	LeafCacheCapacity int
	// DisablePersistentLeafCache skips the SQLite warm-start mirror;
	// useful for tests that want a clean slate.
	DisablePersistentLeafCache bool
}

// NewStore opens (without yet loading) a CA store rooted at opts.Dir.
func NewStore(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, rerr.New(rerr.KindCAInitFailed, "ca directory must not be empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, rerr.Wrap(rerr.KindCAInitFailed, err, "creating ca directory %s", opts.Dir)
	}

	cap := opts.LeafCacheCapacity
	if cap <= 0 {
		cap = defaultLeafCap
	}

	s := &Store{
		dir:   opts.Dir,
		cache: newLeafCache(cap),
	}

	if !opts.DisablePersistentLeafCache {
		db, err := openSQLiteCache(filepath.Join(opts.Dir, "leaf-cache.db"))
		if err != nil {
			// A broken leaf-cache mirror degrades to in-memory-only;
			// IO errors are fatal only for the root material itself,
			// not the warm-start convenience.
			s.db = nil
		} else {
			s.db = db
		}
	}

	return s, nil
}

// Close releases the store's resources (the SQLite leaf-cache mirror).
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// EnsureRoot loads the persisted root, generating and persisting a new
// one on first run.
func (s *Store) EnsureRoot() (*RootMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.root != nil {
		return s.root, nil
	}

	root, err := s.loadRoot()
	if err == nil {
		s.root = root
		return root, nil
	}
	if !os.IsNotExist(err) {
		return nil, rerr.Wrap(rerr.KindCAInitFailed, err, "loading persisted root CA")
	}

	root, err = generateRoot()
	if err != nil {
		return nil, rerr.Wrap(rerr.KindCAInitFailed, err, "generating root CA")
	}
	if err := s.persistRoot(root); err != nil {
		return nil, rerr.Wrap(rerr.KindCAInitFailed, err, "persisting root CA")
	}

	s.root = root
	return root, nil
}

// IssueLeaf returns a cached leaf for sni if present and not within 1h
// of expiry, otherwise mints and caches a fresh one.
func (s *Store) IssueLeaf(sni string) (*LeafMaterial, error) {
	root, err := s.EnsureRoot()
	if err != nil {
		// At runtime a missing root degrades to a TLS setup failure
		// for the affected flow; it never aborts the proxy.
		return nil, rerr.Wrap(rerr.KindTLSHandshakeFailed, err, "ca unavailable for sni %s", sni)
	}

	if leaf, ok := s.cache.get(sni); ok && time.Until(leaf.NotAfter) > leafRenewGrace {
		return leaf, nil
	}

	if s.db != nil {
		if leaf, ok := s.db.load(sni, root); ok && time.Until(leaf.NotAfter) > leafRenewGrace {
			s.cache.put(sni, leaf)
			return leaf, nil
		}
	}

	leaf, err := issueLeaf(root, sni)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindTLSHandshakeFailed, err, "minting leaf for sni %s", sni)
	}

	s.cache.put(sni, leaf)
	if s.db != nil {
		_ = s.db.store(sni, leaf)
	}
	return leaf, nil
}

// LeafCacheLen reports the current number of cached entries (tests,
// diagnostics).
func (s *Store) LeafCacheLen() int {
	return s.cache.len()
}

func generateRoot() (*RootMaterial, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(0).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating CA serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: rootSubjectCN},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("creating self-signed CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing generated CA certificate: %w", err)
	}

	return &RootMaterial{Cert: cert, Key: key}, nil
}

// persistRoot writes the root material in every published format,
// plus the manifest sidecar. Private-key-bearing files get 0600.
func (s *Store) persistRoot(root *RootMaterial) error {
	certDER := root.Cert.Raw
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalECPrivateKey(root.Key)
	if err != nil {
		return fmt.Errorf("marshaling CA private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	p12, err := pkcs12.Modern.Encode(root.Key, root.Cert, nil, "")
	if err != nil {
		return fmt.Errorf("encoding pkcs12 bundle: %w", err)
	}

	files := map[string][]byte{
		"roxy-ca.pem":      append(append([]byte{}, certPEM...), keyPEM...),
		"roxy-ca-cert.pem": certPEM,
		"roxy-ca-cert.cer": certPEM,
		"roxy-ca-cert.p12": p12,
		"roxy-ca.cer":      certPEM,
		"roxy-ca.p12":      p12,
	}

	for name, data := range files {
		path := filepath.Join(s.dir, name)
		mode := os.FileMode(0o644)
		if filepath.Ext(name) == ".p12" || name == "roxy-ca.pem" {
			mode = 0o600
		}
		if err := os.WriteFile(path, data, mode); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	manifest := rootManifest{
		Serial:      root.Cert.SerialNumber.String(),
		CreatedAt:   root.Cert.NotBefore,
		Fingerprint: fingerprint(certDER),
	}
	manifestData, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshaling root manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, "roxy-ca-meta.yaml"), manifestData, 0o644); err != nil {
		return fmt.Errorf("writing root manifest: %w", err)
	}

	return nil
}

func (s *Store) loadRoot() (*RootMaterial, error) {
	certPath := filepath.Join(s.dir, "roxy-ca-cert.pem")
	keyPath := filepath.Join(s.dir, "roxy-ca.pem")

	certData, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode(certData)
	if certBlock == nil {
		return nil, fmt.Errorf("ca: %s contains no PEM certificate block", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: parsing persisted root certificate: %w", err)
	}

	var keyBlock *pem.Block
	rest := keyData
	for {
		keyBlock, rest = pem.Decode(rest)
		if keyBlock == nil {
			return nil, fmt.Errorf("ca: %s contains no PEM private key block", keyPath)
		}
		if keyBlock.Type == "EC PRIVATE KEY" {
			break
		}
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ca: parsing persisted root key: %w", err)
	}

	return &RootMaterial{Cert: cert, Key: key}, nil
}

func issueLeaf(root *RootMaterial, sni string) (*LeafMaterial, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(0).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating leaf serial: %w", err)
	}

	notAfter := time.Now().Add(leafValidity)
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: sni},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(sni); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{sni}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, root.Cert, &key.PublicKey, root.Key)
	if err != nil {
		return nil, fmt.Errorf("signing leaf certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing signed leaf certificate: %w", err)
	}

	return &LeafMaterial{
		Chain:    []*x509.Certificate{cert, root.Cert},
		Key:      key,
		NotAfter: notAfter,
	}, nil
}

func fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}
