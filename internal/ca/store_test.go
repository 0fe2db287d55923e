package ca

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Options{Dir: t.TempDir(), DisablePersistentLeafCache: true})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_EnsureRootGeneratesOnFirstCall(t *testing.T) {
	s := newTestStore(t)

	root, err := s.EnsureRoot()
	if err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}
	if !root.Cert.IsCA {
		t.Fatal("expected generated root to be a CA certificate")
	}
	if root.Cert.Subject.CommonName != rootSubjectCN {
		t.Fatalf("got CN %q", root.Cert.Subject.CommonName)
	}
}

func TestStore_EnsureRootPersistsAllFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(Options{Dir: dir, DisablePersistentLeafCache: true})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	if _, err := s.EnsureRoot(); err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}

	for _, name := range []string{
		"roxy-ca.pem", "roxy-ca-cert.pem", "roxy-ca-cert.cer",
		"roxy-ca-cert.p12", "roxy-ca.cer", "roxy-ca.p12", "roxy-ca-meta.yaml",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to be persisted: %v", name, err)
		}
	}
}

func TestStore_EnsureRootReloadsPersistedMaterial(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewStore(Options{Dir: dir, DisablePersistentLeafCache: true})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	root1, err := s1.EnsureRoot()
	if err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}
	s1.Close()

	s2, err := NewStore(Options{Dir: dir, DisablePersistentLeafCache: true})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s2.Close()
	root2, err := s2.EnsureRoot()
	if err != nil {
		t.Fatalf("EnsureRoot (reload): %v", err)
	}

	if root1.Cert.SerialNumber.Cmp(root2.Cert.SerialNumber) != 0 {
		t.Fatal("expected reloaded root to have the same serial as the generated one")
	}
}

func TestStore_IssueLeafCachesBySNI(t *testing.T) {
	s := newTestStore(t)

	leaf1, err := s.IssueLeaf("example.com")
	if err != nil {
		t.Fatalf("IssueLeaf: %v", err)
	}
	leaf2, err := s.IssueLeaf("example.com")
	if err != nil {
		t.Fatalf("IssueLeaf (cached): %v", err)
	}

	if leaf1.Chain[0].SerialNumber.Cmp(leaf2.Chain[0].SerialNumber) != 0 {
		t.Fatal("expected second IssueLeaf call to return the cached leaf")
	}
	if s.LeafCacheLen() != 1 {
		t.Fatalf("expected 1 cached leaf, got %d", s.LeafCacheLen())
	}
}

func TestStore_IssueLeafSetsServerAuthAndSAN(t *testing.T) {
	s := newTestStore(t)

	leaf, err := s.IssueLeaf("api.roxy.test")
	if err != nil {
		t.Fatalf("IssueLeaf: %v", err)
	}
	cert := leaf.Chain[0]

	if len(cert.DNSNames) != 1 || cert.DNSNames[0] != "api.roxy.test" {
		t.Fatalf("expected SNI in DNSNames, got %v", cert.DNSNames)
	}
	found := false
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageServerAuth {
			found = true
		}
	}
	if !found {
		t.Fatal("expected ExtKeyUsageServerAuth on issued leaf")
	}
}

func TestStore_IssueLeafWithinGraceWindowReissues(t *testing.T) {
	s := newTestStore(t)

	root, err := s.EnsureRoot()
	if err != nil {
		t.Fatalf("EnsureRoot: %v", err)
	}

	nearExpiry, err := issueLeaf(root, "stale.test")
	if err != nil {
		t.Fatalf("issueLeaf: %v", err)
	}
	nearExpiry.NotAfter = time.Now().Add(30 * time.Minute)
	s.cache.put("stale.test", nearExpiry)

	fresh, err := s.IssueLeaf("stale.test")
	if err != nil {
		t.Fatalf("IssueLeaf: %v", err)
	}
	if fresh.Chain[0].SerialNumber.Cmp(nearExpiry.Chain[0].SerialNumber) == 0 {
		t.Fatal("expected a near-expiry cached leaf to be reissued, not reused")
	}
}

func TestLeafCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLeafCache(2)
	c.put("a", &LeafMaterial{NotAfter: time.Now().Add(time.Hour)})
	c.put("b", &LeafMaterial{NotAfter: time.Now().Add(time.Hour)})
	c.get("a") // touch a, making b the LRU entry
	c.put("c", &LeafMaterial{NotAfter: time.Now().Add(time.Hour)})

	if _, ok := c.get("b"); ok {
		t.Fatal("expected b to have been evicted as least-recently-used")
	}
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected a to survive eviction")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatal("expected c to be present")
	}
}
