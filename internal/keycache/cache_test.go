package keycache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"seedforge/go-engine/internal/keyderive"
	"seedforge/go-engine/internal/testutil/fsperm"
)

func testMaterial(t *testing.T, fill byte) *keyderive.KeyMaterial {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = fill
	}
	material, err := keyderive.NewWithBits(512).GenerateFromSeed(seed)
	if err != nil {
		t.Fatalf("derive test material failed: %v", err)
	}
	return material
}

func newTestCache(t *testing.T, dir string) *TieredCache {
	t.Helper()
	c, err := New(Options{Dir: dir, MemoryCapacity: 4})
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t, t.TempDir())
	material := testMaterial(t, 0x01)

	c.Put("sk1abc", material)
	got, ok := c.Get("sk1abc")
	if !ok {
		t.Fatal("expected memory hit")
	}
	if !got.Equal(material) {
		t.Fatal("cached material differs from original")
	}

	stats := c.Stats()
	if stats.MemoryHits != 1 {
		t.Fatalf("expected 1 memory hit, got %d", stats.MemoryHits)
	}
}

func TestDiskFallbackAfterEviction(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir)
	material := testMaterial(t, 0x02)

	c.Put("sk1evicted", material)
	// Push the first entry out of the 4-slot memory tier.
	for _, fp := range []string{"a", "b", "c", "d"} {
		c.Put("sk1"+fp, material)
	}

	got, ok := c.Get("sk1evicted")
	if !ok {
		t.Fatal("expected disk hit after memory eviction")
	}
	if !got.Equal(material) {
		t.Fatal("disk-tier material differs from original")
	}
	if stats := c.Stats(); stats.DiskHits != 1 {
		t.Fatalf("expected 1 disk hit, got %+v", stats)
	}
}

func TestMissOnUnknownFingerprint(t *testing.T) {
	c := newTestCache(t, t.TempDir())
	if _, ok := c.Get("sk1unknown"); ok {
		t.Fatal("expected miss")
	}
	if stats := c.Stats(); stats.Misses != 1 {
		t.Fatalf("expected 1 miss, got %+v", stats)
	}
}

func TestSelfHealingOnCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir)
	material := testMaterial(t, 0x03)
	c.Put("sk1corrupt", material)

	path := filepath.Join(dir, "sk1corrupt"+recordSuffix)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt record failed: %v", err)
	}
	// Force the lookup to the disk tier.
	c.mem.Purge()

	if _, ok := c.Get("sk1corrupt"); ok {
		t.Fatal("corrupt record must be a miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt record must be deleted after lookup")
	}
}

func TestVersionMismatchIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir)
	c.Put("sk1vers", testMaterial(t, 0x04))

	path := filepath.Join(dir, "sk1vers"+recordSuffix)
	if err := os.WriteFile(path, []byte(`{"fingerprint":"sk1vers","format_version":99,"created_at":1,"material":null}`), 0o600); err != nil {
		t.Fatalf("rewrite record failed: %v", err)
	}
	c.mem.Purge()

	if _, ok := c.Get("sk1vers"); ok {
		t.Fatal("version mismatch must be a miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("mismatched record must be deleted")
	}
}

func TestExpirationAndCleanup(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir)
	c.Put("sk1old", testMaterial(t, 0x05))
	c.Put("sk1new", testMaterial(t, 0x06))

	// Age only the first record past the expiration window.
	old := time.Now().Add(2 * DefaultExpiration)
	c.disk.now = func() time.Time { return old }
	c.mem.Purge()

	if _, ok := c.Get("sk1old"); ok {
		t.Fatal("expired record must be a miss")
	}

	c.disk.now = time.Now
	c.Put("sk1old", testMaterial(t, 0x05))
	c.disk.now = func() time.Time { return old }
	if removed := c.CleanupExpired(); removed != 2 {
		t.Fatalf("expected cleanup to remove 2 expired records, got %d", removed)
	}
	if info := c.DiskInfo(); info.Files != 0 {
		t.Fatalf("expected empty disk tier after cleanup, got %+v", info)
	}
}

func TestAbsentDirectoryBehavesAsEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	c := newTestCache(t, dir)

	if _, ok := c.Get("sk1x"); ok {
		t.Fatal("expected miss from absent directory")
	}
	if info := c.DiskInfo(); info.Files != 0 || info.TotalBytes != 0 {
		t.Fatalf("expected empty disk info, got %+v", info)
	}
	if removed := c.CleanupExpired(); removed != 0 {
		t.Fatalf("expected no-op cleanup, got %d", removed)
	}
	c.Clear()
}

func TestMemoryOnlyCache(t *testing.T) {
	c := newTestCache(t, "")
	material := testMaterial(t, 0x07)
	c.Put("sk1mem", material)
	if _, ok := c.Get("sk1mem"); !ok {
		t.Fatal("expected memory hit without disk tier")
	}
	if info := c.DiskInfo(); info.Files != 0 {
		t.Fatalf("memory-only cache should report empty disk info, got %+v", info)
	}
}

func TestClearResetsEverything(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir)
	c.Put("sk1a", testMaterial(t, 0x08))
	c.Get("sk1a")
	c.Get("sk1missing")

	c.Clear()
	stats := c.Stats()
	if stats.MemoryHits != 0 || stats.DiskHits != 0 || stats.Misses != 0 || stats.MemorySize != 0 {
		t.Fatalf("expected zeroed stats after clear, got %+v", stats)
	}
	if info := c.DiskInfo(); info.Files != 0 {
		t.Fatalf("expected empty disk tier after clear, got %+v", info)
	}
}

func TestDiskRecordPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := newTestCache(t, dir)
	c.Put("sk1perm", testMaterial(t, 0x09))

	fsperm.AssertPrivateDirPerm(t, dir)
	fsperm.AssertPrivateFilePerm(t, filepath.Join(dir, "sk1perm"+recordSuffix))
}

func TestCachedMaterialIsIsolated(t *testing.T) {
	c := newTestCache(t, "")
	material := testMaterial(t, 0x0A)
	c.Put("sk1iso", material)

	got, _ := c.Get("sk1iso")
	got.Modulus[0] ^= 0xFF

	again, _ := c.Get("sk1iso")
	if !again.Equal(material) {
		t.Fatal("mutating a returned material must not affect the cache")
	}
}
