package keycache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"seedforge/go-engine/internal/keyderive"
)

const diskFormatVersion = 1

const recordSuffix = ".json"

// diskRecord is the persisted schema, one file per fingerprint.
type diskRecord struct {
	Fingerprint   string                 `json:"fingerprint"`
	Material      *keyderive.KeyMaterial `json:"material"`
	CreatedAt     int64                  `json:"created_at"`
	FormatVersion int                    `json:"format_version"`
}

type diskTier struct {
	dir        string
	expiration time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func newDiskTier(dir string, expiration time.Duration, logger *slog.Logger) *diskTier {
	return &diskTier{dir: dir, expiration: expiration, log: logger, now: time.Now}
}

func (d *diskTier) path(fingerprint string) string {
	return filepath.Join(d.dir, fingerprint+recordSuffix)
}

// read returns the cached material for fingerprint, or a miss. Records that
// are unreadable, unparseable, stale, or structurally invalid are deleted on
// the spot; corruption in the shared cache directory must never surface to
// the caller.
func (d *diskTier) read(fingerprint string) (*keyderive.KeyMaterial, bool) {
	path := d.path(fingerprint)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.discard(path, "unreadable")
		}
		return nil, false
	}

	var record diskRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		d.discard(path, "unparseable")
		return nil, false
	}
	if !d.recordValid(record, fingerprint) {
		d.discard(path, "invalid")
		return nil, false
	}
	return record.Material, true
}

func (d *diskTier) recordValid(record diskRecord, fingerprint string) bool {
	if record.FormatVersion != diskFormatVersion {
		return false
	}
	if record.Fingerprint != fingerprint {
		return false
	}
	if record.Material == nil || record.Material.Validate() != nil {
		return false
	}
	age := d.now().Sub(time.Unix(record.CreatedAt, 0))
	return age >= 0 && age < d.expiration
}

// write persists material under an owner-only directory. The record lands via
// a temp file and rename so concurrent readers never observe a partial write.
func (d *diskTier) write(fingerprint string, material *keyderive.KeyMaterial) error {
	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		return err
	}
	record := diskRecord{
		Fingerprint:   fingerprint,
		Material:      material,
		CreatedAt:     d.now().Unix(),
		FormatVersion: diskFormatVersion,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, fingerprint+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, d.path(fingerprint))
}

func (d *diskTier) info() DiskInfo {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return DiskInfo{}
	}
	var out DiskInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordSuffix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out.Files++
		out.TotalBytes += fi.Size()
	}
	return out
}

// cleanup deletes expired and malformed records, returning the count removed.
// An absent directory is an empty cache.
func (d *diskTier) cleanup() int {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		path := filepath.Join(d.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var record diskRecord
		fingerprint := strings.TrimSuffix(name, recordSuffix)
		if json.Unmarshal(raw, &record) != nil || !d.recordValid(record, fingerprint) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed
}

func (d *diskTier) clear() {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordSuffix) {
			continue
		}
		os.Remove(filepath.Join(d.dir, entry.Name()))
	}
}

func (d *diskTier) discard(path, reason string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.log.Warn("failed to remove bad cache record", "reason", reason, "error", err)
		return
	}
	d.log.Debug("removed bad cache record", "reason", reason)
}
