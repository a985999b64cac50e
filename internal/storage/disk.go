package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Footprint is the on-disk size of the files personsearch writes itself.
// External vector stores are not included.
type Footprint struct {
	LedgerBytes   int64 `json:"ledger_bytes"`
	SnapshotBytes int64 `json:"snapshot_bytes"`
}

// Total returns the combined size.
func (f Footprint) Total() int64 {
	return f.LedgerBytes + f.SnapshotBytes
}

// MeasureFootprint sizes the ledger database, including its -wal and -shm sidecars, and the memory
// store snapshot. Empty or missing paths count as zero.
func MeasureFootprint(ledgerPath, snapshotPath string) (Footprint, error) {
	var fp Footprint
	if ledgerPath != "" {
		for _, p := range []string{ledgerPath, ledgerPath + "-wal", ledgerPath + "-shm"} {
			n, err := pathSize(p)
			if err != nil {
				return Footprint{}, err
			}
			fp.LedgerBytes += n
		}
	}
	n, err := pathSize(snapshotPath)
	if err != nil {
		return Footprint{}, err
	}
	fp.SnapshotBytes = n
	return fp, nil
}

// pathSize returns the size of a file, or the recursive size of a directory.
func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
