// Package snapshot dumps every collection of a record store to one JSON
// document and loads it back. Paths ending in .zst are zstd compressed.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/warp/pto-service/record"
)

// FormatVersion is written into every snapshot; Read rejects other versions.
const FormatVersion = 1

// CompressedExt marks zstd-compressed snapshot files.
const CompressedExt = ".zst"

// Snapshot is the document written to disk.
type Snapshot struct {
	Version     int                        `json:"version"`
	ExportedAt  time.Time                  `json:"exported_at"`
	Collections map[string][]record.Record `json:"collections"`
}

// Count is the total number of records across collections.
func (s *Snapshot) Count() int {
	n := 0
	for _, recs := range s.Collections {
		n += len(recs)
	}
	return n
}

// Capture reads every registered collection.
func Capture(ctx context.Context, store *record.Store, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Version:     FormatVersion,
		ExportedAt:  now.UTC(),
		Collections: map[string][]record.Record{},
	}
	for _, name := range store.Registry().Names() {
		recs, err := store.Query(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		snap.Collections[name] = recs
	}
	return snap, nil
}

// Restore replaces each collection present in snap. Collections missing
// from snap are left untouched. An unknown collection fails before anything
// is written.
func Restore(ctx context.Context, store *record.Store, snap *Snapshot) error {
	// Every record is checked before the first collection is replaced.
	for name, recs := range snap.Collections {
		col, err := store.Registry().Lookup(name)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := record.Validate(col, rec); err != nil {
				return fmt.Errorf("restoring %s: %w", name, err)
			}
		}
	}
	for _, name := range store.Registry().Names() {
		recs, ok := snap.Collections[name]
		if !ok {
			continue
		}
		if err := store.Replace(ctx, name, recs); err != nil {
			return fmt.Errorf("restoring %s: %w", name, err)
		}
	}
	return nil
}

// Write encodes snap to w, compressing it when compress is set.
func Write(w io.Writer, snap *Snapshot, compress bool) error {
	if !compress {
		return encode(w, snap)
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := encode(enc, snap); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func encode(w io.Writer, snap *Snapshot) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(snap)
}

// Read decodes a snapshot from r.
func Read(r io.Reader, compressed bool) (*Snapshot, error) {
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

// ExportFile captures store into path.
func ExportFile(ctx context.Context, store *record.Store, path string) (*Snapshot, error) {
	snap, err := Capture(ctx, store, time.Now())
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := Write(f, snap, strings.HasSuffix(path, CompressedExt)); err != nil {
		f.Close()
		return nil, err
	}
	return snap, f.Close()
}

// ImportFile restores store from path.
func ImportFile(ctx context.Context, store *record.Store, path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snap, err := Read(f, strings.HasSuffix(path, CompressedExt))
	if err != nil {
		return nil, err
	}
	return snap, Restore(ctx, store, snap)
}
