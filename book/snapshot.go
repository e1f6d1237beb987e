package book

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is the persisted state of a MemoryStore.
type Snapshot struct {
	NextID  int64  `cbor:"1,keyasint"`
	Records []Book `cbor:"2,keyasint,omitempty"`
}

// SnapshotCodec converts a Snapshot to and from its on-disk form.
type SnapshotCodec interface {
	Encode(Snapshot) ([]byte, error)
	Decode([]byte, *Snapshot) error
}

// CBORCodec stores snapshots as CBOR with integer keys.
type CBORCodec struct{}

func (CBORCodec) Encode(s Snapshot) ([]byte, error) {
	return cbor.Marshal(s)
}

func (CBORCodec) Decode(b []byte, s *Snapshot) error {
	return cbor.Unmarshal(b, s)
}

var errNoSnapshot = errors.New("book: no snapshot")

type snapshotFile struct {
	path  string
	codec SnapshotCodec
}

func (f *snapshotFile) load() (Snapshot, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, errNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("book: read snapshot: %w", err)
	}
	var s Snapshot
	if err := f.codec.Decode(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("book: decode snapshot %s: %w", f.path, err)
	}
	return s, nil
}

// store replaces the snapshot file atomically via a temp file in the same
// directory.
func (f *snapshotFile) store(s Snapshot) error {
	b, err := f.codec.Encode(s)
	if err != nil {
		return fmt.Errorf("book: encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("book: write snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("book: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("book: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("book: write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("book: write snapshot: %w", err)
	}
	return nil
}
