package framedump

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ErrVersion is returned when a snapshot was written by an unknown format
// version.
var ErrVersion = errors.New("framedump: unsupported snapshot version")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("framedump: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a snapshot to CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a snapshot from CBOR bytes.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("framedump: unmarshal snapshot: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w %d", ErrVersion, s.Version)
	}
	return &s, nil
}

// Write writes snapshots to w as a CBOR sequence.
func Write(w io.Writer, snaps ...*Snapshot) error {
	enc := cborEncMode.NewEncoder(w)
	for _, s := range snaps {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("framedump: write snapshot of %s: %w", s.ThreadName, err)
		}
	}
	return nil
}

// Read reads a CBOR sequence of snapshots until the end of r.
func Read(r io.Reader) ([]*Snapshot, error) {
	dec := cbor.NewDecoder(r)
	var out []*Snapshot
	for {
		var s Snapshot
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("framedump: read snapshot %d: %w", len(out), err)
		}
		if s.Version != Version {
			return out, fmt.Errorf("%w %d", ErrVersion, s.Version)
		}
		out = append(out, &s)
	}
}
