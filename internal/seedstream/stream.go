package seedstream

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrSeedTooShort   = errors.New("seed too short")
	ErrInvalidLength  = errors.New("invalid byte count")
	ErrStreamRequired = errors.New("stream is required")
)

// MinSeedLen is the minimum accepted seed length in bytes.
const MinSeedLen = 32

const blockSize = sha256.Size

// Stream emits a reproducible pseudorandom byte sequence derived from a seed.
// The same seed and the same sequence of reads always produce the same bytes.
// Blocks are generated by hashing the previous block digest (the seed itself
// for the first block) together with a big-endian block counter.
type Stream struct {
	seed    []byte
	counter uint64
	hash    [blockSize]byte
	primed  bool
	buf     []byte
	emitted uint64
}

// New constructs a Stream from seed. The seed is copied; callers may reuse
// or zero their slice afterwards.
func New(seed []byte) (*Stream, error) {
	if len(seed) < MinSeedLen {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrSeedTooShort, len(seed), MinSeedLen)
	}
	return &Stream{seed: append([]byte(nil), seed...)}, nil
}

// GetRandomBytes returns the next n bytes of the stream.
func (s *Stream) GetRandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	out := make([]byte, n)
	filled := 0
	for filled < n {
		if len(s.buf) == 0 {
			s.nextBlock()
		}
		c := copy(out[filled:], s.buf)
		s.buf = s.buf[c:]
		filled += c
	}
	s.emitted += uint64(n)
	return out, nil
}

// Read implements io.Reader so the stream can act as the randomness source
// for key generation. It never returns short reads or errors for len(p) > 0.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := s.GetRandomBytes(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, b), nil
}

// Reset restores the state captured immediately after construction. Replaying
// the same read sequence after a Reset reproduces identical output.
func (s *Stream) Reset() {
	s.counter = 0
	s.hash = [blockSize]byte{}
	s.primed = false
	s.buf = nil
	s.emitted = 0
}

// Snapshot describes the live generator state. All fields are copies;
// mutating a snapshot never affects the stream.
type Snapshot struct {
	Counter      uint64
	Hash         []byte
	Seed         []byte
	BytesEmitted uint64
}

// Snapshot returns a defensive copy of the current state.
func (s *Stream) Snapshot() Snapshot {
	return Snapshot{
		Counter:      s.counter,
		Hash:         append([]byte(nil), s.hash[:]...),
		Seed:         append([]byte(nil), s.seed...),
		BytesEmitted: s.emitted,
	}
}

func (s *Stream) nextBlock() {
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], s.counter)

	h := sha256.New()
	if !s.primed {
		h.Write(s.seed)
		s.primed = true
	} else {
		h.Write(s.hash[:])
	}
	h.Write(ctr[:])
	sum := h.Sum(nil)

	copy(s.hash[:], sum)
	s.buf = append([]byte(nil), sum...)
	s.counter++
}
