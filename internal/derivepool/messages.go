package derivepool

import (
	"time"

	"seedforge/go-engine/internal/keyderive"
)

// Progress is a periodic report emitted while a job executes.
type Progress struct {
	Stage   string
	Percent int
	ETA     time.Duration
}

// ProgressFunc receives progress events for a submitted job. Callbacks run on
// the pool dispatcher goroutine and should return quickly.
type ProgressFunc func(Progress)

type messageKind int

const (
	msgProgress messageKind = iota
	msgResult
	msgError
)

// message is the closed union workers send to the dispatcher, keyed by job
// id. The dispatcher handles the three kinds exhaustively and drops anything
// referencing an unknown job or missing its payload.
type message struct {
	kind     messageKind
	jobID    uint64
	progress Progress
	material *keyderive.KeyMaterial
	err      error
}

func (m message) wellFormed() bool {
	if m.jobID == 0 {
		return false
	}
	switch m.kind {
	case msgProgress:
		return m.progress.Percent >= 0 && m.progress.Percent <= 100
	case msgResult:
		return m.material != nil
	case msgError:
		return m.err != nil
	default:
		return false
	}
}
