// Package verifier generates the per-run write verifier returned by WRITE
// and COMMIT. Clients compare it across replies to detect a server restart
// and resend any unstable writes made before it.
package verifier

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/google/uuid"
)

// Size is the length of an NFSv3 writeverf3.
const Size = 8

// Verifier is the 8-byte write verifier of one server run.
type Verifier [Size]byte

// Instance is the state generated once at startup.
type Instance struct {
	ID       uuid.UUID
	Verifier Verifier
	Started  time.Time
}

// New derives a verifier from the process id, a random UUID and the
// current time. Bytes 0-3 mix pid and randomness; bytes 4-7 hold the
// start time in seconds.
func New() Instance {
	return newInstance(os.Getpid(), uuid.New(), time.Now())
}

func newInstance(pid int, id uuid.UUID, now time.Time) Instance {
	var v Verifier
	seed := binary.BigEndian.Uint32(id[0:4]) ^ binary.BigEndian.Uint32(id[12:16])
	binary.BigEndian.PutUint32(v[0:4], uint32(pid)^seed)
	binary.BigEndian.PutUint32(v[4:8], uint32(now.Unix()))
	return Instance{ID: id, Verifier: v, Started: now}
}

// Uint64 returns the verifier as a big-endian integer.
func (v Verifier) Uint64() uint64 {
	return binary.BigEndian.Uint64(v[:])
}
