package roles

import "math/rand/v2"

// Streams keep the decisions of different roles independent under one seed.
const (
	streamOffer uint64 = iota + 1
	streamAccept
)

// draw returns a generator whose output depends only on seed, stream and the
// edge index. Replaying a run with the same seed replays every decision.
func draw(seed uint64, stream uint64, edge int64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream<<56^uint64(edge)))
}
