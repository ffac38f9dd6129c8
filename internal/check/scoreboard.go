package check

import "github.com/roach88/rvconform/internal/signal"

// pending is an accepted value not yet delivered.
type pending struct {
	value uint64
	edge  int64
	// overtaken is the edge at which a later value was delivered first.
	overtaken int64
}

// scoreboard matches output transfers against accepted inputs in order.
type scoreboard struct {
	q []pending
}

func (sb *scoreboard) len() int { return len(sb.q) }

func (sb *scoreboard) accept(v uint64, edge int64) {
	sb.q = append(sb.q, pending{value: v, edge: edge})
}

func (sb *scoreboard) reset() { sb.q = sb.q[:0] }

// match returns the index of the entry an output transfer of v consumes:
// the oldest equal value not yet overtaken, else the oldest equal value.
// Returns -1 if v is not pending.
func (sb *scoreboard) match(v uint64) int {
	first := -1
	for k, p := range sb.q {
		if p.value != v {
			continue
		}
		if p.overtaken == 0 {
			return k
		}
		if first < 0 {
			first = k
		}
	}
	return first
}

// deliver consumes the value of an output transfer at edge.
//
// The oldest pending value is expected. A value found further back is taken
// out of the queue and every older value is marked overtaken; delivering an
// overtaken value later is a reorder, never delivering it is a loss. A value
// not pending at all is fabricated. Payloads repeat, so an equal value that
// was overtaken is only matched when no other equal value is pending.
func (sb *scoreboard) deliver(v uint64, edge int64) []Violation {
	if len(sb.q) == 0 {
		return []Violation{newViolation(KindFabrication, edge,
			"output transfer of %#x with no accepted input outstanding", v)}
	}
	if k := sb.match(v); k >= 0 {
		p := sb.q[k]
		sb.q = append(sb.q[:k], sb.q[k+1:]...)
		for i := 0; i < k; i++ {
			if sb.q[i].overtaken == 0 {
				sb.q[i].overtaken = edge
			}
		}
		if p.overtaken != 0 {
			return []Violation{newViolation(KindReorder, edge,
				"value %#x accepted at edge %d delivered after a later value (overtaken at edge %d)",
				v, p.edge, p.overtaken)}
		}
		return nil
	}
	return []Violation{newViolation(KindFabrication, edge,
		"output transfer of %#x matches no accepted input (oldest outstanding %#x from edge %d)",
		v, sb.q[0].value, sb.q[0].edge)}
}

// finish reports values that were never delivered. When the run drained,
// every outstanding value is lost. Otherwise up to capacity of the newest
// values may legitimately still be held by the device, unless a later value
// already overtook them.
func (sb *scoreboard) finish(drained bool, capacity int) []Violation {
	n := len(sb.q)
	if !drained {
		n -= capacity
	}
	var out []Violation
	for i, p := range sb.q {
		switch {
		case drained, i < n:
			out = append(out, newViolation(KindLoss, p.edge,
				"value %#x accepted at edge %d was never delivered", p.value, p.edge))
		case p.overtaken != 0:
			out = append(out, newViolation(KindLoss, p.edge,
				"value %#x accepted at edge %d was overtaken at edge %d and never delivered",
				p.value, p.edge, p.overtaken))
		}
	}
	return out
}

// Evaluate checks the Sent and Received sequences after a run. Transfers are
// replayed in edge order; an input and an output on the same edge are
// applied input first. drained tells whether the run reached its drain phase.
func Evaluate(sent, received []signal.Transfer, drained bool, capacity int) []Violation {
	var sb scoreboard
	var out []Violation
	i, j := 0, 0
	for i < len(sent) || j < len(received) {
		if j == len(received) || (i < len(sent) && sent[i].Edge <= received[j].Edge) {
			sb.accept(sent[i].Value, sent[i].Edge)
			i++
			continue
		}
		out = append(out, sb.deliver(received[j].Value, received[j].Edge)...)
		j++
	}
	return append(out, sb.finish(drained, capacity)...)
}
