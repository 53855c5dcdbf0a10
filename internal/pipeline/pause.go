package pipeline

// Pause stops the queue from starting new requests and calls onSafe once
// no request is in flight, immediately if none is. Requests already in
// flight finish normally.
//
// Pauses nest: each Pause must be matched by a Resume, and every onSafe
// callback runs exactly once, in the order the pauses were requested.
func (q *Queue) Pause(onSafe func()) {
	q.pauses++
	if onSafe != nil {
		q.onSafe = append(q.onSafe, onSafe)
	}
	q.logger.Debug("queue paused", "depth", q.pauses, "inflight", len(q.inflight))
	q.Check()
}

// Resume releases one Pause and continues processing when none remain.
// Extra calls are ignored.
func (q *Queue) Resume() {
	if q.pauses > 0 {
		q.pauses--
	}
	q.logger.Debug("queue resumed", "depth", q.pauses)
	q.Check()
}

// IsPaused reports whether at least one Pause is outstanding.
func (q *Queue) IsPaused() bool {
	return q.pauses > 0
}

func (q *Queue) firePauseCallbacks() {
	if q.pauses == 0 || len(q.inflight) > 0 || q.abandoned > 0 || q.dispatching || len(q.onSafe) == 0 {
		return
	}
	callbacks := q.onSafe
	q.onSafe = nil
	for _, fn := range callbacks {
		fn()
	}
}
