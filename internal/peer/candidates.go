package peer

import "github.com/pion/webrtc/v4"

// candidateQueue holds remote ICE candidates that arrived before the remote
// description. Operations return a new queue and never mutate the receiver.
type candidateQueue struct {
	described bool
	pending   []webrtc.ICECandidateInit
}

// push records c. applyNow is true once the remote description is set, in
// which case the queue is unchanged and the caller applies c directly.
func (q candidateQueue) push(c webrtc.ICECandidateInit) (next candidateQueue, applyNow bool) {
	if q.described {
		return q, true
	}
	pending := append(q.pending[:len(q.pending):len(q.pending)], c)
	return candidateQueue{pending: pending}, false
}

// remoteSet returns the buffered candidates in arrival order and an empty
// queue that applies everything from now on.
func (q candidateQueue) remoteSet() (next candidateQueue, flush []webrtc.ICECandidateInit) {
	return candidateQueue{described: true}, q.pending
}

func (q candidateQueue) len() int {
	return len(q.pending)
}
