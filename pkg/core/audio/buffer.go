package audio

// FrameBuffer tracks how many bytes of a session's decoded recording have
// already been forwarded upstream. Clients that can only upload a snapshot of
// the entire recording-so-far go through Delta, which slices out the unseen
// tail; clients that upload small incremental frames bypass it entirely.
//
// FrameBuffer is not safe for concurrent use. The owning session serializes
// audio pushes, which also keeps forwarding in arrival order.
type FrameBuffer struct {
	forwarded int
	shrinks   int
}

// NewFrameBuffer returns a buffer with zero bytes forwarded.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Forwarded returns the cumulative number of decoded bytes accounted as
// forwarded. It never decreases except through a defensive shrink reset.
func (b *FrameBuffer) Forwarded() int {
	return b.forwarded
}

// Shrinks returns how many times a snapshot decoded to fewer bytes than were
// already forwarded. Shrinks are anomalies worth surfacing in logs.
func (b *FrameBuffer) Shrinks() int {
	return b.shrinks
}

// Delta consumes a full snapshot of the decoded recording and returns only
// the bytes that have not been forwarded yet, advancing the counter to the
// snapshot length.
//
// A snapshot shorter than the counter means the client's container
// re-encoding shrank the file. Nothing is forwarded in that case; the counter
// resets to zero so the next snapshot starts clean, and shrank reports true
// so the caller can log the anomaly.
func (b *FrameBuffer) Delta(fullPCM []byte) (delta []byte, shrank bool) {
	newBytes := len(fullPCM) - b.forwarded
	switch {
	case newBytes > 0:
		delta = fullPCM[b.forwarded:]
		b.forwarded = len(fullPCM)
		return delta, false
	case newBytes == 0:
		return nil, false
	default:
		b.shrinks++
		b.forwarded = 0
		return nil, true
	}
}

