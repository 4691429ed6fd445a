// Package buffer provides the small concurrent containers used by the audio
// paths of the device core.
//
//   - Queue: a bounded FIFO that refuses pushes when full. Used for packet
//     queues where the producer must observe backpressure.
//
//   - Buffer: a growable accumulator. Used for frame assembly, recording
//     buffers and task lists that are swapped out wholesale.
//
//   - RingBuffer: a fixed-size window that overwrites the oldest data when
//     full. Used for the wake-word pre-roll.
//
// All types are safe for concurrent use.
//
// Example usage:
//
//	q := buffer.QueueN[*Packet](40)
//	if err := q.Push(pkt); errors.Is(err, buffer.ErrFull) {
//		// drop or retry later
//	}
//	for pkt, ok := q.Peek(); ok; pkt, ok = q.Peek() {
//		if !send(pkt) {
//			break
//		}
//		q.Pop()
//	}
package buffer
