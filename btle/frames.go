package btle

const FRAME_BLOCK_SIZE = 128

// the count byte numbers at most 256 frames
const MAX_FRAMES = 256
const MAX_MESSAGE_SIZE = MAX_FRAMES * FRAME_BLOCK_SIZE

// SplitMessage frames a message for a characteristic: each frame is one
// count byte (frames still to come, 0 on the last) followed by at most
// blockSize bytes. Returns nil when the message needs more than MAX_FRAMES
// frames.
func SplitMessage(message []byte, blockSize int) (frames [][]byte) {
	if blockSize <= 0 {
		blockSize = FRAME_BLOCK_SIZE
	}
	if len(message) == 0 || len(message) > MAX_FRAMES*blockSize {
		return
	}
	n := byte((len(message) - 1) / blockSize)
	for offset := 0; offset < len(message); offset += blockSize {
		end := offset + blockSize
		if end > len(message) {
			end = len(message)
		}
		frame := append([]byte{n}, message[offset:end]...)
		frames = append(frames, frame)
		n--
	}
	return
}

type messageAssembler struct {
	partial []byte
}

// frames shorter than two bytes carry no payload and are dropped
func (m *messageAssembler) push(frame []byte) (message []byte, complete bool) {
	if len(frame) < 2 {
		return
	}
	n := frame[0]
	m.partial = append(m.partial, frame[1:]...)
	if n != 0 {
		return
	}
	message = m.partial
	m.partial = nil
	complete = true
	return
}
