// Package audio provides the PCM frame primitives and sample-rate conversion
// used on the bridge's media path.
//
// All audio handled by the bridge is 16-bit little-endian mono PCM. The
// gateway leg runs at 16 kHz and the cloud speech legs at 24 kHz. A frame is
// always 20 ms of audio: 640 bytes at 16 kHz, 960 bytes at 24 kHz.
package audio

import "time"

const (
	// GatewayRate is the sample rate of audio exchanged with the media gateway.
	GatewayRate = 16000

	// CloudRate is the sample rate expected and produced by the cloud speech
	// services (streaming transcription, synthesis, realtime).
	CloudRate = 24000

	// FrameDuration is the wall-clock length of one audio frame.
	FrameDuration = 20 * time.Millisecond

	// GatewayFrameBytes is the decoded size of one 20 ms frame at 16 kHz.
	GatewayFrameBytes = 640

	// CloudFrameBytes is the decoded size of one 20 ms frame at 24 kHz.
	CloudFrameBytes = 960
)

// SplitFrames slices pcm into consecutive chunks of frameBytes. A trailing
// partial chunk is zero-padded to the full frame size so every returned frame
// has the exact wire length. Returns nil for empty input.
func SplitFrames(pcm []byte, frameBytes int) [][]byte {
	if len(pcm) == 0 || frameBytes <= 0 {
		return nil
	}
	n := (len(pcm) + frameBytes - 1) / frameBytes
	frames := make([][]byte, 0, n)
	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end <= len(pcm) {
			frames = append(frames, pcm[off:end])
			continue
		}
		tail := make([]byte, frameBytes)
		copy(tail, pcm[off:])
		frames = append(frames, tail)
	}
	return frames
}

// SilentFrames returns n all-zero frames of frameBytes each. Used for the
// comfort tone emitted when a synthesis chunk fails.
func SilentFrames(n, frameBytes int) [][]byte {
	if n <= 0 || frameBytes <= 0 {
		return nil
	}
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = make([]byte, frameBytes)
	}
	return frames
}
