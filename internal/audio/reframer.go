package audio

import (
	"context"
	"time"
)

const (
	// OutputSampleRate is the fixed rate every frame leaving the Reframer is at.
	OutputSampleRate = 48000
	// FrameDurationMs is the fixed frame duration the Reframer quantizes to.
	FrameDurationMs = 10
	// FrameSamples is the sample count per output frame (480 @ 48kHz/10ms).
	FrameSamples = OutputSampleRate * FrameDurationMs / 1000
	// FrameBytes is the byte size per output frame (16-bit mono).
	FrameBytes = FrameSamples * 2
)

// Sink receives paced, fixed-size 10ms/48kHz/mono/16-bit frames.
type Sink interface {
	SendFrame(frame []byte) error
}

// Reframer converts arbitrary-size PCM16LE mono chunks at a stated input rate
// into a stream of fixed 10ms/48kHz frames delivered to a Sink, pacing
// real-time between frames. It carries partial-frame and odd-byte state
// across calls (C1, PCMFeederState in the data model).
type Reframer struct {
	sink Sink

	pending    []byte // leftover output-rate bytes shorter than one frame
	oddByte    []byte // carried single odd input byte (0 or 1 elements)
	lastSample int16  // last input sample of the most recent chunk; recorded, not read by the resampler
	havePrev   bool
}

// NewReframer constructs a Reframer feeding frames to sink.
func NewReframer(sink Sink) *Reframer {
	return &Reframer{sink: sink}
}

// FeedChunk converts chunk (PCM16LE mono at inputRate) to 48kHz output frames,
// emitting each full frame to the sink with cancelable real-time pacing
// between emissions. It returns the number of frames emitted.
func (r *Reframer) FeedChunk(ctx context.Context, chunk []byte, inputRate int) (int, error) {
	if len(r.oddByte) == 1 {
		chunk = append(append([]byte{}, r.oddByte...), chunk...)
		r.oddByte = nil
	}
	if len(chunk)%2 != 0 {
		r.oddByte = []byte{chunk[len(chunk)-1]}
		chunk = chunk[:len(chunk)-1]
	}
	if len(chunk) == 0 {
		return 0, nil
	}

	in := bytesToInt16(chunk)
	out := r.resample(in, inputRate)
	r.pending = append(r.pending, int16ToBytes(out)...)

	return r.drainFrames(ctx)
}

// Flush zero-pads any partial trailing frame and emits it, then resets state.
func (r *Reframer) Flush(ctx context.Context) (int, error) {
	n := 0
	if len(r.oddByte) == 1 {
		// A single carried byte can't form a sample; drop it per the
		// little-endian alignment rule (there is no pair to complete it).
		r.oddByte = nil
	}
	if len(r.pending) > 0 && len(r.pending) < FrameBytes {
		padded := make([]byte, FrameBytes)
		copy(padded, r.pending)
		r.pending = padded
	}
	emitted, err := r.drainFrames(ctx)
	n += emitted
	r.pending = nil
	r.havePrev = false
	return n, err
}

func (r *Reframer) drainFrames(ctx context.Context) (int, error) {
	n := 0
	first := true
	for len(r.pending) >= FrameBytes {
		if !first {
			if err := sleepCancelable(ctx, FrameDurationMs*time.Millisecond); err != nil {
				return n, err
			}
		}
		first = false

		frame := r.pending[:FrameBytes]
		if err := r.sink.SendFrame(frame); err != nil {
			return n, err
		}
		r.pending = r.pending[FrameBytes:]
		n++
	}
	return n, nil
}

// resample converts in (at inputRate) to 48kHz int16 samples.
func (r *Reframer) resample(in []int16, inputRate int) []int16 {
	switch inputRate {
	case OutputSampleRate:
		if len(in) > 0 {
			r.lastSample = in[len(in)-1]
			r.havePrev = true
		}
		return in
	case 24000:
		return r.linearInterpolate2x(in)
	default:
		return r.nearestNeighbor(in, inputRate)
	}
}

// linearInterpolate2x doubles the rate: each sample emits itself followed by
// the average of it and the next sample (or itself, at the tail).
func (r *Reframer) linearInterpolate2x(in []int16) []int16 {
	out := make([]int16, 0, len(in)*2)
	for i, s := range in {
		out = append(out, s)
		var next int16
		if i+1 < len(in) {
			next = in[i+1]
		} else {
			next = s
		}
		avg := int16((int32(s) + int32(next)) / 2)
		out = append(out, avg)
	}
	if len(in) > 0 {
		r.lastSample = in[len(in)-1]
		r.havePrev = true
	}
	return out
}

// nearestNeighbor upsamples/downsamples an arbitrary rate to 48kHz using
// floor(i / (48000/r)) indexing, clamped to the input bounds.
func (r *Reframer) nearestNeighbor(in []int16, inputRate int) []int16 {
	if inputRate <= 0 || len(in) == 0 {
		return nil
	}
	ratio := float64(OutputSampleRate) / float64(inputRate)
	outLen := int(float64(len(in)) * ratio)
	out := make([]int16, outLen)
	step := float64(inputRate) / float64(OutputSampleRate)
	for i := 0; i < outLen; i++ {
		srcIdx := int(float64(i) * step)
		if srcIdx >= len(in) {
			srcIdx = len(in) - 1
		}
		out[i] = in[srcIdx]
	}
	if len(in) > 0 {
		r.lastSample = in[len(in)-1]
		r.havePrev = true
	}
	return out
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// sleepCancelable sleeps for d or returns ctx.Err() immediately if ctx is
// cancelled first. This is the cancelable pacing primitive every outbound
// pacer in the gateway is built on (§5: "the outbound pacer sleep must be
// cancelable on a sub-10ms budget").
func sleepCancelable(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		time.Sleep(d)
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
