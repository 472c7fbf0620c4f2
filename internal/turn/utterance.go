package turn

import (
	"time"

	"github.com/turnframe/gateway/internal/audio"
	"github.com/turnframe/gateway/internal/vad"
)

// Utterance is the immutable record the Utterance Assembler (C3) hands to a
// Turn Pipeline: a self-contained, STT-ready capture of one VAD-delimited
// speech segment.
type Utterance struct {
	WAV             []byte // 16kHz mono 16-bit PCM, WAV-wrapped
	SpeechStartTime time.Time
	SpeechEndTime   time.Time
	Attachments     []Attachment
}

// PendingAttachments is the per-session queue vision attachments are
// enqueued into (via the `attachments` control message) and drained from
// when the next utterance is assembled.
type PendingAttachments struct {
	items []Attachment
}

func (p *PendingAttachments) Enqueue(a ...Attachment) {
	p.items = append(p.items, a...)
}

// Drain returns and clears the queued attachments.
func (p *PendingAttachments) Drain() []Attachment {
	if len(p.items) == 0 {
		return nil
	}
	out := p.items
	p.items = nil
	return out
}

// AssembleUtterance implements C3: converts a VAD speech-end's float32
// samples to 16kHz PCM16LE, WAV-wraps them, and snapshots+drains the pending
// attachment queue. speechStart/speechEnd are caller-supplied timestamps
// (the gateway records them at the corresponding VAD events).
func AssembleUtterance(speechEndAudio []float32, speechStart, speechEnd time.Time, pending *PendingAttachments) (Utterance, error) {
	pcm := vad.Float32ToInt16(speechEndAudio)
	pcmBytes := int16sLE(pcm)

	wav, err := audio.EncodeWAVPCM16LE(pcmBytes, 16000)
	if err != nil {
		return Utterance{}, err
	}

	var attachments []Attachment
	if pending != nil {
		attachments = pending.Drain()
	}

	return Utterance{
		WAV:             wav,
		SpeechStartTime: speechStart,
		SpeechEndTime:   speechEnd,
		Attachments:     attachments,
	}, nil
}

func int16sLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
