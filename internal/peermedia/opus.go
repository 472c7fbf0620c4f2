package peermedia

import (
	"fmt"

	"layeh.com/gopus"
)

// The gateway's peer audio sink carries 48kHz mono PCM (§6), unlike
// Discord's 48kHz stereo convention in the pack's other gopus user
// (`_examples/MrWong99-glyphoxa/pkg/audio/discord/opus.go`); channel count
// and frame size are adjusted accordingly, the encode/decode call shape is
// unchanged.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	opusFrameSize   = opusSampleRate * opusFrameSizeMs / 1000 // 960 samples
)

// OpusDecoder wraps a per-stream gopus decoder. Each peer stream needs its
// own instance to keep decoder state correct across consecutive packets.
type OpusDecoder struct {
	dec *gopus.Decoder
}

func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("peermedia: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes one Opus packet into PCM16LE mono bytes at 48kHz.
func (d *OpusDecoder) Decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("peermedia: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// OpusEncoder wraps a gopus encoder for the outbound stream.
type OpusEncoder struct {
	enc *gopus.Encoder
}

func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("peermedia: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes PCM16LE mono bytes at 48kHz into one Opus packet.
func (e *OpusEncoder) Encode(pcmBytes []byte) ([]byte, error) {
	pcm := bytesToInt16s(pcmBytes)
	opus, err := e.enc.Encode(pcm, opusFrameSize, len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("peermedia: opus encode: %w", err)
	}
	return opus, nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
