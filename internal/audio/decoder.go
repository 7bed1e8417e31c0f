package audio

import (
	"errors"
	"fmt"
)

// Supported upstream frame codecs
const (
	CodecPCMU  = "pcmu"
	CodecPCM16 = "pcm16"
)

// ErrUnsupportedCodec is returned for frames in a codec the decoder does not handle
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Format describes how a frame payload is encoded
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
}

// Decoder converts upstream frames into interleaved s16le PCM at a fixed capture format
type Decoder struct {
	sampleRate int
	channels   int
}

// NewDecoder creates a decoder producing PCM at sampleRate with the given channel count
func NewDecoder(sampleRate, channels int) *Decoder {
	return &Decoder{sampleRate: sampleRate, channels: channels}
}

// SampleRate returns the output sample rate
func (d *Decoder) SampleRate() int { return d.sampleRate }

// Channels returns the output channel count
func (d *Decoder) Channels() int { return d.channels }

// Decode turns one payload into raw capture bytes. Empty payloads decode to nothing.
func (d *Decoder) Decode(format Format, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid frame format rate=%d channels=%d", format.SampleRate, format.Channels)
	}

	var samples []int16
	switch format.Codec {
	case CodecPCMU:
		samples = MulawToSamples(payload)
	case CodecPCM16:
		var err error
		samples, err = BytesToSamples(payload)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, format.Codec)
	}

	if len(samples)%format.Channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), format.Channels)
	}

	if format.SampleRate == d.sampleRate && format.Channels == d.channels {
		return SamplesToBytes(samples), nil
	}

	planes := remix(deinterleave(samples, format.Channels), d.channels)
	for c := range planes {
		planes[c] = resample(planes[c], format.SampleRate, d.sampleRate)
	}
	return SamplesToBytes(interleave(planes)), nil
}
