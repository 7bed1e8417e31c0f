package audio

import (
	"fmt"
	"math"
)

// BytesToSamples reinterprets little-endian 16-bit PCM as samples
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// MulawToSamples expands G.711 PCMU bytes to linear samples
func MulawToSamples(pcmu []byte) []int16 {
	samples := make([]int16, len(pcmu))
	for i, b := range pcmu {
		samples[i] = mulawToLinear(b)
	}
	return samples
}

// SamplesToMulaw compresses linear samples to G.711 PCMU bytes
func SamplesToMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMulaw(s)
	}
	return out
}

// linearToMulaw converts a 16-bit linear PCM sample to 8-bit μ-law (ITU-T G.711)
func linearToMulaw(sample int16) byte {
	const (
		clip = 8159 // 14-bit magnitude ceiling
		bias = 0x21
	)

	var sign byte
	magnitude := int32(sample) >> 2
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > clip {
		magnitude = clip
	}
	magnitude += bias

	// Segment is the position of the highest set bit above bit 5
	var segment byte
	for temp := magnitude >> 6; temp != 0 && segment < 7; temp >>= 1 {
		segment++
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)
	return ^(sign | (segment << 4) | mantissa)
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	magnitude := ((mantissa << 1) + 33) << segment
	magnitude = (magnitude - 33) << 2

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// deinterleave splits interleaved samples into one slice per channel
func deinterleave(samples []int16, channels int) [][]int16 {
	frames := len(samples) / channels
	out := make([][]int16, channels)
	for c := range out {
		out[c] = make([]int16, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = samples[i*channels+c]
		}
	}
	return out
}

// interleave joins per-channel slices of equal length
func interleave(planes [][]int16) []int16 {
	if len(planes) == 0 {
		return nil
	}
	frames := len(planes[0])
	out := make([]int16, frames*len(planes))
	for i := 0; i < frames; i++ {
		for c, plane := range planes {
			out[i*len(planes)+c] = plane[i]
		}
	}
	return out
}

// remix maps source channel planes onto the target channel count.
// Down-mixing to mono averages; otherwise channels are duplicated or dropped.
func remix(planes [][]int16, channels int) [][]int16 {
	if len(planes) == channels {
		return planes
	}
	frames := len(planes[0])

	if channels == 1 {
		mono := make([]int16, frames)
		for i := 0; i < frames; i++ {
			var sum int32
			for _, plane := range planes {
				sum += int32(plane[i])
			}
			mono[i] = int16(sum / int32(len(planes)))
		}
		return [][]int16{mono}
	}

	out := make([][]int16, channels)
	for c := range out {
		out[c] = planes[c%len(planes)]
	}
	return out
}

// resample performs linear interpolation resampling of a single channel
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
