// Package audio holds the relay's inbound audio pipeline: PCM validation,
// snapshot delta accounting, and transcoding to the upstream PCM contract
// (16 kHz mono 16-bit signed little-endian).
package audio

import (
	"math"
)

const (
	// SampleRate is the PCM sample rate the upstream live endpoint accepts.
	SampleRate = 16000

	// MinViableBytes is the smallest buffer worth forwarding. Anything
	// shorter is replaced with silence so one malformed chunk never aborts
	// an otherwise-healthy session.
	MinViableBytes = 100

	// silenceRMSThreshold is the RMS energy below which a buffer is
	// considered silent.
	silenceRMSThreshold = 0.003
)

// Verdict classifies an inbound PCM buffer.
type Verdict int

const (
	// VerdictOK means the buffer may be forwarded as-is.
	VerdictOK Verdict = iota
	// VerdictOKOddLength means the buffer may be forwarded but carries a
	// trailing unaligned byte (a known artifact of short-chunk encoding).
	VerdictOKOddLength
	// VerdictSubstituteSilence means the buffer is too small to be viable
	// and a short run of silence should be forwarded instead.
	VerdictSubstituteSilence
	// VerdictReject means the buffer must not be forwarded at all.
	VerdictReject
)

// CheckPCM validates byte alignment and minimum size of a raw PCM buffer.
// Empty buffers are rejected. Undersized buffers degrade to silence
// substitution. Odd-length buffers pass with a warning verdict rather than
// failing the upload.
func CheckPCM(buf []byte) Verdict {
	if len(buf) == 0 {
		return VerdictReject
	}
	if len(buf) < MinViableBytes {
		return VerdictSubstituteSilence
	}
	if len(buf)%2 != 0 {
		return VerdictOKOddLength
	}
	return VerdictOK
}

// Silence returns n bytes of 16-bit PCM silence, rounded up to an even length.
func Silence(n int) []byte {
	if n <= 0 {
		n = MinViableBytes
	}
	if n%2 != 0 {
		n++
	}
	return make([]byte, n)
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to 0.0..1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// IsSilence reports whether the buffer has no audible signal.
func IsSilence(pcm []byte) bool {
	return RMSEnergy(pcm) < silenceRMSThreshold
}
