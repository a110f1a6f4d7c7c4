package picotrng

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
)

// This file holds the randomness-extraction transforms. Each one consumes a
// finished bit sequence strictly as non-overlapping adjacent pairs
// (b[2k], b[2k+1]); a trailing unpaired bit is dropped from every output.
// All transforms are pure functions and safe to run concurrently on
// independent inputs.

// VonNeumann returns the classic bias-removal sequence SVN: pair 10 emits 0,
// pair 01 emits 1, equal pairs emit nothing.
func VonNeumann(bits []byte) []byte {
	var out []byte
	for i := 0; i+1 < len(bits); i += 2 {
		switch {
		case bits[i] == 1 && bits[i+1] == 0:
			out = append(out, 0)
		case bits[i] == 0 && bits[i+1] == 1:
			out = append(out, 1)
		}
	}
	return out
}

// XORSequence returns SXOR: exactly one bit per pair, 1 when the two bits
// differ and 0 when they agree. No pairs are dropped.
func XORSequence(bits []byte) []byte {
	n := len(bits) / 2
	out := make([]byte, n)
	for k := 0; k < n; k++ {
		out[k] = bits[2*k] ^ bits[2*k+1]
	}
	return out
}

// Residual returns SR, the complement of what Von Neumann keeps: pair 11
// emits 1, pair 00 emits 0, mixed pairs emit nothing.
func Residual(bits []byte) []byte {
	var out []byte
	for i := 0; i+1 < len(bits); i += 2 {
		if bits[i] == bits[i+1] {
			out = append(out, bits[i])
		}
	}
	return out
}

// IteratedVonNeumann returns the single-pass cascade: per pair, the svn bit
// (if any), then the sxor bit, then the sr bit (if any), appended in that
// fixed order before moving to the next pair. Since sxor always fires and
// svn/sr are mutually exclusive, each pair contributes 1 or 2 bits.
func IteratedVonNeumann(bits []byte) []byte {
	var out []byte
	for i := 0; i+1 < len(bits); i += 2 {
		a, b := bits[i], bits[i+1]
		if a != b {
			out = append(out, b) // svn: opposite of the first bit
			out = append(out, 1) // sxor
		} else {
			out = append(out, 0) // sxor
			out = append(out, a) // sr
		}
	}
	return out
}

// ExtractedSequences holds the four derived sequences of one extraction run.
type ExtractedSequences struct {
	SVN     []byte
	SXOR    []byte
	SR      []byte
	Cascade []byte
}

// ExtractAll produces all four derived sequences from one input.
func ExtractAll(bits []byte) ExtractedSequences {
	return ExtractedSequences{
		SVN:     VonNeumann(bits),
		SXOR:    XORSequence(bits),
		SR:      Residual(bits),
		Cascade: IteratedVonNeumann(bits),
	}
}

// SequenceStats summarizes a bit sequence: how long, how biased, and the
// per-bit Shannon entropy of its 0/1 distribution.
type SequenceStats struct {
	Length        int
	OnesFraction  float64
	Bias          float64 // OnesFraction - 0.5
	EntropyPerBit float64 // bits, in [0, 1]
}

// ComputeSequenceStats counts ones and derives the bias and entropy figures.
// An empty sequence reports zero everywhere.
func ComputeSequenceStats(bits []byte) SequenceStats {
	if len(bits) == 0 {
		return SequenceStats{}
	}
	ones := 0
	for _, b := range bits {
		if b == 1 {
			ones++
		}
	}
	p := float64(ones) / float64(len(bits))
	s := SequenceStats{
		Length:       len(bits),
		OnesFraction: p,
		Bias:         p - 0.5,
	}
	if p > 0 && p < 1 {
		s.EntropyPerBit = stat.Entropy([]float64{p, 1 - p}) / math.Ln2
	}
	return s
}

// Output filenames of one extraction run, matching the long-standing lab
// convention for these sequences.
const (
	SVNFilename     = "von_neumann_output.txt"
	SXORFilename    = "sxor_output.txt"
	SRFilename      = "sr_output.txt"
	CascadeFilename = "iterated_von_neumann.txt"
)

// ExtractionResult reports what an extraction run produced.
type ExtractionResult struct {
	Input   SequenceStats
	SVN     SequenceStats
	SXOR    SequenceStats
	SR      SequenceStats
	Cascade SequenceStats
}

// ProcessBitFile reads one ASCII 0/1 bitstream file and writes the four
// derived-sequence files into outdir. Output is all-or-nothing: the four
// files are staged under temporary names and only renamed into place once
// every write has succeeded, so a failure never leaves a partial run behind.
func ProcessBitFile(inputPath, outdir string) (*ExtractionResult, error) {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read input bitstream: %v", err)
	}
	bits, err := ParseASCIIBits(raw)
	if err != nil {
		return nil, fmt.Errorf("input file %s: %v", inputPath, err)
	}

	seqs := ExtractAll(bits)
	outputs := []struct {
		name string
		bits []byte
	}{
		{SVNFilename, seqs.SVN},
		{SXORFilename, seqs.SXOR},
		{SRFilename, seqs.SR},
		{CascadeFilename, seqs.Cascade},
	}

	var staged []string
	cleanup := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}
	for _, out := range outputs {
		tmp := filepath.Join(outdir, out.name+".tmp")
		if err := os.WriteFile(tmp, ASCIIBits(out.bits), 0664); err != nil {
			cleanup()
			return nil, fmt.Errorf("cannot stage %s: %v", out.name, err)
		}
		staged = append(staged, tmp)
	}
	for i, out := range outputs {
		if err := os.Rename(staged[i], filepath.Join(outdir, out.name)); err != nil {
			cleanup()
			return nil, fmt.Errorf("cannot finalize %s: %v", out.name, err)
		}
	}

	return &ExtractionResult{
		Input:   ComputeSequenceStats(bits),
		SVN:     ComputeSequenceStats(seqs.SVN),
		SXOR:    ComputeSequenceStats(seqs.SXOR),
		SR:      ComputeSequenceStats(seqs.SR),
		Cascade: ComputeSequenceStats(seqs.Cascade),
	}, nil
}

// ASCIIBits renders bit values as the flat '0'/'1' text used in all persisted
// bitstream files: no delimiters, no header.
func ASCIIBits(bits []byte) []byte {
	out := make([]byte, len(bits))
	for i, b := range bits {
		out[i] = '0' + b
	}
	return out
}

// ParseASCIIBits converts persisted bitstream text back into bit values.
// ASCII whitespace is tolerated (editors like trailing newlines); any other
// byte is an error.
func ParseASCIIBits(text []byte) ([]byte, error) {
	bits := make([]byte, 0, len(text))
	for i, c := range text {
		switch c {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		case ' ', '\t', '\r', '\n':
			// skip
		default:
			return nil, fmt.Errorf("byte %d: invalid character %q in bitstream", i, c)
		}
	}
	return bits, nil
}
