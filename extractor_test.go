package picotrng

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func bitsOf(s string) []byte {
	bits := make([]byte, len(s))
	for i := range s {
		if s[i] == '1' {
			bits[i] = 1
		}
	}
	return bits
}

func TestExtractorPairRules(t *testing.T) {
	// Worked example: "0110" = pairs 01, 10.
	in := bitsOf("0110")
	assert.Equal(t, "10", string(ASCIIBits(VonNeumann(in))))
	assert.Equal(t, "11", string(ASCIIBits(XORSequence(in))))
	assert.Equal(t, "", string(ASCIIBits(Residual(in))))
	// Pair 01 contributes svn=1,sxor=1; pair 10 contributes svn=0,sxor=1.
	assert.Equal(t, "1101", string(ASCIIBits(IteratedVonNeumann(in))))

	// Worked example: "0011" = pairs 00, 11.
	in = bitsOf("0011")
	assert.Equal(t, "", string(ASCIIBits(VonNeumann(in))))
	assert.Equal(t, "00", string(ASCIIBits(XORSequence(in))))
	assert.Equal(t, "01", string(ASCIIBits(Residual(in))))
	assert.Equal(t, "0001", string(ASCIIBits(IteratedVonNeumann(in))))
}

func TestExtractorAllFourPairs(t *testing.T) {
	// One of each pair type, in order 00 01 10 11.
	in := bitsOf("00011011")
	seqs := ExtractAll(in)
	assert.Equal(t, "10", string(ASCIIBits(seqs.SVN)))
	assert.Equal(t, "0110", string(ASCIIBits(seqs.SXOR)))
	assert.Equal(t, "01", string(ASCIIBits(seqs.SR)))
	// 00 -> sxor 0, sr 0; 01 -> svn 1, sxor 1; 10 -> svn 0, sxor 1; 11 -> sxor 0, sr 1.
	assert.Equal(t, "00110101", string(ASCIIBits(seqs.Cascade)))
}

func TestExtractorDropsTrailingOddBit(t *testing.T) {
	even := bitsOf("0110")
	odd := bitsOf("01101") // same pairs plus an unpaired trailing 1
	assert.Equal(t, VonNeumann(even), VonNeumann(odd))
	assert.Equal(t, XORSequence(even), XORSequence(odd))
	assert.Equal(t, Residual(even), Residual(odd))
	assert.Equal(t, IteratedVonNeumann(even), IteratedVonNeumann(odd))
}

func TestExtractorEmptyInput(t *testing.T) {
	seqs := ExtractAll(nil)
	if len(seqs.SVN)+len(seqs.SXOR)+len(seqs.SR)+len(seqs.Cascade) != 0 {
		t.Errorf("empty input produced nonempty output: %+v", seqs)
	}
}

// The structural invariants hold for any input: SXOR has one bit per pair,
// SVN and SR partition the pairs with nothing double-counted, and the
// cascade is exactly the three put together.
func TestExtractorLengthInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(271828))
	for trial := 0; trial < 50; trial++ {
		n := rng.Intn(2000)
		in := make([]byte, n)
		for i := range in {
			in[i] = byte(rng.Intn(2))
		}
		seqs := ExtractAll(in)
		npairs := n / 2
		if len(seqs.SXOR) != npairs {
			t.Fatalf("n=%d: len(SXOR)=%d, want %d", n, len(seqs.SXOR), npairs)
		}
		if len(seqs.SVN)+len(seqs.SR) > npairs {
			t.Fatalf("n=%d: len(SVN)+len(SR)=%d exceeds pair count %d", n, len(seqs.SVN)+len(seqs.SR), npairs)
		}
		if len(seqs.Cascade) != len(seqs.SVN)+len(seqs.SXOR)+len(seqs.SR) {
			t.Fatalf("n=%d: len(cascade)=%d, want %d", n, len(seqs.Cascade),
				len(seqs.SVN)+len(seqs.SXOR)+len(seqs.SR))
		}
	}
}

func TestASCIIBitsRoundTrip(t *testing.T) {
	in := bitsOf("0100110")
	parsed, err := ParseASCIIBits(ASCIIBits(in))
	if err != nil {
		t.Fatalf("ParseASCIIBits: %v", err)
	}
	assert.Equal(t, in, parsed)
}

func TestParseASCIIBitsWhitespaceAndErrors(t *testing.T) {
	bits, err := ParseASCIIBits([]byte("01 10\n"))
	if err != nil {
		t.Fatalf("whitespace should be tolerated: %v", err)
	}
	assert.Equal(t, bitsOf("0110"), bits)

	if _, err := ParseASCIIBits([]byte("01x0")); err == nil {
		t.Error("invalid character accepted, want error")
	}
}

func TestComputeSequenceStats(t *testing.T) {
	s := ComputeSequenceStats(bitsOf("0101"))
	assert.Equal(t, 4, s.Length)
	assert.InDelta(t, 0.5, s.OnesFraction, 1e-12)
	assert.InDelta(t, 0.0, s.Bias, 1e-12)
	assert.InDelta(t, 1.0, s.EntropyPerBit, 1e-12)

	s = ComputeSequenceStats(bitsOf("1111"))
	assert.InDelta(t, 1.0, s.OnesFraction, 1e-12)
	assert.InDelta(t, 0.0, s.EntropyPerBit, 1e-12)

	s = ComputeSequenceStats(nil)
	assert.Equal(t, SequenceStats{}, s)
}

func TestProcessBitFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(input, []byte("00011011"), 0664); err != nil {
		t.Fatal(err)
	}

	result, err := ProcessBitFile(input, dir)
	if err != nil {
		t.Fatalf("ProcessBitFile: %v", err)
	}
	if result.Input.Length != 8 {
		t.Errorf("input length = %d, want 8", result.Input.Length)
	}

	want := map[string]string{
		SVNFilename:     "10",
		SXORFilename:    "0110",
		SRFilename:      "01",
		CascadeFilename: "00110101",
	}
	for name, content := range want {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
		if string(got) != content {
			t.Errorf("%s = %q, want %q", name, got, content)
		}
	}
}

// Re-running extraction on the same input must yield byte-identical outputs.
func TestProcessBitFileIdempotent(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	rng := rand.New(rand.NewSource(31415))
	raw := make([]byte, 4001)
	for i := range raw {
		raw[i] = byte('0' + rng.Intn(2))
	}
	if err := os.WriteFile(input, raw, 0664); err != nil {
		t.Fatal(err)
	}

	if _, err := ProcessBitFile(input, dir); err != nil {
		t.Fatal(err)
	}
	first := map[string][]byte{}
	for _, name := range []string{SVNFilename, SXORFilename, SRFilename, CascadeFilename} {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		first[name] = content
	}

	if _, err := ProcessBitFile(input, dir); err != nil {
		t.Fatal(err)
	}
	for name, content := range first {
		again, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		assert.Equal(t, content, again, "output %s changed between runs", name)
	}
}

// A missing or malformed input must fail before any output file appears.
func TestProcessBitFileAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	if _, err := ProcessBitFile(filepath.Join(dir, "no_such_file.txt"), dir); err == nil {
		t.Fatal("missing input accepted, want error")
	}
	bad := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(bad, []byte("01!0"), 0664); err != nil {
		t.Fatal(err)
	}
	if _, err := ProcessBitFile(bad, dir); err == nil {
		t.Fatal("malformed input accepted, want error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "bad.txt" {
			t.Errorf("unexpected output file %s after failed runs", e.Name())
		}
	}
}
