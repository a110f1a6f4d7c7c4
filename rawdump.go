package picotrng

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
)

// RawDump writes the first few valid raw batches to numpy .npy files, one
// file per channel per batch. Thresholds are chosen by eyeballing real
// waveforms, and a handful of raw batches is all the offline tooling needs.
type RawDump struct {
	dir       string
	remaining int
	index     int
}

// NewRawDump prepares a dump of up to nbatches batches into dir, creating
// the directory if needed.
func NewRawDump(dir string, nbatches int) (*RawDump, error) {
	if nbatches <= 0 {
		return nil, fmt.Errorf("RawDump needs nbatches > 0, got %d", nbatches)
	}
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("cannot create raw dump directory: %v", err)
	}
	return &RawDump{dir: dir, remaining: nbatches}, nil
}

// Consume writes both channels of one batch, until the batch budget is
// spent; later calls are no-ops. Overflowed batches carry no valid samples
// and are skipped without spending the budget.
func (rd *RawDump) Consume(b Batch) error {
	if rd.remaining <= 0 || b.Overflow {
		return nil
	}
	if err := rd.writeChannel("clock", b.Clock); err != nil {
		return err
	}
	if err := rd.writeChannel("data", b.Data); err != nil {
		return err
	}
	rd.index++
	rd.remaining--
	return nil
}

// LoadRawBatches reads the .npy channel dumps written by RawDump back into
// batches, in index order, stopping at the first missing index.
func LoadRawBatches(dir string) ([]Batch, error) {
	var batches []Batch
	for index := 0; ; index++ {
		clock, err := readRawChannel(dir, index, "clock")
		if err != nil {
			if os.IsNotExist(err) && index > 0 {
				return batches, nil
			}
			return nil, fmt.Errorf("no raw batch %d in %s: %v", index, dir, err)
		}
		data, err := readRawChannel(dir, index, "data")
		if err != nil {
			return nil, fmt.Errorf("raw batch %d in %s has no data channel: %v", index, dir, err)
		}
		batches = append(batches, Batch{Clock: clock, Data: data})
	}
}

func readRawChannel(dir string, index int, channel string) ([]RawType, error) {
	f, err := os.Open(filepath.Join(dir, batchFilename(index, channel)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var codes []int16
	if err := npyio.Read(f, &codes); err != nil {
		return nil, err
	}
	samples := make([]RawType, len(codes))
	for i, c := range codes {
		samples[i] = RawType(c)
	}
	return samples, nil
}

func batchFilename(index int, channel string) string {
	return fmt.Sprintf("raw_batch_%4.4d_%s.npy", index, channel)
}

func (rd *RawDump) writeChannel(channel string, samples []RawType) error {
	name := filepath.Join(rd.dir, batchFilename(rd.index, channel))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("cannot create %s: %v", name, err)
	}
	defer f.Close()

	codes := make([]int16, len(samples))
	for i, s := range samples {
		codes[i] = int16(s)
	}
	if err := npyio.Write(f, codes); err != nil {
		return fmt.Errorf("cannot write %s: %v", name, err)
	}
	return nil
}
