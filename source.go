package picotrng

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Batch is one buffer of raw samples delivered by a driver callback.
// The driver owns the Clock and Data slices only until the handler returns;
// a handler must copy anything it wants to keep.
type Batch struct {
	Clock    []RawType
	Data     []RawType
	Overflow bool // driver could not keep up; the batch content is invalid
}

// BatchHandler receives one raw sample batch per driver callback.
type BatchHandler func(Batch)

// BatchSource is the interface for hardware drivers or their stand-ins that
// push raw sample batches. StartStreaming registers the handler and begins
// delivery; StopStreaming ends delivery and releases the device. A source
// never delivers two batches to the handler concurrently.
type BatchSource interface {
	StartStreaming(BatchHandler) error
	StopStreaming() error
}

// SimulatedSourceConfig controls the synthetic signal pair produced by a
// SimulatedSource.
type SimulatedSourceConfig struct {
	BatchSize       int           // samples per batch on each channel
	BatchPeriod     time.Duration // wall time between batches
	SamplesPerCycle int           // clock square-wave period, in samples
	HighCode        RawType       // raw code of the high level on both channels
	OnesProbability float64       // chance a clock cycle carries a data 1 (deliberately biasable)
	Seed            int64
}

// SimulatedSource synthesizes a square-wave clock and a (possibly biased)
// random data channel, so the full acquisition path can run with no hardware
// attached. It implements BatchSource.
type SimulatedSource struct {
	conf      SimulatedSourceConfig
	rng       *rand.Rand
	phase     int
	dataLevel RawType
	abort     chan struct{}
	runDone   sync.WaitGroup
}

// NewSimulatedSource creates a SimulatedSource. Zero-valued config fields are
// replaced by usable defaults.
func NewSimulatedSource(conf SimulatedSourceConfig) *SimulatedSource {
	if conf.BatchSize <= 0 {
		conf.BatchSize = 500
	}
	if conf.BatchPeriod <= 0 {
		conf.BatchPeriod = 50 * time.Millisecond
	}
	if conf.SamplesPerCycle < 2 {
		conf.SamplesPerCycle = 10
	}
	if conf.HighCode == 0 {
		conf.HighCode = FullScaleCode / 2
	}
	if conf.OnesProbability <= 0 || conf.OnesProbability >= 1 {
		conf.OnesProbability = 0.5
	}
	return &SimulatedSource{
		conf: conf,
		rng:  rand.New(rand.NewSource(conf.Seed)),
	}
}

// StartStreaming launches the generator goroutine. Batches are delivered to
// handler one at a time until StopStreaming is called.
func (ss *SimulatedSource) StartStreaming(handler BatchHandler) error {
	if ss.abort != nil {
		return fmt.Errorf("SimulatedSource is already streaming")
	}
	ss.abort = make(chan struct{})
	ss.runDone.Add(1)
	go func() {
		defer ss.runDone.Done()
		ticker := time.NewTicker(ss.conf.BatchPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ss.abort:
				return
			case <-ticker.C:
				handler(ss.nextBatch())
			}
		}
	}()
	return nil
}

// StopStreaming halts the generator and waits for any in-flight batch to be
// fully handled.
func (ss *SimulatedSource) StopStreaming() error {
	if ss.abort == nil {
		return fmt.Errorf("SimulatedSource is not streaming")
	}
	close(ss.abort)
	ss.runDone.Wait()
	ss.abort = nil
	return nil
}

// nextBatch synthesizes one batch, continuing the clock phase from the
// previous batch so edges land where a real periodic clock would put them.
func (ss *SimulatedSource) nextBatch() Batch {
	n := ss.conf.BatchSize
	clock := make([]RawType, n)
	data := make([]RawType, n)
	half := ss.conf.SamplesPerCycle / 2
	for i := 0; i < n; i++ {
		if ss.phase < half {
			clock[i] = ss.conf.HighCode
		}
		// Pick a fresh data level at the start of each clock cycle, so the
		// level is stable across the rising edge that samples it.
		if ss.phase == 0 {
			ss.dataLevel = 0
			if ss.rng.Float64() < ss.conf.OnesProbability {
				ss.dataLevel = ss.conf.HighCode
			}
		}
		data[i] = ss.dataLevel
		ss.phase++
		if ss.phase >= ss.conf.SamplesPerCycle {
			ss.phase = 0
		}
	}
	return Batch{Clock: clock, Data: data}
}

// ReplaySource delivers a fixed list of recorded batches, then goes quiet.
// It is the replayable stand-in for a vendor driver used throughout the
// tests: deterministic input, deterministic extracted bits.
type ReplaySource struct {
	Batches []Batch
	stopped bool
}

// StartStreaming delivers every recorded batch to handler synchronously and
// returns. A quiet (but still open) source afterward lets callers exercise
// the no-signal timeout.
func (rs *ReplaySource) StartStreaming(handler BatchHandler) error {
	for _, b := range rs.Batches {
		handler(b)
	}
	return nil
}

// StopStreaming marks the source closed.
func (rs *ReplaySource) StopStreaming() error {
	if rs.stopped {
		return fmt.Errorf("ReplaySource already stopped")
	}
	rs.stopped = true
	return nil
}

// ErrorSource fails on start with a fixed error, standing in for a driver
// that cannot open or configure the device.
type ErrorSource struct {
	Err error
}

// StartStreaming returns the configured error without delivering anything.
func (es *ErrorSource) StartStreaming(handler BatchHandler) error {
	return es.Err
}

// StopStreaming is a no-op for a source that never started.
func (es *ErrorSource) StopStreaming() error { return nil }
