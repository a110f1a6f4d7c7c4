package picotrng

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// CaptureMode selects the policy that ends an acquisition session.
type CaptureMode string

// The two capture modes.
const (
	ModeDuration CaptureMode = "duration" // stop after a wall-clock duration
	ModeCount    CaptureMode = "count"    // stop after a total bit count
)

// AcquireConfig holds everything an acquisition session needs to know.
type AcquireConfig struct {
	Mode                   CaptureMode
	DurationSeconds        float64 // used when Mode == ModeDuration
	TotalBitsTarget        int     // used when Mode == ModeCount
	NoSignalTimeoutSeconds float64 // active in both modes
	StatusByCountInterval  int     // bits between status updates in count mode
	StatusByTimeInterval   float64 // seconds between status updates in duration mode
	Sampler                SamplerConfig
	OutputFile             string // ASCII bitstream destination
}

// Defaults applied by Validate when the corresponding field is zero. The
// status and timeout values match the ones the lab has always run with.
const (
	DefaultNoSignalTimeoutSeconds = 3.0
	DefaultStatusByCountInterval  = 10000
	DefaultStatusByTimeInterval   = 5.0
)

// Validate fills defaulted fields and rejects configurations that could
// never terminate or never sample.
func (c *AcquireConfig) Validate() error {
	switch c.Mode {
	case ModeDuration:
		if c.DurationSeconds <= 0 {
			return fmt.Errorf("duration mode requires DurationSeconds > 0, got %v", c.DurationSeconds)
		}
	case ModeCount:
		if c.TotalBitsTarget <= 0 {
			return fmt.Errorf("count mode requires TotalBitsTarget > 0, got %v", c.TotalBitsTarget)
		}
	default:
		return fmt.Errorf("capture mode %q is not one of (%s, %s)", c.Mode, ModeDuration, ModeCount)
	}
	if c.NoSignalTimeoutSeconds == 0 {
		c.NoSignalTimeoutSeconds = DefaultNoSignalTimeoutSeconds
	}
	if c.NoSignalTimeoutSeconds < 0 {
		return fmt.Errorf("NoSignalTimeoutSeconds=%v, must be positive", c.NoSignalTimeoutSeconds)
	}
	if c.StatusByCountInterval <= 0 {
		c.StatusByCountInterval = DefaultStatusByCountInterval
	}
	if c.StatusByTimeInterval <= 0 {
		c.StatusByTimeInterval = DefaultStatusByTimeInterval
	}
	return c.Sampler.Validate()
}

func (c *AcquireConfig) noSignalTimeout() time.Duration {
	return time.Duration(c.NoSignalTimeoutSeconds * float64(time.Second))
}

func (c *AcquireConfig) duration() time.Duration {
	return time.Duration(c.DurationSeconds * float64(time.Second))
}

// StopReason says why a session ended.
type StopReason int

// The possible session outcomes. The first three are orderly shutdowns and
// leave a valid partial (or complete) bitstream behind; StopFatalError means
// the driver or the output file failed mid-session.
const (
	StopNone       StopReason = iota // session still running
	StopDuration                     // requested duration elapsed
	StopCount                        // requested bit count reached
	StopNoSignal                     // source went quiet for too long
	StopFatalError                   // driver or write failure
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "running"
	case StopDuration:
		return "duration reached"
	case StopCount:
		return "bit count reached"
	case StopNoSignal:
		return "no signal"
	case StopFatalError:
		return "fatal error"
	}
	return fmt.Sprintf("StopReason(%d)", int(r))
}

// Status is the periodic progress report of a running session.
type Status struct {
	BitsCollected int
	Elapsed       time.Duration
	Target        int // TotalBitsTarget in count mode, else 0
}

// StatusSink receives periodic Status updates. It is called with the session
// lock held, so sinks must be quick; hand the update to a channel or logger
// and return.
type StatusSink func(Status)

// AcquisitionController owns one acquisition session: it bridges a pushing
// BatchSource to the sampler, accumulates extracted bits into the output
// writer, and enforces the stop conditions. The extracted bit sequence is
// append-only and owned exclusively by the controller.
type AcquisitionController struct {
	conf AcquireConfig
	out  io.Writer
	sink StatusSink

	rawDump *RawDump

	lock                sync.Mutex // guards everything below
	started             bool
	startTime           time.Time
	lastSignalTime      time.Time
	bitsCollected       int
	overflowsDropped    int
	lastCountCheckpoint int
	lastTimeCheckpoint  time.Duration
	reason              StopReason
	err                 error
	done                chan struct{} // closed exactly once, when a stop condition fires
}

// NewAcquisitionController validates conf and prepares a session that will
// append ASCII bits to out. sink may be nil to discard status updates.
func NewAcquisitionController(conf AcquireConfig, out io.Writer, sink StatusSink) (*AcquisitionController, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("acquisition requires a non-nil output writer")
	}
	return &AcquisitionController{
		conf: conf,
		out:  out,
		sink: sink,
		done: make(chan struct{}),
	}, nil
}

// SetRawDump attaches an optional raw-batch dump that receives the first few
// valid batches for offline threshold tuning. Must be called before Run.
func (ac *AcquisitionController) SetRawDump(rd *RawDump) {
	ac.rawDump = rd
}

// OnBatch is the driver callback: it runs the sampler on one raw batch,
// appends the extracted bits, and evaluates the stop conditions. Batches are
// serialized by the session lock, preserving the append-only, monotonic
// invariant on the bit sequence even if a driver misbehaves and calls back
// concurrently.
func (ac *AcquisitionController) OnBatch(b Batch) {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	if !ac.started || ac.reason != StopNone {
		return
	}
	now := time.Now()

	if b.Overflow {
		// Data was lost in the driver. Drop the whole batch, log it, carry on.
		ac.overflowsDropped++
		ProblemLogger.Printf("overflowed batch dropped (%d so far); no bits contributed", ac.overflowsDropped)
		ac.evaluateStop(now)
		return
	}

	if ac.rawDump != nil {
		if err := ac.rawDump.Consume(b); err != nil {
			ProblemLogger.Printf("raw dump failed (continuing): %v", err)
			ac.rawDump = nil
		}
	}

	newBits := ac.conf.Sampler.ExtractBits(b.Clock, b.Data)
	if ac.conf.Mode == ModeCount {
		if room := ac.conf.TotalBitsTarget - ac.bitsCollected; len(newBits) > room {
			if room < 0 {
				room = 0
			}
			newBits = newBits[:room]
		}
	}
	if len(newBits) > 0 {
		if _, err := ac.out.Write(ASCIIBits(newBits)); err != nil {
			ac.failLocked(fmt.Errorf("cannot append to bitstream: %v", err))
			return
		}
		ac.bitsCollected += len(newBits)
	}

	if !allZero(b.Clock) || !allZero(b.Data) {
		ac.lastSignalTime = now
	}

	ac.maybeEmitStatus(now)
	ac.evaluateStop(now)
}

// Fail records a fatal driver error and terminates the session immediately.
// A live entropy stream has no replay, so there is no retry path.
func (ac *AcquisitionController) Fail(err error) {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	ac.failLocked(err)
}

func (ac *AcquisitionController) failLocked(err error) {
	if ac.reason != StopNone {
		return
	}
	ac.err = err
	ac.setStopped(StopFatalError)
}

// CheckIdle evaluates the no-signal timeout between driver callbacks. A
// stuck or disconnected source delivers no batches at all, so OnBatch alone
// could never notice it; the polling loop calls this once per tick.
func (ac *AcquisitionController) CheckIdle() {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	if !ac.started || ac.reason != StopNone {
		return
	}
	now := time.Now()
	ac.maybeEmitStatus(now)
	ac.evaluateStop(now)
}

// The three stop predicates are deliberately separate so each is testable on
// its own; evaluateStop just ORs them in priority order.

func (ac *AcquisitionController) durationReached(now time.Time) bool {
	return ac.conf.Mode == ModeDuration && now.Sub(ac.startTime) >= ac.conf.duration()
}

func (ac *AcquisitionController) countReached() bool {
	return ac.conf.Mode == ModeCount && ac.bitsCollected >= ac.conf.TotalBitsTarget
}

func (ac *AcquisitionController) noSignalTimedOut(now time.Time) bool {
	return now.Sub(ac.lastSignalTime) >= ac.conf.noSignalTimeout()
}

func (ac *AcquisitionController) evaluateStop(now time.Time) {
	switch {
	case ac.durationReached(now):
		ac.setStopped(StopDuration)
	case ac.countReached():
		ac.setStopped(StopCount)
	case ac.noSignalTimedOut(now):
		ac.setStopped(StopNoSignal)
	}
}

func (ac *AcquisitionController) setStopped(reason StopReason) {
	ac.reason = reason
	close(ac.done)
}

func (ac *AcquisitionController) maybeEmitStatus(now time.Time) {
	if ac.sink == nil {
		return
	}
	elapsed := now.Sub(ac.startTime)
	switch ac.conf.Mode {
	case ModeDuration:
		if elapsed-ac.lastTimeCheckpoint >= time.Duration(ac.conf.StatusByTimeInterval*float64(time.Second)) {
			ac.lastTimeCheckpoint = elapsed
			ac.sink(Status{BitsCollected: ac.bitsCollected, Elapsed: elapsed})
		}
	case ModeCount:
		if ac.bitsCollected >= ac.lastCountCheckpoint+ac.conf.StatusByCountInterval {
			ac.lastCountCheckpoint = ac.bitsCollected
			ac.sink(Status{BitsCollected: ac.bitsCollected, Elapsed: elapsed, Target: ac.conf.TotalBitsTarget})
		}
	}
}

// start stamps the session clocks. Called by Run; split out for tests.
func (ac *AcquisitionController) start() {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	now := time.Now()
	ac.started = true
	ac.startTime = now
	ac.lastSignalTime = now
}

// Done is closed when a stop condition fires.
func (ac *AcquisitionController) Done() <-chan struct{} { return ac.done }

// Reason reports why the session stopped, or StopNone while it runs.
func (ac *AcquisitionController) Reason() StopReason {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.reason
}

// Err reports the fatal error, if the session stopped with one.
func (ac *AcquisitionController) Err() error {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.err
}

// BitsCollected reports the monotonic count of bits appended so far.
func (ac *AcquisitionController) BitsCollected() int {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.bitsCollected
}

// OverflowsDropped reports how many overflowed batches were discarded.
func (ac *AcquisitionController) OverflowsDropped() int {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return ac.overflowsDropped
}

// Elapsed reports wall-clock time since the session started.
func (ac *AcquisitionController) Elapsed() time.Duration {
	ac.lock.Lock()
	defer ac.lock.Unlock()
	return time.Since(ac.startTime)
}

// Run drives a complete session: register with the source, poll the soft
// stop conditions until one fires, then stop the source. The poll interval
// bounds how late a stalled source can be detected. Run returns the stop
// reason; the error is non-nil only for StopFatalError.
func (ac *AcquisitionController) Run(src BatchSource, pollInterval time.Duration) (StopReason, error) {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	ac.start()
	if err := src.StartStreaming(ac.OnBatch); err != nil {
		ac.Fail(fmt.Errorf("cannot start batch source: %v", err))
		return ac.Reason(), ac.Err()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
poll:
	for {
		select {
		case <-ac.done:
			break poll
		case <-ticker.C:
			ac.CheckIdle()
		}
	}

	if err := src.StopStreaming(); err != nil {
		// The session already has its bits; a close failure is worth a log
		// line but does not invalidate the result.
		ProblemLogger.Printf("error stopping batch source: %v", err)
	}
	return ac.Reason(), ac.Err()
}

func allZero(samples []RawType) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}
