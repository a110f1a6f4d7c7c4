package picotrng

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"
)

// BitWriter provides asynchronous, buffered writing of the ASCII bitstream
// file. The driver callback must never block on disk, so writes go onto a
// channel and a single goroutine drains them into a bufio.Writer, flushing
// periodically. Unlike a plain bufio.Writer, the first underlying write
// error is remembered and reported from every later Write, Flush, and Close.
type BitWriter struct {
	writer        *bufio.Writer
	datachannel   chan []byte
	flushNow      chan struct{}
	flushComplete chan struct{}
	flushInterval time.Duration

	errLock sync.Mutex
	err     error // first write error seen by the drain loop
}

// NewBitWriter wraps w. channelDepth bounds how many pending chunks may queue
// before Write starts failing; flushInterval bounds how stale the file can be.
func NewBitWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *BitWriter {
	bw := &BitWriter{
		writer:        bufio.NewWriter(w),
		datachannel:   make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
	}
	go bw.writeLoop()
	return bw
}

// Write queues one chunk of ASCII bit characters. The slice is copied, so
// the caller may reuse its buffer immediately. Write fails rather than
// blocks when the queue is full: a TRNG stream cannot be paused upstream, so
// backpressure here means the disk has fallen hopelessly behind.
func (bw *BitWriter) Write(p []byte) (int, error) {
	if err := bw.firstError(); err != nil {
		return 0, err
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case bw.datachannel <- chunk:
		return len(p), nil
	default:
		return 0, fmt.Errorf("bit writer queue full: %w", io.ErrShortWrite)
	}
}

// WriteBits queues bit values (0/1), converting them to their ASCII form.
func (bw *BitWriter) WriteBits(bits []byte) (int, error) {
	return bw.Write(ASCIIBits(bits))
}

// Flush drains the queue into the underlying writer and blocks until done.
func (bw *BitWriter) Flush() error {
	bw.flushNow <- struct{}{}
	<-bw.flushComplete
	return bw.firstError()
}

// Close flushes remaining data and stops the drain goroutine. Calling Write
// or Flush after Close is a programming error and will panic.
func (bw *BitWriter) Close() error {
	close(bw.flushNow)
	<-bw.flushComplete
	return bw.firstError()
}

func (bw *BitWriter) firstError() error {
	bw.errLock.Lock()
	defer bw.errLock.Unlock()
	return bw.err
}

func (bw *BitWriter) noteError(err error) {
	if err == nil {
		return
	}
	bw.errLock.Lock()
	if bw.err == nil {
		bw.err = err
	}
	bw.errLock.Unlock()
}

// writeLoop moves queued chunks into the buffered writer until Close.
func (bw *BitWriter) writeLoop() {
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-bw.datachannel:
			_, err := bw.writer.Write(data)
			bw.noteError(err)

		case _, ok := <-bw.flushNow:
			bw.drainAndFlush()
			bw.flushComplete <- struct{}{}
			if !ok {
				return
			}

		case <-ticker.C:
			bw.drainAndFlush()
		}
	}
}

// drainAndFlush empties the queue, then flushes the bufio layer.
func (bw *BitWriter) drainAndFlush() {
	for {
		select {
		case data := <-bw.datachannel:
			_, err := bw.writer.Write(data)
			bw.noteError(err)
		default:
			bw.noteError(bw.writer.Flush())
			return
		}
	}
}
