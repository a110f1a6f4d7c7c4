package sessiondb

import (
	"testing"
	"time"
)

// A disconnected handle must swallow records without blocking or panicking,
// because most acquisition machines run with no database at all.
func TestDummyConnectionIsInert(t *testing.T) {
	db := Dummy()
	if db.IsConnected() {
		t.Error("Dummy() handle claims to be connected")
	}
	msg := &SessionMessage{
		ID:             "01JTESTTESTTESTTESTTESTTES",
		Mode:           "count",
		BitsCollected:  12345,
		ElapsedSeconds: 1.5,
		StopReason:     "bit count reached",
		Start:          time.Now(),
		End:            time.Now(),
	}
	done := make(chan struct{})
	go func() {
		db.RecordSession(msg)
		db.RecordSession(nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("RecordSession blocked on a disconnected handle")
	}
}

func TestNilHandleIsNotConnected(t *testing.T) {
	var db *Connection
	if db.IsConnected() {
		t.Error("nil handle claims to be connected")
	}
}
