// Package sessiondb records acquisition-session summaries in a ClickHouse
// database, when one is available. A missing or unreachable database is not
// an error: the lab runs fine without it, and every write degrades to a
// no-op on a disconnected handle.
package sessiondb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "picotrng" // official SQL name of the database

// SessionMessage is one finished acquisition session, ready to insert.
type SessionMessage struct {
	ID             string // ULID of the session
	Hostname       string
	Mode           string
	BitsCollected  uint64
	ElapsedSeconds float64
	Overflows      uint64
	StopReason     string
	OutputFile     string
	Start          time.Time
	End            time.Time
}

// Connection wraps the ClickHouse connection plus the message channel that
// serializes inserts.
type Connection struct {
	conn       clickhouse.Conn
	err        error
	sessionmsg chan *SessionMessage
	sync.WaitGroup
}

// IsConnected reports whether the handle can accept inserts.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer opens a throwaway connection and verifies the server responds.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.conn.Close()
	return nil
}

// Start opens the connection and launches the goroutine that handles
// messages until abort closes. It always returns a usable handle; check
// IsConnected to learn whether inserts will actually happen. Wait blocks
// until the handler goroutine has drained and returned.
func Start(abort <-chan struct{}) *Connection {
	db := createConnection()
	db.Add(1)
	go db.handleConnection(abort)
	return db
}

// Dummy returns a disconnected handle on which every record call is a no-op
// and Wait returns immediately.
func Dummy() *Connection {
	return &Connection{}
}

func createConnection() *Connection {
	db := &Connection{}
	addr := os.Getenv("PICOTRNG_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("PICOTRNG_DB_USER"),
		Password: os.Getenv("PICOTRNG_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "picotrng", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{addr},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	ctx := context.Background()
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn

	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.sessionmsg = make(chan *SessionMessage)
	return db
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			return
		case msg := <-db.sessionmsg:
			db.handleSessionMessage(msg)
		}
	}
}

// RecordSession queues one finished session for insertion. Safe to call on a
// disconnected handle.
func (db *Connection) RecordSession(msg *SessionMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.sessionmsg <- msg
}

func (db *Connection) handleSessionMessage(m *SessionMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	formattedStart := m.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := m.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.Hostname, m.Mode, m.BitsCollected, m.ElapsedSeconds,
		m.Overflows, m.StopReason, m.OutputFile, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.err = err
	}
}
