package picotrng

// Contains the status publisher, which publishes JSON-encoded messages
// giving the latest acquisition state to any listening clients.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries one message to be published on the status port.
type ClientUpdate struct {
	Tag     string
	Message []byte
}

// RunStatusPublisher forwards messages from its input channel to a ZMQ PUB
// socket, one two-frame envelope (tag, payload) per update. It runs until
// abort closes. Clients that are not listening miss updates; that is the
// nature of PUB/SUB and is fine for progress reporting.
func RunStatusPublisher(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("cannot create status PUB socket: %v", err)
		return
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(fmt.Sprintf("tcp://*:%d", portstatus)); err != nil {
		ProblemLogger.Printf("cannot bind status PUB socket: %v", err)
		return
	}

	for {
		select {
		case <-abort:
			return
		case update := <-messages:
			if _, err := pubSocket.SendMessage(update.Tag, update.Message); err != nil {
				ProblemLogger.Printf("cannot publish %s update: %v", update.Tag, err)
			}
		}
	}
}

// QueueUpdate JSON-encodes v and queues it for publication without ever
// blocking the caller; if the publisher has fallen behind, the update is
// dropped (the next one carries fresher numbers anyway).
func QueueUpdate(messages chan<- ClientUpdate, tag string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		ProblemLogger.Printf("cannot encode %s update: %v", tag, err)
		return
	}
	select {
	case messages <- ClientUpdate{Tag: tag, Message: payload}:
	default:
	}
}
