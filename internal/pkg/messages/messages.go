package messages

import (
	amessages "github.com/airenas/async-api/pkg/messages"
)

const (
	st = "CASTGATE/"
	// Work queue name
	Work = st + "Work"
	// Inform queue name
	Inform = st + "Inform"
)

// Inform message types not covered by the async-api defaults
const (
	// InformTypeCheckLater - poll budget exhausted, processing may still be running
	InformTypeCheckLater = "CheckLater"
)

// PollMessage asks the worker to poll for the operation's artifact
type PollMessage struct {
	amessages.QueueMessage
	OwnerID    string `json:"ownerID"`
	SourceName string `json:"sourceName,omitempty"`
	Method     string `json:"method,omitempty"`
}

// NewPollMessage creates a poll message for the job
func NewPollMessage(id, owner, sourceName, method string) *PollMessage {
	return &PollMessage{QueueMessage: amessages.QueueMessage{ID: id},
		OwnerID: owner, SourceName: sourceName, Method: method}
}
