package amqp

import (
	"encoding/json"
	"time"

	"folhaponto/internal/events"
)

// SignatureEventMessage is the wire form of events.SignatureEvent. It carries
// ids only; consumers load the ficha from the record store.
type SignatureEventMessage struct {
	Type       events.Type `json:"type"`
	FichaID    string      `json:"fichaId,omitempty"`
	EmployeeID string      `json:"employeeId,omitempty"`
	Month      int         `json:"month,omitempty"`
	Year       int         `json:"year,omitempty"`
	At         time.Time   `json:"at"`
	Timestamp  time.Time   `json:"timestamp"`
}

func NewSignatureEventMessage(ev events.SignatureEvent) *SignatureEventMessage {
	return &SignatureEventMessage{
		Type:       ev.Type,
		FichaID:    ev.FichaID,
		EmployeeID: ev.EmployeeID,
		Month:      ev.Month,
		Year:       ev.Year,
		At:         ev.At,
		Timestamp:  time.Now(),
	}
}

// Event converts the message back to a domain event.
func (m *SignatureEventMessage) Event() events.SignatureEvent {
	return events.SignatureEvent{
		Type:       m.Type,
		FichaID:    m.FichaID,
		EmployeeID: m.EmployeeID,
		Month:      m.Month,
		Year:       m.Year,
		At:         m.At,
	}
}

func (m *SignatureEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SignatureEventMessageFromJSON(data []byte) (*SignatureEventMessage, error) {
	var msg SignatureEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
