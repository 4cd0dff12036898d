// Package notify publishes operation lifecycle events to interested parties
// over RabbitMQ. Delivery is at-most-once and best-effort: a delivery failure
// never blocks or rolls back the state transition that produced the event.
package notify

import "time"

// EventType names the three lifecycle events the core emits.
type EventType string

const (
	EventOperationAssigned      EventType = "operation_assigned"
	EventOperationStatusChanged EventType = "operation_status_changed"
	EventOperationExpired       EventType = "operation_expired"
)

// Event is the wire shape shared by all three event types.
type Event struct {
	Type          EventType `json:"type"`
	OperationCode string    `json:"operation_id"`
	ClientID      string    `json:"client_id"`
	OperatorID    string    `json:"operator_id,omitempty"`
	NewStatus     string    `json:"new_status"`
	Timestamp     time.Time `json:"timestamp"`
	AmountUSD     string    `json:"amount_usd"`
	OperationType string    `json:"operation_type"`

	// ClientDocument drives the routing key and does not travel in the payload.
	ClientDocument string `json:"-"`
}

// RoutingKeys returns the topic keys the event is addressed to: the owning
// client always, plus the assigned operator for assignment events. The
// client key is derived from the client's identifying document number.
func (e Event) RoutingKeys() []string {
	doc := e.ClientDocument
	if doc == "" {
		doc = e.ClientID
	}
	keys := []string{"client." + doc + ".operations"}
	if e.Type == EventOperationAssigned && e.OperatorID != "" {
		keys = append(keys, "operators."+e.OperatorID)
	}
	return keys
}
