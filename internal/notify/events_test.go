package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_RoutingKeys_ClientOnly(t *testing.T) {
	event := Event{
		Type:           EventOperationExpired,
		OperationCode:  "EXP-1134",
		ClientID:       "c-9",
		ClientDocument: "45871236",
	}
	assert.Equal(t, []string{"client.45871236.operations"}, event.RoutingKeys())
}

func TestEvent_RoutingKeys_FallsBackToClientID(t *testing.T) {
	event := Event{Type: EventOperationStatusChanged, ClientID: "c-9"}
	assert.Equal(t, []string{"client.c-9.operations"}, event.RoutingKeys())
}

func TestEvent_RoutingKeys_AssignedAddsOperator(t *testing.T) {
	event := Event{
		Type:           EventOperationAssigned,
		ClientDocument: "45871236",
		OperatorID:     "op-3",
	}
	assert.Equal(t, []string{"client.45871236.operations", "operators.op-3"}, event.RoutingKeys())

	// other event types stay client-only even with an operator recorded
	event.Type = EventOperationStatusChanged
	assert.Equal(t, []string{"client.45871236.operations"}, event.RoutingKeys())
}

func TestEvent_JSONShape(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := Event{
		Type:           EventOperationExpired,
		OperationCode:  "EXP-1134",
		ClientID:       "c-9",
		ClientDocument: "45871236",
		NewStatus:      "Expirada",
		Timestamp:      at,
		AmountUSD:      "100.00",
		OperationType:  "Compra",
	}

	body, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, "operation_expired", decoded["type"])
	assert.Equal(t, "EXP-1134", decoded["operation_id"])
	assert.Equal(t, "c-9", decoded["client_id"])
	assert.Equal(t, "Expirada", decoded["new_status"])
	assert.Equal(t, "100.00", decoded["amount_usd"])
	assert.Equal(t, "Compra", decoded["operation_type"])

	// the document number is routing metadata, never payload
	_, present := decoded["client_document"]
	assert.False(t, present)
}
