package esengine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// csengineReportEventPayload mirrors csengine.ReportEventPayload's field
// tags without importing csengine, keeping this package's tests independent
// of the CS engine; this test instead verifies the
// wire shape this package produces round-trips into that shape correctly.
type csengineReportEventPayload struct {
	Type               string          `json:"type"`
	ExternalSystemName string          `json:"externalSystemName"`
	RawMessage         json.RawMessage `json:"rawMessage"`
}

func TestReportEventPayload_MatchesConsumerWireShape(t *testing.T) {
	published := ReportEventPayload{
		Type:               "DEVICE_INFO",
		ExternalSystemName: "ess-1",
		RawMessage:         json.RawMessage(`{"identifier":"d1"}`),
	}
	data, err := json.Marshal(published)
	require.NoError(t, err)

	var consumed csengineReportEventPayload
	require.NoError(t, json.Unmarshal(data, &consumed))

	assert.Equal(t, published.Type, consumed.Type)
	assert.Equal(t, published.ExternalSystemName, consumed.ExternalSystemName)
	assert.JSONEq(t, string(published.RawMessage), string(consumed.RawMessage))
}

func TestDisasterEventPayload_RoundTrips(t *testing.T) {
	data, err := json.Marshal(DisasterEventPayload{
		Identifier: "2.0:IDEN:KR::1234",
		EventCode:  "EQ",
		RawMessage: "<alert/>",
	})
	require.NoError(t, err)

	var decoded DisasterEventPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0:IDEN:KR::1234", decoded.Identifier)
	assert.Equal(t, "EQ", decoded.EventCode)
	assert.Equal(t, "<alert/>", decoded.RawMessage)
}
