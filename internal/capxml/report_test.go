package capxml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReportCAP_DeviceInfo(t *testing.T) {
	alert := BuildReportCAP(ReportCAPParams{
		Identifier:     "KR.0001_1699999999999-a1b2",
		Sender:         "central-service-1",
		Addresses:      "central-system-1",
		Sent:           "2026-07-30T00:00:00+09:00",
		MsgType:        "Alert",
		Event:          "단말장치 제원정보",
		EventCodeValue: "DIS",
		ParamValueName: "DEVICE_DATA",
		ParamValue:     `{"deviceId":"D1"}`,
	})

	require.NotNil(t, alert)
	assert.Equal(t, "KR.0001_1699999999999-a1b2", alert.Identifier)
	assert.Equal(t, "central-service-1", alert.Sender)
	assert.Equal(t, "central-system-1", alert.Addresses)
	assert.Equal(t, "Alert", alert.MsgType)
	assert.Equal(t, "Private", alert.Scope)
	assert.Equal(t, KoreaGovCode, alert.Code)
	assert.Empty(t, alert.References)
	require.NotNil(t, alert.Info)
	require.NotNil(t, alert.Info.EventCode)
	assert.Equal(t, "DIS", alert.Info.EventCode.Value)
	require.NotNil(t, alert.Info.Parameter)
	assert.Equal(t, "DEVICE_DATA", alert.Info.Parameter.ValueName)
	assert.Equal(t, `{"deviceId":"D1"}`, alert.Info.Parameter.Value)

	// Round trip: the raw ESS payload survives CDATA marshal/unmarshal
	// unchanged, which is the whole point of carrying it as CDATA.
	env := Envelope{TransMsgID: "KR.0001_1699999999999-a1b2", CapInfo: &CapInfo{Alert: alert}}
	body, err := Marshal(env)
	require.NoError(t, err)

	parsed, err := Unmarshal(body)
	require.NoError(t, err)
	require.NotNil(t, parsed.CapInfo)
	require.NotNil(t, parsed.CapInfo.Alert)
	require.NotNil(t, parsed.CapInfo.Alert.Info)
	require.NotNil(t, parsed.CapInfo.Alert.Info.Parameter)
	assert.Equal(t, `{"deviceId":"D1"}`, parsed.CapInfo.Alert.Info.Parameter.Value)
}

func TestBuildReportCAP_DisasterResultCarriesReferences(t *testing.T) {
	alert := BuildReportCAP(ReportCAPParams{
		Identifier:     "2.0:IDEN:KR::1234_RPT_1",
		Sender:         "central-service-1",
		Addresses:      "central-system-1",
		Sent:           "2026-07-30T00:00:00+09:00",
		MsgType:        "Ack",
		Event:          "결과 보고",
		EventCodeValue: "DIM",
		ParamValueName: "LASReport",
		ParamValue:     `{"identifier":"2.0:IDEN:KR::1234","status":"ack"}`,
		References:     "original-sender,2.0:IDEN:KR::1234,2026-07-29T12:00:00+09:00",
	})

	require.NotNil(t, alert)
	assert.Equal(t, "Ack", alert.MsgType)
	assert.Equal(t, "DIM", alert.Info.EventCode.Value)
	assert.Equal(t, "original-sender,2.0:IDEN:KR::1234,2026-07-29T12:00:00+09:00", alert.References)
}
