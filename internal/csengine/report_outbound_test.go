package csengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonghwa-relay/gateway/internal/store"
)

func TestReportCAPShapes_CoversEveryReportType(t *testing.T) {
	for _, rt := range []store.ReportType{
		store.ReportTypeDeviceInfo,
		store.ReportTypeDeviceStatus,
		store.ReportTypeDisasterResult,
	} {
		shape, ok := reportCAPShapes[rt]
		require.True(t, ok, "missing CAP shape for %s", rt)
		assert.NotEmpty(t, shape.msgType)
		assert.NotEmpty(t, shape.event)
		assert.NotEmpty(t, shape.eventCodeValue)
		assert.NotEmpty(t, shape.paramValueName)
	}

	// reportMessageID must also cover every type reportCAPShapes does, since
	// HandleReportTransmit calls both for the same row.
	for rt := range reportCAPShapes {
		_, err := reportMessageID(rt)
		assert.NoError(t, err, "reportMessageID missing mapping for %s", rt)
	}
}

func TestReportCAPShapes_DisasterResultIsAck(t *testing.T) {
	shape := reportCAPShapes[store.ReportTypeDisasterResult]
	assert.Equal(t, "Ack", shape.msgType)
	assert.Equal(t, "DIM", shape.eventCodeValue)
	assert.Equal(t, "LASReport", shape.paramValueName)
}

func TestIdentifierFromOutboundID_StripsReportSuffix(t *testing.T) {
	assert.Equal(t, "2.0:IDEN:KR::1234", identifierFromOutboundID("2.0:IDEN:KR::1234_RPT_1"))
	assert.Equal(t, outboundIDForDisasterResult("2.0:IDEN:KR::1234"), "2.0:IDEN:KR::1234_RPT_1")
}
