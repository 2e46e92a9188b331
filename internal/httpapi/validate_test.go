package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceInfoRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     deviceInfoRequest
		wantLen int
	}{
		{"valid", deviceInfoRequest{DeviceID: "d1", Type: "CCTV", Name: "camera-1"}, 0},
		{"missing all", deviceInfoRequest{}, 3},
		{"missing name only", deviceInfoRequest{DeviceID: "d1", Type: "CCTV"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.req.validate(), tt.wantLen)
		})
	}
}

func TestDeviceStatusRequest_Validate(t *testing.T) {
	empty := deviceStatusRequest{}
	assert.Len(t, empty.validate(), 1)

	valid := deviceStatusRequest{Statuses: []deviceStatusEntry{{DeviceID: "d1", Status: "OK"}}}
	assert.Empty(t, valid.validate())

	mixed := deviceStatusRequest{Statuses: []deviceStatusEntry{
		{DeviceID: "d1", Status: "OK"},
		{DeviceID: "", Status: ""},
	}}
	errs := mixed.validate()
	assert.Len(t, errs, 2)
	assert.Equal(t, "statuses[1].deviceId", errs[0].Field)
	assert.Equal(t, "statuses[1].status", errs[1].Field)
}

func TestDisasterResultRequest_Validate(t *testing.T) {
	assert.Empty(t, disasterResultRequest{Identifier: "id-1", Result: "RECEIVED"}.validate())
	assert.Len(t, disasterResultRequest{Result: "RECEIVED"}.validate(), 1)
	assert.Len(t, disasterResultRequest{Identifier: "id-1"}.validate(), 1)
	assert.Len(t, disasterResultRequest{}.validate(), 2)
}
