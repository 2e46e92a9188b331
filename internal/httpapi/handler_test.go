package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindAndCapture_PreservesRawBody(t *testing.T) {
	e := echo.New()
	body := `{"deviceId":"d1","type":"CCTV","name":"camera-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/reports/device-info", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var dst deviceInfoRequest
	raw, err := bindAndCapture(c, &dst)
	require.NoError(t, err)
	assert.Equal(t, body, string(raw))
	assert.Equal(t, "d1", dst.DeviceID)

	// The body must still be readable by a subsequent consumer (e.g. an
	// audit-log insert reading c.Request().Body again).
	remaining, err := io.ReadAll(c.Request().Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(remaining))
}

func TestBindAndCapture_MalformedJSON(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/reports/device-info", strings.NewReader(`{bad`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var dst deviceInfoRequest
	_, err := bindAndCapture(c, &dst)
	assert.Error(t, err)
}
