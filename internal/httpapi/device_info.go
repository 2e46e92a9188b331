package httpapi

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"

	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/store"
)

// deviceInfoRequest is the ESS POST /api/reports/device-info body
// (the device entity, minus the generated id/external_system_id).
type deviceInfoRequest struct {
	DeviceID   string  `json:"deviceId"`
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	ServerIP   string  `json:"serverIp"`
	ServerName string  `json:"serverName"`
	Model      string  `json:"model"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Address    string  `json:"address"`
	Note       string  `json:"note"`
}

func (r deviceInfoRequest) validate() []fieldError {
	var errs []fieldError
	if r.DeviceID == "" {
		errs = append(errs, fieldError{Field: "deviceId", Message: "required"})
	}
	if r.Type == "" {
		errs = append(errs, fieldError{Field: "type", Message: "required"})
	}
	if r.Name == "" {
		errs = append(errs, fieldError{Field: "name", Message: "required"})
	}
	return errs
}

// DeviceInfo handles POST /api/reports/device-info:
// appends api_receive_log, upserts the device row, then appends
// report_publish_log, all in the same transaction.
func (h *Handler) DeviceInfo(c echo.Context) error {
	system := externalSystemFromContext(c)

	var req deviceInfoRequest
	rawBody, err := bindAndCapture(c, &req)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body", nil)
	}
	if errs := req.validate(); len(errs) > 0 {
		return writeError(c, http.StatusBadRequest, "validation failed", errs)
	}

	tx, err := h.pool.Begin(c.Request().Context())
	if err != nil {
		return h.writeServerError(c, "begin device-info transaction", err)
	}
	defer tx.Rollback(c.Request().Context())
	ctx := c.Request().Context()

	apiLogs := store.NewAPIReceiveLogStore(tx)
	apiLogID, err := apiLogs.Insert(ctx, system.ID, c.Request().URL.Path, rawBody)
	if err != nil {
		return h.writeServerError(c, "insert api_receive_log", err)
	}

	devices := store.NewDeviceStore(tx)
	if _, err := devices.Upsert(ctx, store.UpsertDeviceParams{
		ExternalSystemID: system.ID,
		DeviceID:         req.DeviceID,
		Type:             req.Type,
		Name:             req.Name,
		ServerIP:         textOrInvalid(req.ServerIP),
		ServerName:       textOrInvalid(req.ServerName),
		Model:            textOrInvalid(req.Model),
		Lat:              pgtype.Float8{Float64: req.Lat, Valid: true},
		Lon:              pgtype.Float8{Float64: req.Lon, Valid: true},
		Address:          textOrInvalid(req.Address),
		Note:             textOrInvalid(req.Note),
	}); err != nil {
		return h.writeServerError(c, "upsert device", err)
	}

	publishLogs := store.NewReportPublishLogStore(tx)
	if _, err := publishLogs.Insert(ctx, store.InsertReportPublishLogParams{
		Type:               store.ReportTypeDeviceInfo,
		ExternalSystemName: system.SystemName,
		APIReceiveLogID:    apiLogID,
		RoutingKey:         broker.SubjectReport,
		RawMessage:         rawBody,
	}); err != nil {
		return h.writeServerError(c, "insert report_publish_log", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return h.writeServerError(c, "commit device-info transaction", err)
	}

	return writeOK(c, "device-info accepted")
}

func textOrInvalid(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
