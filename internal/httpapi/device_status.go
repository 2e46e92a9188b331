package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"

	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/store"
)

// deviceStatusEntry is one device's status within a bulk report.
type deviceStatusEntry struct {
	DeviceID   string    `json:"deviceId"`
	Status     string    `json:"status"`
	ReportedAt time.Time `json:"reportedAt"`
}

type deviceStatusRequest struct {
	Statuses []deviceStatusEntry `json:"statuses"`
}

func (r deviceStatusRequest) validate() []fieldError {
	var errs []fieldError
	if len(r.Statuses) == 0 {
		errs = append(errs, fieldError{Field: "statuses", Message: "at least one entry is required"})
	}
	for i, s := range r.Statuses {
		if s.DeviceID == "" {
			errs = append(errs, fieldError{Field: statusField(i, "deviceId"), Message: "required"})
		}
		if s.Status == "" {
			errs = append(errs, fieldError{Field: statusField(i, "status"), Message: "required"})
		}
	}
	return errs
}

func statusField(i int, name string) string {
	return "statuses[" + strconv.Itoa(i) + "]." + name
}

// DeviceStatus handles POST /api/reports/device-status:
// appends api_receive_log, bulk-inserts device_status_log rows for devices
// already registered under this external system, then appends
// report_publish_log.
func (h *Handler) DeviceStatus(c echo.Context) error {
	system := externalSystemFromContext(c)

	var req deviceStatusRequest
	rawBody, err := bindAndCapture(c, &req)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body", nil)
	}
	if errs := req.validate(); len(errs) > 0 {
		return writeError(c, http.StatusBadRequest, "validation failed", errs)
	}

	ctx := c.Request().Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return h.writeServerError(c, "begin device-status transaction", err)
	}
	defer tx.Rollback(ctx)

	apiLogs := store.NewAPIReceiveLogStore(tx)
	apiLogID, err := apiLogs.Insert(ctx, system.ID, c.Request().URL.Path, rawBody)
	if err != nil {
		return h.writeServerError(c, "insert api_receive_log", err)
	}

	devices := store.NewDeviceStore(tx)
	statusLogs := store.NewDeviceStatusLogStore(tx)
	rows := make([]store.InsertDeviceStatusLogParams, 0, len(req.Statuses))
	for _, s := range req.Statuses {
		device, err := devices.GetByDeviceID(ctx, system.ID, s.DeviceID)
		if err != nil {
			return writeError(c, http.StatusBadRequest, "validation failed",
				[]fieldError{{Field: "statuses[].deviceId", Message: "unknown device: " + s.DeviceID}})
		}
		var reportedAt pgtype.Timestamptz
		if s.ReportedAt.IsZero() {
			reportedAt.Scan(time.Now())
		} else {
			reportedAt.Scan(s.ReportedAt)
		}
		rows = append(rows, store.InsertDeviceStatusLogParams{
			DeviceID:   device.ID,
			Status:     s.Status,
			ReportedAt: reportedAt,
		})
	}
	if err := statusLogs.InsertBatch(ctx, rows); err != nil {
		return h.writeServerError(c, "insert device_status_log batch", err)
	}

	publishLogs := store.NewReportPublishLogStore(tx)
	if _, err := publishLogs.Insert(ctx, store.InsertReportPublishLogParams{
		Type:               store.ReportTypeDeviceStatus,
		ExternalSystemName: system.SystemName,
		APIReceiveLogID:    apiLogID,
		RoutingKey:         broker.SubjectReport,
		RawMessage:         rawBody,
	}); err != nil {
		return h.writeServerError(c, "insert report_publish_log", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return h.writeServerError(c, "commit device-status transaction", err)
	}

	return writeOK(c, "device-status accepted")
}
