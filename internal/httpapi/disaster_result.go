package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bonghwa-relay/gateway/internal/broker"
	"github.com/bonghwa-relay/gateway/internal/store"
)

// disasterResultRequest is the ESS POST /api/reports/disaster-result body:
// the subscriber's acknowledgment that it has processed one disaster alert.
type disasterResultRequest struct {
	Identifier string `json:"identifier"`
	Result     string `json:"result"`
	Note       string `json:"note"`
}

func (r disasterResultRequest) validate() []fieldError {
	var errs []fieldError
	if r.Identifier == "" {
		errs = append(errs, fieldError{Field: "identifier", Message: "required"})
	}
	if r.Result == "" {
		errs = append(errs, fieldError{Field: "result", Message: "required"})
	}
	return errs
}

// DisasterResult handles POST /api/reports/disaster-result.
// Its one non-trivial validator, isExistingIdentifier, rejects a report
// whose identifier this subscriber was never actually a target of.
func (h *Handler) DisasterResult(c echo.Context) error {
	system := externalSystemFromContext(c)

	var req disasterResultRequest
	rawBody, err := bindAndCapture(c, &req)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body", nil)
	}
	if errs := req.validate(); len(errs) > 0 {
		return writeError(c, http.StatusBadRequest, "validation failed", errs)
	}

	ctx := c.Request().Context()
	transmitLogs := store.NewDisasterTransmitLogStore(h.pool)
	exists, err := transmitLogs.ExistsByIdentifier(ctx, system.ID, req.Identifier)
	if err != nil {
		return h.writeServerError(c, "check disaster_transmit_log existence", err)
	}
	if !exists {
		return writeError(c, http.StatusBadRequest, "validation failed",
			[]fieldError{{Field: "identifier", Message: "not a known target of this alert"}})
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return h.writeServerError(c, "begin disaster-result transaction", err)
	}
	defer tx.Rollback(ctx)

	apiLogs := store.NewAPIReceiveLogStore(tx)
	apiLogID, err := apiLogs.Insert(ctx, system.ID, c.Request().URL.Path, rawBody)
	if err != nil {
		return h.writeServerError(c, "insert api_receive_log", err)
	}

	publishLogs := store.NewReportPublishLogStore(tx)
	if _, err := publishLogs.Insert(ctx, store.InsertReportPublishLogParams{
		Type:               store.ReportTypeDisasterResult,
		ExternalSystemName: system.SystemName,
		APIReceiveLogID:    apiLogID,
		RoutingKey:         broker.SubjectReport,
		RawMessage:         rawBody,
	}); err != nil {
		return h.writeServerError(c, "insert report_publish_log", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return h.writeServerError(c, "commit disaster-result transaction", err)
	}

	return writeOK(c, "disaster-result accepted")
}
