package capxml

import "encoding/xml"

// CapInfo wraps the nested CAP alert under <capInfo>.
type CapInfo struct {
	Alert *Alert `xml:"alert"`
}

// Envelope is the <data>...</data> body of every CAS message, covering both
// the protocol-only fields (auth/ping) and the CAP-carrying fields
// (disaster notify/ack, reports). Unused fields are omitted on marshal via
// `omitempty` so a given message only shows the fields it actually carries.
type Envelope struct {
	XMLName xml.Name `xml:"data"`

	// Auth / session-check fields.
	DestID   string `xml:"destId,omitempty"`
	Realm    string `xml:"realm,omitempty"`
	Nonce    string `xml:"nonce,omitempty"`
	Response string `xml:"response,omitempty"`
	Cmd      string `xml:"cmd,omitempty"`
	Time     string `xml:"time,omitempty"`

	// Reply fields.
	ResultCode string `xml:"resultCode,omitempty"`
	Result     string `xml:"result,omitempty"`

	// Correlation fields.
	TransMsgID  string `xml:"transMsgId,omitempty"`
	TransMsgSeq int    `xml:"transMsgSeq,omitempty"`

	CapInfo *CapInfo `xml:"capInfo,omitempty"`
}

// Marshal serializes the envelope with the standard XML header.
func Marshal(e Envelope) ([]byte, error) {
	body, err := xml.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// Unmarshal parses body into an Envelope.
func Unmarshal(body []byte) (Envelope, error) {
	var e Envelope
	if err := xml.Unmarshal(body, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// NoteParamName is the synthetic CAP parameter.valueName this gateway uses
// to carry the CAS-specific "note" result detail (note code + message),
// which has no native CAP 1.2 field.
const NoteParamName = "note"

// KoreaGovCode is the <code> every alert this gateway builds carries,
// identifying the Korean government CAP 1.2 profile.
const KoreaGovCode = "대한민국정부1.2"

// reportEventCodeValueName is the eventCode.valueName shared by every report
// CAP this gateway builds — the table's "eventCode.value" column (DIS/DIM)
// is the only part that varies per report type.
const reportEventCodeValueName = "단말장치 이벤트코드"

// ReportCAPParams is the per-report-type input to BuildReportCAP: the parts
// of the CAP alert that vary across DEVICE_INFO/DEVICE_STATUS/DISASTER_RESULT
// (the outbound report pipeline's typed-CAP table).
type ReportCAPParams struct {
	Identifier     string // this report's own CAP identifier
	Sender         string // configured central-service ID
	Addresses      string // configured central-system ID
	Sent           string // ISO8601+TZ, now
	MsgType        string // "Alert" or "Ack"
	Event          string // info.event
	EventCodeValue string // info.eventCode.value: "DIS" or "DIM"
	ParamValueName string // info.parameter.valueName
	ParamValue     string // raw ESS payload, CDATA-wrapped by Parameter
	References     string // set only for DISASTER_RESULT
}

// BuildReportCAP constructs the CAP alert CS sends to CAS for one
// report_transmit_log row: DEVICE_INFO/DEVICE_STATUS carry the device
// payload verbatim as a CDATA parameter; DISASTER_RESULT additionally
// carries <references> reconstructed from the original disaster_publish_log.
func BuildReportCAP(p ReportCAPParams) *Alert {
	return &Alert{
		Identifier: p.Identifier,
		Sender:     p.Sender,
		Sent:       p.Sent,
		Status:     "Actual",
		MsgType:    p.MsgType,
		Scope:      "Private",
		Code:       KoreaGovCode,
		Addresses:  p.Addresses,
		References: p.References,
		Info: &Info{
			Event: p.Event,
			EventCode: &EventCode{
				ValueName: reportEventCodeValueName,
				Value:     p.EventCodeValue,
			},
			Parameter: &Parameter{
				ValueName: p.ParamValueName,
				Value:     p.ParamValue,
			},
		},
	}
}

// BuildAckCAP constructs the acknowledgement alert for an inbound disaster
// notification: it reuses the original alert's
// (sender, identifier, sent) as <references>, mints "<identifier>_ACK" as
// its own identifier, and carries "<noteCode>|<noteMessage>" in a note
// parameter.
func BuildAckCAP(original *Alert, noteCode, noteMessage string) *Alert {
	ack := &Alert{
		Status:  "Actual",
		MsgType: "Ack",
		Scope:   "Private",
	}
	if original != nil {
		ack.Identifier = original.Identifier + "_ACK"
		ack.References = original.Sender + "," + original.Identifier + "," + original.Sent
	} else {
		ack.Identifier = "UNKNOWN_ACK"
	}
	ack.Info = &Info{
		Parameter: &Parameter{
			ValueName: NoteParamName,
			Value:     noteCode + "|" + noteMessage,
		},
	}
	return ack
}
