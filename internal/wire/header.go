// Package wire implements the CAS framed transport: a fixed 16-byte
// big-endian header followed by an N-byte body.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed byte length of a frame header.
const HeaderSize = 16

// MessageID identifies the operation a frame carries.
type MessageID uint32

// Known message IDs.
const (
	MsgReqSysCon     MessageID = 1001 // ETS_REQ_SYS_CON — auth request
	MsgResSysCon     MessageID = 1002 // ETS_RES_SYS_CON — auth response
	MsgReqSysSts     MessageID = 1011 // ETS_REQ_SYS_STS — ping
	MsgResSysSts     MessageID = 1012 // ETS_RES_SYS_STS — pong
	MsgNfyDisInfo    MessageID = 2001 // ETS_NFY_DIS_INFO — disaster notify
	MsgCnfDisInfo    MessageID = 2002 // ETS_CNF_DIS_INFO — disaster ack/nack
	MsgReqDisReport  MessageID = 2011 // ETS_REQ_DIS_REPORT
	MsgResDisReport  MessageID = 2012 // ETS_RES_DIS_REPORT
	MsgNfyDeviceInfo MessageID = 3001 // ETS_NFY_DEVICE_INFO
	MsgCnfDeviceInfo MessageID = 3002 // ETS_CNF_DEVICE_INFO
	MsgNfyDeviceSts  MessageID = 3011 // ETS_NFY_DEVICE_STS
	MsgCnfDeviceSts  MessageID = 3012 // ETS_CNF_DEVICE_STS
)

// String renders the symbolic name used in logs and tests, falling back to
// the numeric value for anything unrecognized.
func (m MessageID) String() string {
	switch m {
	case MsgReqSysCon:
		return "ETS_REQ_SYS_CON"
	case MsgResSysCon:
		return "ETS_RES_SYS_CON"
	case MsgReqSysSts:
		return "ETS_REQ_SYS_STS"
	case MsgResSysSts:
		return "ETS_RES_SYS_STS"
	case MsgNfyDisInfo:
		return "ETS_NFY_DIS_INFO"
	case MsgCnfDisInfo:
		return "ETS_CNF_DIS_INFO"
	case MsgReqDisReport:
		return "ETS_REQ_DIS_REPORT"
	case MsgResDisReport:
		return "ETS_RES_DIS_REPORT"
	case MsgNfyDeviceInfo:
		return "ETS_NFY_DEVICE_INFO"
	case MsgCnfDeviceInfo:
		return "ETS_CNF_DEVICE_INFO"
	case MsgNfyDeviceSts:
		return "ETS_NFY_DEVICE_STS"
	case MsgCnfDeviceSts:
		return "ETS_CNF_DEVICE_STS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(m))
	}
}

// DataFormat identifies the body encoding. Only XML is currently defined.
type DataFormat uint32

const DataFormatXML DataFormat = 1

// Header is the 16-byte frame header, decoded into native types.
type Header struct {
	MessageID   MessageID
	DataFormat  DataFormat
	MagicNumber uint32
	DataLength  uint32
}

// Encode writes h into a 16-byte big-endian buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.MessageID))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.DataFormat))
	binary.BigEndian.PutUint32(buf[8:12], h.MagicNumber)
	binary.BigEndian.PutUint32(buf[12:16], h.DataLength)
	return buf
}

// DecodeHeader parses a 16-byte big-endian header. The caller must ensure
// buf is exactly HeaderSize bytes.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	return Header{
		MessageID:   MessageID(binary.BigEndian.Uint32(buf[0:4])),
		DataFormat:  DataFormat(binary.BigEndian.Uint32(buf[4:8])),
		MagicNumber: binary.BigEndian.Uint32(buf[8:12]),
		DataLength:  binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// Frame encodes a complete header+body frame.
func Frame(h Header, body []byte) []byte {
	h.DataLength = uint32(len(body))
	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, h.Encode()...)
	out = append(out, body...)
	return out
}
