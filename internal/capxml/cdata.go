// Package capxml defines typed records for the CAS envelope and the nested
// CAP 1.2 alert. encoding/xml is used directly to marshal/unmarshal them —
// no XML library is warranted for a handful of fixed, well-known schemas.
package capxml

// CDATA marks a string field for CDATA-wrapped output. encoding/xml has
// native support for the ",cdata" struct tag (see the Parameter.Value field
// tag in alert.go) — the free-text parameter.value always uses it so
// embedded XML-special characters in ESS payloads never need escaping.
type CDATA = string
