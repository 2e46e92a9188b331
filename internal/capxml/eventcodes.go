package capxml

// validEventCodes is the allowlist of info.eventCode.value entries this
// gateway accepts from CAS step 5 ("CAP validation
// rejects unknown event codes rather than passing them through"). The list
// is a subset of the national disaster/warning code table; it is intentionally
// data, not logic, so it can grow without touching the validation path.
var validEventCodes = buildValidEventCodes()

// ValidEventCode reports whether code is a recognized event code.
func ValidEventCode(code string) bool {
	_, ok := validEventCodes[code]
	return ok
}

func buildValidEventCodes() map[string]struct{} {
	codes := []string{
		"HTW", "DIM", "DIS",
		"EW001", "EW002", "EW003", "EW004", "EW005",
		"TY001", "TY002", "TY003",
		"FL001", "FL002", "FL003", "FL004",
		"HW001", "HW002",
		"CW001", "CW002", "CW003",
		"DR001", "DR002",
		"SS001", "SS002",
		"TS001", "TS002",
		"EQ001", "EQ002", "EQ003",
		"VE001",
		"AQ001", "AQ002",
		"WF001", "WF002",
		"LS001", "LS002",
		"AV001",
		"RD001", "RD002",
		"HZ001", "HZ002", "HZ003",
		"IN001", "IN002",
		"CD001", "CD002",
		"PW001", "PW002",
		"WT001", "WT002",
		"GS001",
		"AC001", "AC002",
		"EV001", "EV002",
		"OT001", "OT002", "OT003",
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
