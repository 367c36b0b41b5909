package transport

import "strings"

// rawOKPrefixes lists the commands whose firmware responses may legitimately
// be empty or non-JSON ("OK" and friends). Matching is by prefix so the
// parameterized forms are covered. The list is growth-only; removing an
// entry breaks devices that never answered JSON for it.
var rawOKPrefixes = []string{
	"reboot",
	"setAlarmClock",
	"switchmode",
	"setLoopMode",
	"setPlayerCmd:switchmode:",
	"EQLoad",
}

// AllowsRawResponse reports whether command may answer with a non-JSON body
// and still count as success.
func AllowsRawResponse(command string) bool {
	for _, prefix := range rawOKPrefixes {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}
