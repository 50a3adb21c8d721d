package agentclient

import "time"

// rfc3339Milli is used for TokenExpiresAt on disk: human-readable and
// sub-second precision without the noise of full nanosecond output.
const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

func parseRFC3339Milli(s string) (time.Time, error) {
	return time.Parse(rfc3339Milli, s)
}
