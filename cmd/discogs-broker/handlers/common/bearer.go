package common

import (
	"net/http"
	"strings"
)

// BearerToken extracts the token of an "Authorization: Bearer" header. The
// scheme is case-insensitive; anything else yields "".
func BearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 || !strings.EqualFold(fields[0], "bearer") {
		return ""
	}
	return fields[1]
}
