package middleware

import (
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
)

// HeaderUserID carries the acting user's id. Authentication itself is
// handled upstream; this service trusts the header it is handed.
const HeaderUserID = "X-User-Id"

// GetUserID extracts the acting user id from the request, or 0 when the
// header is absent or malformed.
func GetUserID(c *app.RequestContext) int64 {
	raw := string(c.GetHeader(HeaderUserID))
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
