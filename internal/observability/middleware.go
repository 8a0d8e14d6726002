package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const unmatchedRoute = "unmatched"

// adminRoute labels one admin request. path is the route template, never the
// raw URL, so metric cardinality stays bounded; the session name is logged
// but never used as a metric label.
type adminRoute struct {
	group   string
	path    string
	session string
}

func routeOf(c *gin.Context) adminRoute {
	path := c.FullPath()
	if path == "" {
		return adminRoute{group: unmatchedRoute, path: unmatchedRoute}
	}
	group, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return adminRoute{group: group, path: path, session: c.Param("session")}
}

// RequestLogger logs every admin request once it completes. Session callbacks
// log at info since they put traffic on a live connection.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeOf(c)
		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case route.group == "sessions":
			event = logger.Info()
		default:
			event = logger.Debug()
		}
		event = event.
			Str("group", route.group).
			Str("method", c.Request.Method).
			Str("route", route.path).
			Int("status", status).
			Dur("duration", time.Since(start))
		if route.session != "" {
			event = event.Str("session", route.session)
		}
		if route.group == unmatchedRoute {
			event = event.Str("url", c.Request.URL.Path)
		}
		if err := c.Errors.Last(); err != nil {
			event = event.AnErr("error", err.Err)
		}
		event.Msg("admin request")
	}
}

func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, routeOf(c).path, c.Writer.Status(), time.Since(start))
	}
}
