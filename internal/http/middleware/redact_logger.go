// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access log. It never logs bodies,
// and scrubs what it does log:
//
//   - ?token= and ?access_token= query values, which is how browsers pass a
//     bearer token to the socket upgrade
//   - emails, phone numbers and UUIDs in query strings and header values
//   - Authorization, Cookie and Set-Cookie, plus any extra MaskHeaders
//
// It also attaches the request-scoped logger returned by LoggerFrom.
// Requests on SocketPaths stay open for the life of a socket, so they are
// logged once on close as "socket_session" with the session duration.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxQueryLogLength caps the logged query string, in bytes.
const maxQueryLogLength = 2048

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are extra header names (case-insensitive) logged as
	// "[REDACTED]".
	MaskHeaders []string
	// SocketPaths are upgrade routes logged as sessions.
	SocketPaths []string
	// QuietPaths log successful requests at debug, e.g. /health and /metrics.
	QuietPaths []string
}

var (
	tokenRE = regexp.MustCompile(`(?i)(^|&)((?:access_)?token)=[^&]*`)
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so it cannot eat the hex groups of a UUID.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redact scrubs s. UUIDs go before phones, which is the loosest pattern.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = tokenRE.ReplaceAllString(s, "${1}${2}=[REDACTED]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	m := make(map[string]struct{}, len(base)+len(extra))
	for _, h := range append(base, extra...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			m[h] = struct{}{}
		}
	}
	return m
}

// RedactingLogger returns the access-log middleware. Level follows status:
// error for 5xx or collected gin errors, warn for 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	sockets := lowerSet(nil, opts.SocketPaths)
	quiet := lowerSet(nil, opts.QuietPaths)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		scoped := log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &scoped)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact(strings.Join(vv, ", "))
		}
		query := truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)

		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		key := strings.ToLower(path)

		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = scoped.Error()
		case status >= 400:
			ev = scoped.Warn()
		default:
			ev = scoped.Info()
			if _, ok := quiet[key]; ok {
				ev = scoped.Debug()
			}
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		if uid := c.GetString(CtxUserID); uid != "" {
			ev = ev.Str("user_id", uid)
		}

		if _, ok := sockets[key]; ok && status < 400 {
			ev.Str("query", query).
				Str("remote_ip", c.ClientIP()).
				Dur("duration", elapsed).
				Msg("socket_session")
			return
		}
		ev.Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", elapsed).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// truncate cuts s to max bytes plus an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
