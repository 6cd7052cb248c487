// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/baroque-dev/baroque/internal/config"
)

const adminRealm = `Basic realm="baroque admin"`

// BasicAuth guards the admin routes with the credentials in cfg. Auth is off
// unless both username and password are set.
func BasicAuth(cfg config.AdminConfig) gin.HandlerFunc {
	if cfg.Username == "" || cfg.Password == "" {
		return func(c *gin.Context) { c.Next() }
	}
	wantUser := []byte(cfg.Username)
	wantPass := []byte(cfg.Password)

	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok {
			rejectAdmin(c, "authentication required")
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(user), wantUser) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), wantPass) == 1
		if !userOK || !passOK {
			log.WithFields(log.Fields{
				"client": c.ClientIP(),
				"path":   c.Request.URL.Path,
			}).Warn("Rejected admin credentials")
			rejectAdmin(c, "invalid credentials")
			return
		}
		c.Next()
	}
}

func rejectAdmin(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", adminRealm)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// LocalhostOnly refuses admin requests from non-loopback clients unless
// cfg.AllowRemote is set.
func LocalhostOnly(cfg config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AllowRemote || isLoopback(c.ClientIP()) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "access denied: admin API is bound to localhost only",
		})
	}
}

func isLoopback(ip string) bool {
	if ip == "localhost" {
		return true
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
