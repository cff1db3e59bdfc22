package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/logger"
)

const (
	correlationHeader = "X-Correlation-ID"

	ctxCorrelationID = "correlation_id"
	ctxLogger        = "logger"
	ctxClaims        = "claims"
)

// correlationID reuses the caller's X-Correlation-ID or mints one, echoes it
// on the response and binds it to the request logger.
func (s *Server) correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxCorrelationID, id)
		c.Set(ctxLogger, s.logger.With("correlation_id", id))
		c.Writer.Header().Set(correlationHeader, id)
		c.Next()
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{"method", method, "path", path, "status", status, "latency", time.Since(start)}
		if claims, ok := claimsFrom(c); ok {
			kv = append(kv, "subject", claims.Subject)
		}
		log := requestLogger(c)
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("http request", kv...)
		case status >= http.StatusBadRequest:
			log.Warn("http request", kv...)
		default:
			log.Info("http request", kv...)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		requestLogger(c).Error("panic recovered", "panic", recovered)
		abort(c, http.StatusInternalServerError, CodeInternal, "Internal server error", nil)
	})
}

// authenticate attaches the caller's claims or rejects the request.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.auth.Authenticate(c.Request)
		if err != nil {
			requestLogger(c).Debug("authentication failed", "error", err)
			abort(c, http.StatusUnauthorized, CodeUnauthenticated, "Authentication required", nil)
			return
		}
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) (access.Claims, bool) {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return access.Claims{}, false
	}
	claims, ok := v.(access.Claims)
	return claims, ok
}

func requestLogger(c *gin.Context) *logger.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if log, ok := v.(*logger.Logger); ok {
			return log
		}
	}
	return logger.NewNop()
}
