package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vibe-trader/internal/admission"
	"vibe-trader/internal/domain"
)

const (
	identityKey  = "identity"
	rateLimitKey = "rateLimit"
	resetLayout  = "2006-01-02T15:04:05.000Z07:00"
)

// rateLimitInfo is the quota summary returned to clients.
type rateLimitInfo struct {
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Used      int    `json:"used"`
	ResetsAt  string `json:"resetsAt"`
}

type rateLimitedResponse struct {
	Error     string        `json:"error"`
	Message   string        `json:"message"`
	RateLimit rateLimitInfo `json:"rateLimit"`
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", s.opts.FrontendURL)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Expose-Headers", "X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		h.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// identify attributes every request to the user behind a verified session,
// or to its network origin.
func (s *Server) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := admission.Credentials{Authorization: c.GetHeader("Authorization")}
		if v, err := c.Cookie(admission.SessionCookie); err == nil {
			cred.Session = v
		}
		if name := s.deps.Auth.TrustedHeader(); name != "" {
			cred.Trusted = c.GetHeader(name)
		}
		c.Set(identityKey, s.deps.Auth.Identify(cred, c.GetHeader("X-Forwarded-For"), c.RemoteIP()))
		c.Next()
	}
}

func identityOf(c *gin.Context) domain.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}
	}
	id, _ := v.(domain.Identity)
	return id
}

// admit consumes one interaction from the caller's daily quota, rejecting
// with 429 once it is spent.
func (s *Server) admit() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identityOf(c)
		res := s.deps.Gate.CheckAndAdmit(c.Request.Context(), id)
		info := rateLimitInfo{
			Limit:     res.Ceiling,
			Remaining: res.Remaining,
			Used:      res.Count,
			ResetsAt:  res.ResetAt.UTC().Format(resetLayout),
		}

		if !res.Admitted {
			info.Remaining = 0
			c.AbortWithStatusJSON(http.StatusTooManyRequests, rateLimitedResponse{
				Error:     "Rate limit exceeded",
				Message:   res.Message(),
				RateLimit: info,
			})
			return
		}

		if !res.Degraded {
			h := c.Writer.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			h.Set("X-RateLimit-Reset", info.ResetsAt)
		}
		c.Set(rateLimitKey, info)
		c.Next()
	}
}

func rateLimitOf(c *gin.Context) *rateLimitInfo {
	v, ok := c.Get(rateLimitKey)
	if !ok {
		return nil
	}
	info, ok := v.(rateLimitInfo)
	if !ok {
		return nil
	}
	return &info
}
