package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig defines the config for CORS middleware
type CORSConfig struct {
	// AllowedOrigins lists exact origins. An empty list or a "*" entry
	// allows any origin, without credentials.
	AllowedOrigins []string

	AllowCredentials bool
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string

	// MaxAge is the preflight cache lifetime in seconds
	MaxAge int
}

// NotesCORSConfig is the policy for the notes web client served from origins
func NotesCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodPut, fiber.MethodDelete, fiber.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           3600,
	}
}

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	credentials bool
	methods     string
	headers     string
	exposed     string
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	p := corsPolicy{
		anyOrigin:   len(cfg.AllowedOrigins) == 0,
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		credentials: cfg.AllowCredentials,
		methods:     strings.Join(cfg.AllowedMethods, ","),
		headers:     strings.Join(cfg.AllowedHeaders, ","),
		exposed:     strings.Join(cfg.ExposedHeaders, ","),
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[origin] = struct{}{}
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// allow writes the origin headers and reports whether the origin matched
func (p corsPolicy) allow(c *fiber.Ctx, origin string) bool {
	if p.anyOrigin {
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		return true
	}

	c.Vary(fiber.HeaderOrigin)
	if _, ok := p.origins[origin]; !ok {
		return false
	}
	c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
	if p.credentials {
		c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
	}
	return true
}

// CORS answers preflight requests and decorates responses for allowed
// origins. Without a config every origin is allowed.
func CORS(config ...CORSConfig) fiber.Handler {
	cfg := CORSConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	policy := newCORSPolicy(cfg)

	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		allowed := policy.allow(c, origin)

		preflight := c.Method() == fiber.MethodOptions
		if !preflight {
			if allowed && policy.exposed != "" {
				c.Set(fiber.HeaderAccessControlExposeHeaders, policy.exposed)
			}
			return c.Next()
		}

		if allowed {
			c.Set(fiber.HeaderAccessControlAllowMethods, policy.methods)
			c.Set(fiber.HeaderAccessControlAllowHeaders, policy.headers)
			if policy.maxAge != "" {
				c.Set(fiber.HeaderAccessControlMaxAge, policy.maxAge)
			}
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
