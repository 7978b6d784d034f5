package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"notekeeper/config"
	"notekeeper/models"
	"notekeeper/testutil"
	"notekeeper/utils"
)

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{
		AllowedOrigins:   []string{"https://notes.example.com", " https://app.example.com/ "},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization"},
		MaxAge:           600,
	}))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
		wantCreds  string
		wantMaxAge string
	}{
		{"allowed origin", http.MethodGet, "https://notes.example.com", fiber.StatusOK, "https://notes.example.com", "true", ""},
		{"foreign origin", http.MethodGet, "https://evil.example.com", fiber.StatusOK, "", "", ""},
		{"preflight", http.MethodOptions, "https://notes.example.com", fiber.StatusNoContent, "https://notes.example.com", "true", "600"},
		{"foreign preflight", http.MethodOptions, "https://evil.example.com", fiber.StatusNoContent, "", "", ""},
		{"trailing slash in config", http.MethodGet, "https://app.example.com", fiber.StatusOK, "https://app.example.com", "true", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ping", nil)
			req.Header.Set("Origin", tt.origin)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Expected allow origin %q, got %q", tt.wantOrigin, got)
			}
			if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Expected allow credentials %q, got %q", tt.wantCreds, got)
			}
			if got := resp.Header.Get("Access-Control-Max-Age"); got != tt.wantMaxAge {
				t.Errorf("Expected max age %q, got %q", tt.wantMaxAge, got)
			}
		})
	}
}

func TestCORSWildcard(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(NotesCORSConfig([]string{"*"})))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin, got %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Expected no credentials with a wildcard origin, got %q", got)
	}
}

func TestProtectedStoresAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	tokens := utils.NewTokenIssuer("secret", time.Hour)
	team := testutil.CreateTeam(t, db, "Blue")
	user := testutil.CreateUser(t, db, "sam", models.RoleUser, models.StatusApproved, &team.ID)
	token, claims, err := tokens.GenerateJWTToken(user)
	if err != nil {
		t.Fatalf("GenerateJWTToken failed: %v", err)
	}

	app := fiber.New()
	app.Get("/me", Protected(db, tokens), func(c *fiber.Ctx) error {
		rc := RequestContext(c)
		if rc.UserID != user.ID || rc.TeamID == nil || *rc.TeamID != team.ID {
			t.Errorf("Unexpected request context: %+v", rc)
		}
		if c.Locals("sessionID") != claims.SessionID {
			t.Errorf("Expected session id %q, got %v", claims.SessionID, c.Locals("sessionID"))
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}

	// the account disappears after the token was issued
	db.Delete(&models.User{}, user.ID)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("Expected 401 for a deleted account, got %d", resp.StatusCode)
	}
}

func TestRequireAdmin(t *testing.T) {
	if err := RequireAdmin(nil); err == nil || err.Status != fiber.StatusUnauthorized {
		t.Errorf("Expected 401 without an account, got %+v", err)
	}
	if err := RequireAdmin(&models.User{Role: models.RoleUser}); err == nil || err.Status != fiber.StatusForbidden {
		t.Errorf("Expected 403 for a regular user, got %+v", err)
	}
	if err := RequireAdmin(&models.User{Role: models.RoleAdmin}); err != nil {
		t.Errorf("Expected admins to pass, got %+v", err)
	}
}

func TestUploadRateLimiterKeysByAccount(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if id := c.Get("X-User"); id == "1" {
			c.Locals("user", &models.User{ID: 1})
		} else if id == "2" {
			c.Locals("user", &models.User{ID: 2})
		}
		return c.Next()
	})
	app.Post("/upload", UploadRateLimiter(1, nil), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		return resp.StatusCode
	}

	if got := send("1"); got != fiber.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", got)
	}
	if got := send("1"); got != fiber.StatusTooManyRequests {
		t.Fatalf("Expected second request to be limited, got %d", got)
	}
	if got := send("2"); got != fiber.StatusOK {
		t.Fatalf("Expected another account to have its own budget, got %d", got)
	}
}

func TestRateLimitStorageDisabled(t *testing.T) {
	if storage := RateLimitStorage(config.RedisConfig{Enabled: false}); storage != nil {
		t.Fatalf("Expected in-memory limiter storage, got %T", storage)
	}
}
