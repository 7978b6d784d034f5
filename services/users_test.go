package services

import (
	"errors"
	"testing"

	"notekeeper/models"
	"notekeeper/testutil"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	env := setupEnv(t)

	user, err := env.Users.Register(" alice ", "secret")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Username != "alice" || user.Status != models.StatusPending || user.Role != models.RoleUser {
		t.Errorf("Unexpected new user %+v", user)
	}

	_, err = env.Users.Register("alice", "another")
	assertKind(t, err, KindConflict)
	if !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("Expected ErrDuplicateUsername, got %v", err)
	}
	_, err = env.Users.Register("bob", "abc")
	assertKind(t, err, KindValidation)

	// pending accounts cannot sign in
	_, err = env.Users.Authenticate("alice", "secret")
	assertKind(t, err, KindForbidden)

	if err := env.Admin.Approve(user.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Users.Authenticate("alice", "secret"); err != nil {
		t.Errorf("Approved user should sign in: %v", err)
	}

	_, err = env.Users.Authenticate("alice", "wrong")
	assertKind(t, err, KindUnauthorized)
	_, err = env.Users.Authenticate("nobody", "secret")
	assertKind(t, err, KindUnauthorized)
}

func TestChangePassword(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	rc := contextOf(alice)

	assertKind(t, env.Users.ChangePassword(rc, "wrong", "newpass"), KindValidation)
	assertKind(t, env.Users.ChangePassword(rc, "password", "abc"), KindValidation)

	if err := env.Users.ChangePassword(rc, "password", "newpass"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := env.Users.Authenticate("alice", "newpass"); err != nil {
		t.Errorf("New password should work: %v", err)
	}
}

func TestUserInfo(t *testing.T) {
	env := setupEnv(t)
	team := testutil.CreateTeam(t, env.DB, "Sales")
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, &team.ID)

	info, err := env.Users.Info(contextOf(alice))
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Username != "alice" || info.TeamName == nil || *info.TeamName != "Sales" {
		t.Errorf("Unexpected info %+v", info)
	}

	_, err = env.Users.Info(RequestContext{UserID: 999})
	assertKind(t, err, KindNotFound)
}

func TestSeedAdmin(t *testing.T) {
	env := setupEnv(t)

	if err := models.SeedAdmin(env.DB, "admin", "admin123"); err != nil {
		t.Fatalf("SeedAdmin failed: %v", err)
	}
	// a demoted admin is repaired on the next start
	env.DB.Model(&models.User{}).Where("username = ?", "admin").Updates(map[string]interface{}{
		"role":   models.RoleUser,
		"status": models.StatusPending,
	})
	if err := models.SeedAdmin(env.DB, "admin", ""); err != nil {
		t.Fatalf("SeedAdmin repair failed: %v", err)
	}

	user, err := env.Users.Authenticate("admin", "admin123")
	if err != nil {
		t.Fatalf("Admin should sign in: %v", err)
	}
	if !user.IsAdmin() {
		t.Errorf("Expected admin role, got %s", user.Role)
	}
}
