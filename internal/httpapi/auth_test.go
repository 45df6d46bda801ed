package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"dulceria/internal/domain"
	"dulceria/internal/store/memory"
)

func newTestAuth(t *testing.T) (*AuthManager, *memory.Store) {
	t.Helper()

	repo := memory.New()
	ctx := context.Background()
	if err := repo.CreateUser(ctx, domain.UserAccount{Username: "admin", Password: "plain-admin-pw", Role: "admin", Active: true, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if err := repo.CreateUser(ctx, domain.UserAccount{Username: "gone", Password: "plain-gone-pw", Role: "cashier", Active: false, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed inactive user: %v", err)
	}

	return NewAuthManager("auth-test-secret-0123456789-0123456789", time.Hour, repo), repo
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)

	resp, err := auth.Login(domain.LoginRequest{Username: " Admin ", Password: "plain-admin-pw"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("role = %q, want admin", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "nope"}); err == nil {
		t.Fatal("wrong password accepted")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "missing", Password: "whatever"}); err == nil {
		t.Fatal("unknown user accepted")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "gone", Password: "plain-gone-pw"}); err == nil {
		t.Fatal("inactive account accepted")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	auth, repo := newTestAuth(t)

	other := NewAuthManager("a-completely-different-secret-0123456789", time.Hour, repo)
	resp, err := other.Login(domain.LoginRequest{Username: "admin", Password: "plain-admin-pw"})
	if err != nil {
		t.Fatalf("login on other manager: %v", err)
	}

	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
	if _, err := auth.ParseToken("not-a-jwt"); err == nil {
		t.Fatal("garbage token accepted")
	}
}

func TestBootstrapUpgradesPlaintextPasswords(t *testing.T) {
	_, repo := newTestAuth(t)

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	for _, user := range users {
		if !strings.HasPrefix(user.Password, "$2") {
			t.Fatalf("user %s still has a plaintext password %q", user.Username, user.Password)
		}
	}
}

func TestCSRFTokenValidityWindow(t *testing.T) {
	api := &API{csrfSecret: []byte("csrf-test-secret")}

	current := api.generateCSRFToken()
	if !api.validateCSRFToken(current) {
		t.Fatal("freshly generated token rejected")
	}

	prevBucket := time.Now().UTC().Truncate(time.Hour).Unix() - 3600
	if !api.validateCSRFToken(api.csrfTokenForHour(prevBucket)) {
		t.Fatal("previous-hour token rejected inside the validity window")
	}

	staleBucket := prevBucket - 3600
	if api.validateCSRFToken(api.csrfTokenForHour(staleBucket)) {
		t.Fatal("two-hour-old token accepted")
	}
	if api.validateCSRFToken("") {
		t.Fatal("empty token accepted")
	}
}
