package config

import "testing"

func TestRuntimeConfigUpdatePartialPatch(t *testing.T) {
	rc := NewRuntimeConfig(Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080, MaxConnections: 10},
		Auth:   AuthConfig{Token: "initial"},
	})

	rc.Update(Snapshot{Port: 9090})

	snap := rc.Snapshot()
	if snap.Host != "127.0.0.1" {
		t.Errorf("expected host to stay unchanged, got %q", snap.Host)
	}
	if snap.Port != 9090 {
		t.Errorf("expected port to be updated to 9090, got %d", snap.Port)
	}
	if snap.AuthToken != "initial" {
		t.Errorf("expected token to stay unchanged, got %q", snap.AuthToken)
	}
}

func TestRuntimeConfigAuthTokenReflectsUpdate(t *testing.T) {
	rc := NewRuntimeConfig(Config{Auth: AuthConfig{Token: "old"}})
	if rc.AuthToken() != "old" {
		t.Fatalf("expected old token, got %q", rc.AuthToken())
	}
	rc.Update(Snapshot{AuthToken: "new"})
	if rc.AuthToken() != "new" {
		t.Fatalf("expected new token, got %q", rc.AuthToken())
	}
}
