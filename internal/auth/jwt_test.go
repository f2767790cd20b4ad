package auth

import (
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("secret", "actor-1", RoleGateway, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT("secret", token)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.ActorID != "actor-1" || claims.Role != RoleGateway {
		t.Errorf("claims = %q/%q", claims.ActorID, claims.Role)
	}
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT("secret", "actor-1", RoleOperator, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJWT("other", token); err == nil {
		t.Error("token signed with a different secret must not parse")
	}
}

func TestJWTExpired(t *testing.T) {
	token, err := GenerateJWT("secret", "actor-1", RoleGateway, time.Nanosecond)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := ParseJWT("secret", token); err == nil {
		t.Error("expired token must not parse")
	}
}
