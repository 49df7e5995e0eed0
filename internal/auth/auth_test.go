package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Setenv("BAP_AUTH_SECRET", "test-secret")
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)

	token, err := GenerateToken("user-1", "biz-1", "dev-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "user-1" || claims.BusinessID != "biz-1" || claims.DeviceID != "dev-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("BAP_AUTH_SECRET", "test-secret")
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	t.Setenv("BAP_AUTH_SECRET", "secret-a")
	ResetSecretCache()
	token, err := GenerateToken("user-1", "", "", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("BAP_AUTH_SECRET", "secret-b")
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)

	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestGenerateRequiresConfig(t *testing.T) {
	t.Setenv("BAP_AUTH_SECRET", "")
	ResetSecretCache()
	t.Cleanup(ResetSecretCache)

	if _, err := GenerateToken("user-1", "", "", time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
}
