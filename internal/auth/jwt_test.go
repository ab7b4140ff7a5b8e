package auth

import (
	"testing"
)

func TestFeedTokenRoundTrip(t *testing.T) {
	clientID := "feed-client-123"

	token, err := GenerateFeedToken(clientID)
	if err != nil {
		t.Fatalf("GenerateFeedToken failed: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if claims.ClientID != clientID {
		t.Errorf("Expected client ID %s, got %s", clientID, claims.ClientID)
	}
	if claims.Role != "feed" {
		t.Errorf("Expected role 'feed', got '%s'", claims.Role)
	}
}

func TestAdminTokenRoundTrip(t *testing.T) {
	token, err := GenerateAdminToken("ops-1")
	if err != nil {
		t.Fatalf("GenerateAdminToken failed: %v", err)
	}

	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if claims.Role != "admin" {
		t.Errorf("Expected role 'admin', got '%s'", claims.Role)
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	if _, err := ValidateToken("not-a-token"); err == nil {
		t.Error("ValidateToken should reject malformed tokens")
	}

	if _, err := ValidateToken(""); err == nil {
		t.Error("ValidateToken should reject empty tokens")
	}
}
