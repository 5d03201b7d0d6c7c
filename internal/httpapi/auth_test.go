package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func signClaims(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(payloadBytes)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestParseBearerAcceptsAudienceListAndScopeString(t *testing.T) {
	now := time.Now()
	token := signClaims(t, "secret", map[string]any{
		"conversation_id": " c1 ",
		"agent_name":      "Worker1",
		"exp":             now.Add(time.Hour).Unix(),
		"aud":             []string{"other", "relaytimeline"},
		"scopes":          "timeline:read timeline:write",
	})
	claims, authErr := parseBearer("Bearer "+token, "secret", now)
	if authErr != nil {
		t.Fatalf("expected valid token, got %v", authErr)
	}
	if claims.ConversationID != "c1" || claims.AgentName != "Worker1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.hasScope(scopeRead) || !claims.hasScope(scopeWrite) {
		t.Fatalf("expected both scopes, got %v", claims.Scopes)
	}
}

func TestParseBearerRejections(t *testing.T) {
	now := time.Now()
	valid := map[string]any{
		"conversation_id": "c1",
		"agent_name":      "Worker1",
		"exp":             now.Add(time.Hour).Unix(),
		"aud":             "relaytimeline",
		"scopes":          []string{"timeline:read"},
	}
	with := func(key string, value any) map[string]any {
		out := map[string]any{}
		for k, v := range valid {
			out[k] = v
		}
		if value == nil {
			delete(out, key)
		} else {
			out[key] = value
		}
		return out
	}

	cases := []struct {
		name   string
		header string
		status int
		msg    string
	}{
		{"no bearer", "Basic abc", http.StatusUnauthorized, "missing or invalid bearer token"},
		{"two segments", "Bearer a.b", http.StatusUnauthorized, "invalid jwt format"},
		{"four segments", "Bearer a.b.c.d", http.StatusUnauthorized, "invalid jwt format"},
		{"wrong secret", "Bearer " + signClaims(t, "other", valid), http.StatusUnauthorized, "jwt signature mismatch"},
		{"missing conversation", "Bearer " + signClaims(t, "secret", with("conversation_id", nil)), http.StatusUnauthorized, "missing conversation_id claim"},
		{"missing agent", "Bearer " + signClaims(t, "secret", with("agent_name", nil)), http.StatusUnauthorized, "missing agent_name claim"},
		{"missing exp", "Bearer " + signClaims(t, "secret", with("exp", nil)), http.StatusUnauthorized, "invalid exp claim"},
		{"expired", "Bearer " + signClaims(t, "secret", with("exp", now.Add(-time.Minute).Unix())), http.StatusUnauthorized, "token expired"},
		{"foreign audience", "Bearer " + signClaims(t, "secret", with("aud", []string{"other"})), http.StatusUnauthorized, "invalid aud claim"},
		{"no scopes", "Bearer " + signClaims(t, "secret", with("scopes", []string{})), http.StatusForbidden, "no scopes granted"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, authErr := parseBearer(tc.header, "secret", now)
			if authErr == nil {
				t.Fatalf("expected rejection")
			}
			if authErr.status != tc.status || authErr.message != tc.msg {
				t.Fatalf("expected %d %q, got %d %q", tc.status, tc.msg, authErr.status, authErr.message)
			}
		})
	}
}

func TestAuthorizeBearerConversationAndScope(t *testing.T) {
	now := time.Now()
	token := "Bearer " + signClaims(t, "secret", map[string]any{
		"conversation_id": "*",
		"agent_name":      "Worker1",
		"exp":             now.Add(time.Hour).Unix(),
		"aud":             "relaytimeline",
		"scopes":          []string{"timeline:read"},
	})
	if _, authErr := authorizeBearer(token, "secret", "any-conversation", scopeRead, now); authErr != nil {
		t.Fatalf("expected wildcard conversation to pass, got %v", authErr)
	}
	_, authErr := authorizeBearer(token, "secret", "c1", scopeWrite, now)
	if authErr == nil || authErr.status != http.StatusForbidden {
		t.Fatalf("expected forbidden for missing write scope, got %v", authErr)
	}
}
