package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	tokenAudience = "relaytimeline"

	scopeRead  = "timeline:read"
	scopeWrite = "timeline:write"

	// anyConversation in the conversation_id claim grants every conversation.
	anyConversation = "*"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: message}
}

func forbidden(message string) *authError {
	return &authError{status: http.StatusForbidden, code: "forbidden", message: message}
}

type tokenClaims struct {
	ConversationID string
	AgentName      string
	Scopes         map[string]struct{}
	Exp            int64
}

func (c tokenClaims) allows(conversationID string) bool {
	return conversationID == "" || c.ConversationID == anyConversation || c.ConversationID == conversationID
}

func (c tokenClaims) hasScope(scope string) bool {
	if scope == "" {
		return true
	}
	_, ok := c.Scopes[scope]
	return ok
}

func authorizeBearer(authHeader, jwtSecret, conversationID, requiredScope string, now time.Time) (tokenClaims, *authError) {
	claims, err := parseBearer(authHeader, jwtSecret, now)
	if err != nil {
		return tokenClaims{}, err
	}
	if !claims.allows(conversationID) {
		return tokenClaims{}, forbidden("conversation mismatch")
	}
	if !claims.hasScope(requiredScope) {
		return tokenClaims{}, forbidden("missing required scope: " + requiredScope)
	}
	return claims, nil
}

// jwtPayload is the claim set relaytimeline tokens carry. aud may be a
// single string or a list; scopes may be a list or a space separated string.
type jwtPayload struct {
	ConversationID string       `json:"conversation_id"`
	AgentName      string       `json:"agent_name"`
	Exp            json.Number  `json:"exp"`
	Audience       audienceList `json:"aud"`
	Scopes         scopeSet     `json:"scopes"`
}

type audienceList []string

func (a *audienceList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = audienceList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = many
	return nil
}

func (a audienceList) contains(audience string) bool {
	for _, item := range a {
		if item == audience {
			return true
		}
	}
	return false
}

type scopeSet map[string]struct{}

func (s *scopeSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		var joined string
		if err := json.Unmarshal(data, &joined); err != nil {
			return err
		}
		items = strings.Fields(joined)
	}
	out := scopeSet{}
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out[item] = struct{}{}
		}
	}
	*s = out
	return nil
}

func parseBearer(authHeader, jwtSecret string, now time.Time) (tokenClaims, *authError) {
	raw, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return tokenClaims{}, unauthorized("missing or invalid bearer token")
	}
	headerPart, rest, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok {
		return tokenClaims{}, unauthorized("invalid jwt format")
	}
	payloadPart, signaturePart, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(signaturePart, ".") {
		return tokenClaims{}, unauthorized("invalid jwt format")
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(headerPart, &header); err != nil {
		return tokenClaims{}, unauthorized("invalid jwt header")
	}
	if header.Alg != "HS256" {
		return tokenClaims{}, unauthorized("unsupported jwt algorithm")
	}
	if !validSignature(headerPart+"."+payloadPart, signaturePart, jwtSecret) {
		return tokenClaims{}, unauthorized("jwt signature mismatch")
	}

	var payload jwtPayload
	if err := decodeSegment(payloadPart, &payload); err != nil {
		return tokenClaims{}, unauthorized("invalid jwt payload")
	}
	conversationID := strings.TrimSpace(payload.ConversationID)
	switch {
	case conversationID == "":
		return tokenClaims{}, unauthorized("missing conversation_id claim")
	case payload.AgentName == "":
		return tokenClaims{}, unauthorized("missing agent_name claim")
	}
	exp, err := payload.Exp.Int64()
	if err != nil {
		return tokenClaims{}, unauthorized("invalid exp claim")
	}
	if now.Unix() >= exp {
		return tokenClaims{}, unauthorized("token expired")
	}
	if !payload.Audience.contains(tokenAudience) {
		return tokenClaims{}, unauthorized("invalid aud claim")
	}
	if len(payload.Scopes) == 0 {
		return tokenClaims{}, forbidden("no scopes granted")
	}

	return tokenClaims{
		ConversationID: conversationID,
		AgentName:      payload.AgentName,
		Scopes:         payload.Scopes,
		Exp:            exp,
	}, nil
}

func decodeSegment(segment string, out any) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func validSignature(signingInput, signature, secret string) bool {
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	return hmac.Equal(sig, mac.Sum(nil))
}
