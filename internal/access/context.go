// Package access implements C4 (Access-Control Binder) and C5
// (Application-Level Filter): deriving a SessionContext from request
// headers, installing it on a database session, and providing the
// fallback WHERE-FALSE filter when role switching isn't available.
//
// Grounded on the teacher's internal/middleware/rls.go (SetRLSContext,
// WrapWithRLS, LogRLSViolation) and internal/auth/jwt.go
// (ValidateServiceRoleToken, TokenClaims).
package access

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is one of the three session roles spec §3 defines.
type Role string

const (
	RoleAnon          Role = "anon"
	RoleAuthenticated Role = "authenticated"
	RoleServiceRole   Role = "service_role"
)

// SessionContext is the per-request access-control context (spec §3):
// created per request, lives for one database interaction, never shared.
type SessionContext struct {
	Role   Role
	UserID string
	Claims map[string]interface{}
}

// ErrUnauthorized is returned by DeriveContext when neither a recognized
// API key nor a parseable bearer token is present (spec §4.3: "anything
// else ⇒ reject with 401").
type ErrUnauthorized struct{ Reason string }

func (e *ErrUnauthorized) Error() string { return e.Reason }

// KeyClassifier decodes an apikey/x-api-key value into the role it grants.
// Implemented by internal/auth's service/anon key validation; injected here
// so access stays independent of the auth package's full surface.
type KeyClassifier func(apiKey string) (Role, bool)

// DeriveContext implements spec §4.3 step 1+2: extract apikey/x-api-key,
// decode its role; if a bearer JWT is also present, parse its payload
// (without verifying the signature — that's an external collaborator's
// job per spec) for `sub`/claims, adopting role=authenticated; resolve
// precedence per spec: authenticated beats anon API key, but a
// service-role API key overrides any bearer token.
func DeriveContext(headers http.Header, classify KeyClassifier) (SessionContext, error) {
	apiKey := headers.Get("apikey")
	if apiKey == "" {
		apiKey = headers.Get("x-api-key")
	}

	var keyRole Role
	haveKey := false
	if apiKey != "" {
		role, ok := classify(apiKey)
		if !ok {
			return SessionContext{}, &ErrUnauthorized{Reason: "invalid API key"}
		}
		keyRole = role
		haveKey = true
	}

	var bearerCtx *SessionContext
	if auth := headers.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if claims, sub, err := decodeUnverified(token); err == nil {
			bearerCtx = &SessionContext{Role: RoleAuthenticated, UserID: sub, Claims: claims}
		}
	}

	switch {
	case haveKey && keyRole == RoleServiceRole:
		// A service-role API key overrides any bearer token (spec §4.3).
		return SessionContext{Role: RoleServiceRole}, nil
	case bearerCtx != nil:
		// Authenticated wins over an anon API key (spec §4.3).
		return *bearerCtx, nil
	case haveKey:
		return SessionContext{Role: keyRole}, nil
	default:
		return SessionContext{}, &ErrUnauthorized{Reason: "missing apikey/x-api-key and no valid bearer token"}
	}
}

// decodeUnverified extracts the JWT payload's `sub` and full claim set
// without verifying the signature, using jwt/v5's ParseUnverified — the
// idiomatic equivalent of the teacher's header+payload+signature split,
// grounded on internal/auth/jwt.go's claim shape.
func decodeUnverified(token string) (map[string]interface{}, string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, "", err
	}
	sub, _ := claims["sub"].(string)
	out := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out, sub, nil
}
