package access

import "github.com/fluxql/fluxql/internal/auth"

// NewJWTClassifier adapts the teacher's Supabase-compatible service-role JWT
// validation (auth.JWTManager.ValidateServiceRoleToken) into a KeyClassifier:
// the apikey/x-api-key header is expected to carry a long-lived JWT whose
// `role` claim is one of anon/authenticated/service_role, exactly as
// internal/middleware/apikey_auth.go's OptionalAuthOrServiceKey decodes it.
func NewJWTClassifier(manager *auth.JWTManager) KeyClassifier {
	return func(apiKey string) (Role, bool) {
		claims, err := manager.ValidateServiceRoleToken(apiKey)
		if err != nil {
			return "", false
		}
		switch claims.Role {
		case string(RoleAnon):
			return RoleAnon, true
		case string(RoleAuthenticated):
			return RoleAuthenticated, true
		case string(RoleServiceRole):
			return RoleServiceRole, true
		default:
			return "", false
		}
	}
}
