package access

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// SQLExecer is the minimal surface Install needs from a transaction: one
// statement at a time, no rows expected back. internal/engine's Executor
// satisfies this without access needing to import engine.
type SQLExecer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) error
}

// InstallResult reports which of the four session variables were
// successfully set. Degraded is true when at least one failed — the signal
// C5 uses to decide whether it can trust role-based RLS alone or must also
// splice an application-level WHERE FALSE.
type InstallResult struct {
	RoleSet     bool
	ClaimsSet   bool
	SubSet      bool
	ClaimRole   bool
	Degraded    bool
	FirstErr    error
}

// Install implements spec §4.3's session-context installation: four
// independent SET LOCAL-style installs, each isolated so one failure
// doesn't abort the rest. Grounded on the teacher's SetRLSContext, but
// split into four separate statements (rather than one combined claims
// blob) so a single failing set_config call degrades gracefully instead of
// aborting the whole request.
func Install(ctx context.Context, exec SQLExecer, sess SessionContext) InstallResult {
	var res InstallResult

	if err := exec.Exec(ctx, "SELECT set_config('role', $1, true)", string(sess.Role)); err != nil {
		log.Warn().Err(err).Str("role", string(sess.Role)).Msg("access: failed to set role")
		res.Degraded = true
		res.FirstErr = firstErr(res.FirstErr, err)
	} else {
		res.RoleSet = true
	}

	claims := sess.Claims
	if claims == nil {
		claims = map[string]interface{}{}
	}
	if _, ok := claims["role"]; !ok {
		claims["role"] = string(sess.Role)
	}
	if sess.UserID != "" {
		if _, ok := claims["sub"]; !ok {
			claims["sub"] = sess.UserID
		}
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		log.Warn().Err(err).Msg("access: failed to marshal jwt claims")
		res.Degraded = true
		res.FirstErr = firstErr(res.FirstErr, err)
	} else if err := exec.Exec(ctx, "SELECT set_config('request.jwt.claims', $1, true)", string(claimsJSON)); err != nil {
		log.Warn().Err(err).Msg("access: failed to set request.jwt.claims")
		res.Degraded = true
		res.FirstErr = firstErr(res.FirstErr, err)
	} else {
		res.ClaimsSet = true
	}

	if err := exec.Exec(ctx, "SELECT set_config('request.jwt.claim.sub', $1, true)", sess.UserID); err != nil {
		log.Warn().Err(err).Msg("access: failed to set request.jwt.claim.sub")
		res.Degraded = true
		res.FirstErr = firstErr(res.FirstErr, err)
	} else {
		res.SubSet = true
	}

	if err := exec.Exec(ctx, "SELECT set_config('request.jwt.claim.role', $1, true)", string(sess.Role)); err != nil {
		log.Warn().Err(err).Msg("access: failed to set request.jwt.claim.role")
		res.Degraded = true
		res.FirstErr = firstErr(res.FirstErr, err)
	} else {
		res.ClaimRole = true
	}

	return res
}

func firstErr(cur, next error) error {
	if cur != nil {
		return cur
	}
	return next
}
