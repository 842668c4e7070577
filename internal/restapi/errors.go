// Package restapi implements C7 (Response Formatter), C8 (Router/
// Dispatch), and C9 (Error Mapper): the HTTP-facing layer that turns a
// ParsedQuery + compiled sqlbuild.Result + engine execution into a fiber
// response, and maps every failure mode onto spec §4.6's error taxonomy.
//
// Grounded on the teacher's internal/api/rest_handler.go, rest_query.go,
// rest_errors.go, rest_utils.go, rpc_handler.go, server.go — consolidating
// their several duplicate handleDatabaseError/isUserAuthenticated/
// handleRLSViolation copies into the single canonical mapper below.
package restapi

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/fluxql/fluxql/internal/access"
	"github.com/fluxql/fluxql/internal/query"
	"github.com/fluxql/fluxql/internal/sqlbuild"
)

// Envelope is the JSON error body shape spec §4.6 requires: native
// code/detail/hint preserved verbatim when the failure originated in the
// engine, a synthetic PGRST-style code otherwise.
type Envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// MapError implements C9: the single place every error propagating out of
// C1/C3/C4/C5/C6/C7 is translated to an HTTP status + envelope. Replaces
// the teacher's several divergent handleDatabaseError/SendErrorWithCode
// call sites with one canonical table-driven mapper (spec §9: "route
// everything through C9 once").
func MapError(c *fiber.Ctx, err error) error {
	requestID := getRequestID(c)

	var parseErr *query.ParseError
	if errors.As(err, &parseErr) {
		log.Debug().Int("status", parseErr.Status).Str("code", parseErr.Code).Str("request_id", requestID).Msg("restapi: parse error")
		return c.Status(parseErr.Status).JSON(Envelope{Code: parseErr.Code, Message: parseErr.Message})
	}

	if errors.Is(err, sqlbuild.ErrAmbiguousFK) {
		return c.Status(300).JSON(Envelope{Code: "PGRST201", Message: "ambiguous embed: more than one relationship matches, use an !fkname hint"})
	}

	var unauthorized *access.ErrUnauthorized
	if errors.As(err, &unauthorized) {
		return c.Status(401).JSON(Envelope{Code: "PGRST301", Message: unauthorized.Reason})
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		status, code := mapPgError(pgErr)
		log.Warn().Str("pg_code", pgErr.Code).Str("request_id", requestID).Msg("restapi: engine error")
		return c.Status(status).JSON(Envelope{
			Code:    code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
			Hint:    pgErr.Hint,
		})
	}

	log.Error().Err(err).Str("request_id", requestID).Msg("restapi: unmapped engine error")
	return c.Status(500).JSON(Envelope{Code: "PGRST000", Message: "internal error"})
}

// mapPgError implements spec §4.6's error taxonomy table for native
// Postgres SQLSTATEs, preserving the native code as the envelope code
// (engine errors "preserve their native codes so clients can discriminate").
func mapPgError(pgErr *pgconn.PgError) (status int, code string) {
	switch pgErr.Code {
	case pgerrcode.InsufficientPrivilege:
		return 403, pgerrcode.InsufficientPrivilege
	case pgerrcode.UndefinedTable:
		return 404, pgerrcode.UndefinedTable
	case pgerrcode.UniqueViolation:
		return 409, pgerrcode.UniqueViolation
	case pgerrcode.ForeignKeyViolation:
		return 409, pgerrcode.ForeignKeyViolation
	case pgerrcode.CheckViolation:
		return 422, pgerrcode.CheckViolation
	default:
		if strings.HasPrefix(pgErr.Code, "08") {
			return 500, "PGRST000"
		}
		return 500, pgErr.Code
	}
}

// getRequestID prefers fiber's requestid middleware, falls back to an
// inbound X-Request-ID header, and mints a fresh UUID as a last resort so
// every logged error can still be correlated to a single response.
func getRequestID(c *fiber.Ctx) string {
	if v := c.Locals("requestid"); v != nil {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	if id := c.Get("X-Request-ID", ""); id != "" {
		return id
	}
	return uuid.NewString()
}

// MethodNotAllowed implements spec §4.6's 405 case.
func MethodNotAllowed(c *fiber.Ctx) error {
	return c.Status(405).JSON(Envelope{Code: "PGRST105", Message: "method not allowed"})
}

// NotAcceptable implements the single-object-mode 406 case (spec §4.1:
// Accept: application/vnd.pgrst.object+json with a multi-row result).
func NotAcceptable(c *fiber.Ctx) error {
	return c.Status(406).JSON(Envelope{Code: "PGRST116", Message: "JSON object requested, multiple (or no) rows returned"})
}
