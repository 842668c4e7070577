package restapi

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/fluxql/fluxql/internal/query"
)

// SelectResult bundles a completed SELECT's rows and (optional) exact/
// estimated total for WriteSelect to format.
type SelectResult struct {
	Rows  []map[string]interface{}
	Total *int64 // nil when Prefer: count=... wasn't requested
}

// WriteSelect implements C7 for GET: Content-Range header, single-object
// mode (406 on row-count mismatch), HEAD support (status/headers only, no
// body — spec §8's "HEAD=GET headers" testable property).
func WriteSelect(c *fiber.Ctx, q *query.ParsedQuery, res SelectResult, isHead bool) error {
	offset := 0
	if q.Offset != nil {
		offset = *q.Offset
	}
	setContentRange(c, offset, len(res.Rows), res.Total)

	if q.SingleObject {
		if len(res.Rows) != 1 {
			return NotAcceptable(c)
		}
		if isHead {
			return c.SendStatus(200)
		}
		return c.Status(200).JSON(res.Rows[0])
	}

	status := 200
	if isHead {
		return c.Status(status).Send(nil)
	}
	return c.Status(status).JSON(res.Rows)
}

// WriteWrite implements C7 for INSERT/UPSERT/UPDATE/DELETE: status code
// and body follow Prefer: return=representation|minimal|headers-only
// (spec §4.2/§4.3). affected is the row count when the statement ran
// without RETURNING (minimal/headers-only requests skip RETURNING
// entirely); when rows is non-nil its length takes precedence.
func WriteWrite(c *fiber.Ctx, q *query.ParsedQuery, verb string, rows []map[string]interface{}, affected int64) error {
	status := writeStatus(verb, q)
	n := affected
	if rows != nil {
		n = int64(len(rows))
	}

	switch q.PreferReturn {
	case query.ReturnMinimal:
		c.Set("Content-Range", fmt.Sprintf("*/%d", n))
		return c.SendStatus(status)
	case query.ReturnHeadersOnly:
		c.Set("Content-Range", fmt.Sprintf("*/%d", n))
		return c.SendStatus(status)
	default: // representation
		if q.SingleObject && len(rows) == 1 {
			return c.Status(status).JSON(rows[0])
		}
		return c.Status(status).JSON(rows)
	}
}

// writeStatus picks the status code per verb + Prefer:return (spec §4.2:
// INSERT -> 201, UPDATE/DELETE -> 200, minimal/headers-only on INSERT still
// use 201 with an empty body).
func writeStatus(verb string, q *query.ParsedQuery) int {
	switch verb {
	case "INSERT", "UPSERT":
		return 201
	default:
		return 200
	}
}

// setContentRange implements spec's Range-based pagination reporting:
// `<start>-<end>/<total>` when a count was computed, `<start>-<end>/*`
// otherwise (grounded on the teacher's rest_query.go/rest_handler.go
// Content-Range conventions).
func setContentRange(c *fiber.Ctx, offset, n int, total *int64) {
	end := offset + n - 1
	if n == 0 {
		end = offset - 1
	}
	totalStr := "*"
	if total != nil {
		totalStr = strconv.FormatInt(*total, 10)
	}
	c.Set("Content-Range", fmt.Sprintf("%d-%d/%s", offset, end, totalStr))
}
