package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/fluxql/fluxql/internal/query"
)

// FKResolver resolves the join columns for an embedded relation (spec §3:
// "An embedded relation's parent-column reference must resolve in the
// surrounding SELECT's source"). Implemented by internal/schema against the
// live FK graph; Build accepts nil to mean "no embeds expected" (an embed
// present without a resolver is a build-time error, not a silent no-op).
type FKResolver interface {
	// ResolveFK returns the parent and child column names joining
	// parentTable to childTable, disambiguated by hint (an explicit
	// `!fkname` suffix) when more than one FK path exists. ErrAmbiguousFK
	// signals a 300-class PGRST201 per spec §8's boundary behaviors.
	ResolveFK(schema, parentTable, childTable, hint string) (parentCol, childCol string, err error)
}

// ErrAmbiguousFK is returned by an FKResolver when an embed has more than
// one candidate foreign key and no disambiguating hint was given.
var ErrAmbiguousFK = fmt.Errorf("ambiguous embedded relation: specify a !fkname hint")

func buildSelectClause(schema, table string, projections []query.Projection, resolver FKResolver, ac *argCounter) (string, error) {
	if len(projections) == 0 {
		return "*", nil
	}
	parts := make([]string, 0, len(projections))
	for _, p := range projections {
		part, err := buildProjection(schema, table, p, resolver, ac)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", "), nil
}

func buildProjection(schema, table string, p query.Projection, resolver FKResolver, ac *argCounter) (string, error) {
	switch p.Kind {
	case query.ProjectionColumn:
		if p.Column == "*" {
			return "*", nil
		}
		col, err := renderColumn(p.Column)
		if err != nil {
			return "", err
		}
		expr := col
		if p.Cast != "" {
			cast, err := QuoteIdentifier(p.Cast)
			if err == nil {
				expr = fmt.Sprintf("(%s)::%s", col, p.Cast)
			} else {
				_ = cast
			}
		}
		return applyAlias(expr, p.Alias), nil

	case query.ProjectionJSONPath:
		full, err := renderColumn(reconstructJSONPath(p))
		if err != nil {
			return "", err
		}
		return applyAlias(full, p.Alias), nil

	case query.ProjectionAggregate:
		col, err := renderColumn(p.Column)
		if err != nil && p.Column != "*" {
			return "", err
		}
		if p.Column == "*" {
			col = "*"
		}
		expr := fmt.Sprintf("%s(%s)", strings.ToUpper(string(p.AggFunc)), col)
		alias := p.Alias
		if alias == "" {
			alias = fmt.Sprintf("%s_%s", p.Column, p.AggFunc)
		}
		return applyAlias(expr, alias), nil

	case query.ProjectionEmbed:
		return buildEmbed(schema, table, p, resolver, ac)

	default:
		return "", fmt.Errorf("unknown projection kind")
	}
}

// reconstructJSONPath rebuilds the `col->a->>b` textual form from a parsed
// Projection so it can be re-rendered through renderColumn's shared logic.
func reconstructJSONPath(p query.Projection) string {
	s := p.Column
	for i, step := range p.JSONPath {
		op := "->"
		if step.Text && i == len(p.JSONPath)-1 {
			op = "->>"
		}
		key := step.Key
		if !step.IsNumeric {
			key = `"` + key + `"`
		}
		s += op + key
	}
	return s
}

func applyAlias(expr, alias string) string {
	if alias == "" {
		return expr
	}
	quoted, err := QuoteIdentifier(alias)
	if err != nil {
		return expr
	}
	return expr + " AS " + quoted
}

// buildEmbed renders a nested embedded relation as a correlated
// json_agg(...) sub-select joined on its foreign key (spec §4.2: "Embedded
// relations become correlated sub-selects emitting JSON aggregates, joined
// via the named foreign key").
func buildEmbed(schema, parentTable string, p query.Projection, resolver FKResolver, ac *argCounter) (string, error) {
	if resolver == nil {
		return "", fmt.Errorf("embedded relation %q requires a schema FK resolver", p.Embed.Name)
	}
	rel := p.Embed
	parentCol, childCol, err := resolver.ResolveFK(schema, parentTable, rel.Name, rel.Hint)
	if err != nil {
		return "", err
	}

	childTableQ, err := QuoteQualified(schema, rel.Name)
	if err != nil {
		return "", err
	}
	parentColQ, err := QuoteIdentifier(parentCol)
	if err != nil {
		return "", err
	}
	childColQ, err := QuoteIdentifier(childCol)
	if err != nil {
		return "", err
	}
	parentTableQ, err := QuoteQualified(schema, parentTable)
	if err != nil {
		return "", err
	}

	innerSelect, err := buildSelectClause(schema, rel.Name, rel.Query.Select, resolver, ac)
	if err != nil {
		return "", err
	}
	innerWhere, err := buildWhereClause(rel.Query.Filters, ac)
	if err != nil {
		return "", err
	}
	whereSQL := fmt.Sprintf("%s.%s = %s.%s", childTableQ, childColQ, parentTableQ, parentColQ)
	if innerWhere != "" {
		whereSQL += " AND " + innerWhere
	}

	alias := rel.Name
	if p.Alias != "" {
		alias = p.Alias
	}
	aliasQ, err := QuoteIdentifier(alias)
	if err != nil {
		return "", err
	}

	sub := fmt.Sprintf(
		"(SELECT COALESCE(json_agg(row_to_json(t)), '[]') FROM (SELECT %s FROM %s WHERE %s) t) AS %s",
		innerSelect, childTableQ, whereSQL, aliasQ,
	)
	return sub, nil
}
