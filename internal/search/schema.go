package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the value type of a searchable attribute.
type Kind int

const (
	Integer Kind = iota
	Text
	Timestamp
)

// Field binds an attribute name to a fixed SQL expression.
type Field struct {
	Kind Kind
	Expr string
}

// Schema is the allow-list of searchable attributes for one resource.
type Schema struct {
	fields map[string]Field
}

func NewSchema(fields map[string]Field) *Schema {
	copied := make(map[string]Field, len(fields))
	for name, f := range fields {
		copied[strings.ToLower(name)] = f
	}
	return &Schema{fields: copied}
}

// Where renders the filter as a SQL boolean expression with ? placeholders.
// Conditions referring to unknown attributes, predicates not valid for the
// attribute kind, or values that do not coerce are dropped. An empty string
// means no restriction.
func (s *Schema) Where(f Filter) (string, []any) {
	var (
		parts []string
		args  []any
	)
	for _, cond := range f.Conditions {
		clause, condArgs, ok := s.condition(cond)
		if !ok {
			continue
		}
		parts = append(parts, clause)
		args = append(args, condArgs...)
	}
	if len(parts) == 0 {
		return "", nil
	}
	joiner := " AND "
	if f.Combinator == Or {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", args
}

func (s *Schema) condition(cond Condition) (string, []any, bool) {
	var (
		parts []string
		args  []any
	)
	for _, name := range cond.Attributes {
		field, ok := s.fields[name]
		if !ok {
			return "", nil, false
		}
		clause, fieldArgs, ok := render(field, cond.Predicate, cond.Values)
		if !ok {
			return "", nil, false
		}
		parts = append(parts, clause)
		args = append(args, fieldArgs...)
	}
	if len(parts) == 0 {
		return "", nil, false
	}
	joiner := " OR "
	if cond.Combinator == And {
		joiner = " AND "
	}
	return "(" + strings.Join(parts, joiner) + ")", args, true
}

func render(field Field, p Predicate, values []string) (string, []any, bool) {
	if len(values) == 0 {
		return "", nil, false
	}
	expr := field.Expr

	switch p {
	case Null, NotNull, Present, Blank:
		want, ok := parseBool(values[0])
		if !ok {
			return "", nil, false
		}
		if p == NotNull || p == Blank {
			want = !want
		}
		if p == Null || p == NotNull {
			if want {
				return expr + " IS NULL", nil, true
			}
			return expr + " IS NOT NULL", nil, true
		}
		if field.Kind != Text {
			return "", nil, false
		}
		if want {
			return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", expr, expr), nil, true
		}
		return fmt.Sprintf("(%s IS NULL OR %s = '')", expr, expr), nil, true

	case Cont, NotCont, Start, End:
		if field.Kind != Text {
			return "", nil, false
		}
		escaped := escapeLike(values[0])
		var pattern string
		switch p {
		case Start:
			pattern = escaped + "%"
		case End:
			pattern = "%" + escaped
		default:
			pattern = "%" + escaped + "%"
		}
		op := "LIKE"
		if p == NotCont {
			op = "NOT LIKE"
		}
		return fmt.Sprintf(`%s %s ? ESCAPE '\'`, expr, op), []any{pattern}, true

	case In, NotIn:
		args := make([]any, 0, len(values))
		for _, v := range values {
			arg, ok := coerce(field.Kind, v)
			if !ok {
				return "", nil, false
			}
			args = append(args, arg)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
		op := "IN"
		if p == NotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", expr, op, placeholders), args, true

	case Eq, NotEq, Lt, Lteq, Gt, Gteq:
		arg, ok := coerce(field.Kind, values[0])
		if !ok {
			return "", nil, false
		}
		return fmt.Sprintf("%s %s ?", expr, comparison[p]), []any{arg}, true
	}
	return "", nil, false
}

var comparison = map[Predicate]string{
	Eq:    "=",
	NotEq: "<>",
	Lt:    "<",
	Lteq:  "<=",
	Gt:    ">",
	Gteq:  ">=",
}

func coerce(kind Kind, v string) (any, bool) {
	switch kind {
	case Integer:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case Timestamp:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), true
			}
		}
		return nil, false
	default:
		return v, true
	}
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, true
	case "0", "f", "false", "n", "no", "off":
		return false, true
	}
	return false, false
}

func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}
