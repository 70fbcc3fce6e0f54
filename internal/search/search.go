// Package search turns `q[...]` query parameters into SQL predicates.
//
// A parameter key names one or more attributes and a predicate, for example
// `q[title_cont]=go` or `q[title_or_content_cont]=go`. Only attributes
// registered in a Schema and predicates listed below are ever translated;
// everything else is dropped without error. Values are always bound as
// query arguments.
package search

import (
	"net/url"
	"sort"
	"strings"
)

// Predicate is a comparison operator accepted in filter keys.
type Predicate string

const (
	Eq      Predicate = "eq"
	NotEq   Predicate = "not_eq"
	Cont    Predicate = "cont"
	NotCont Predicate = "not_cont"
	Start   Predicate = "start"
	End     Predicate = "end"
	Lt      Predicate = "lt"
	Lteq    Predicate = "lteq"
	Gt      Predicate = "gt"
	Gteq    Predicate = "gteq"
	In      Predicate = "in"
	NotIn   Predicate = "not_in"
	Null    Predicate = "null"
	NotNull Predicate = "not_null"
	Present Predicate = "present"
	Blank   Predicate = "blank"
)

// predicates is ordered longest first so that "not_eq" wins over "eq".
var predicates = func() []Predicate {
	all := []Predicate{Eq, NotEq, Cont, NotCont, Start, End, Lt, Lteq, Gt, Gteq, In, NotIn, Null, NotNull, Present, Blank}
	sort.SliceStable(all, func(i, j int) bool { return len(all[i]) > len(all[j]) })
	return all
}()

// Combinator joins conditions (or attributes inside one condition).
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

// Condition is one parsed filter term. Values are raw strings; coercion
// happens against the schema when the condition is rendered.
type Condition struct {
	Attributes []string
	Combinator Combinator
	Predicate  Predicate
	Values     []string
}

// Filter is the parsed form of all `q[...]` parameters.
type Filter struct {
	Conditions []Condition
	Combinator Combinator
}

// Empty reports whether the filter has no conditions.
func (f Filter) Empty() bool {
	return len(f.Conditions) == 0
}

// ParseQuery extracts a filter from url values of the form q[key]=value or
// q[key][]=value. The special key q[m] selects the top-level combinator
// ("and" by default, or "or").
func ParseQuery(values url.Values) Filter {
	filter := Filter{Combinator: And}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name, ok := paramName(key)
		if !ok {
			continue
		}
		if name == "m" {
			if strings.EqualFold(firstValue(values[key]), "or") {
				filter.Combinator = Or
			}
			continue
		}
		cond, ok := ParseKey(name)
		if !ok {
			continue
		}
		cond.Values = splitValues(cond.Predicate, values[key])
		if len(cond.Values) == 0 {
			continue
		}
		filter.Conditions = append(filter.Conditions, cond)
	}
	return filter
}

// ParseKey splits a key such as "user_name_or_title_cont" into attributes
// and predicate. It only checks syntax; attribute names are checked by the
// schema.
func ParseKey(key string) (Condition, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, p := range predicates {
		suffix := "_" + string(p)
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		head := strings.TrimSuffix(key, suffix)
		if head == "" {
			return Condition{}, false
		}
		cond := Condition{Predicate: p, Combinator: Or}
		hasOr := strings.Contains(head, "_or_")
		hasAnd := strings.Contains(head, "_and_")
		switch {
		case hasOr && hasAnd:
			return Condition{}, false
		case hasAnd:
			cond.Combinator = And
			cond.Attributes = strings.Split(head, "_and_")
		default:
			cond.Attributes = strings.Split(head, "_or_")
		}
		for _, attr := range cond.Attributes {
			if attr == "" {
				return Condition{}, false
			}
		}
		return cond, true
	}
	return Condition{}, false
}

func paramName(key string) (string, bool) {
	if !strings.HasPrefix(key, "q[") {
		return "", false
	}
	rest := key[len("q["):]
	end := strings.IndexByte(rest, ']')
	if end <= 0 {
		return "", false
	}
	tail := rest[end+1:]
	if tail != "" && tail != "[]" {
		return "", false
	}
	return rest[:end], true
}

func splitValues(p Predicate, raw []string) []string {
	var out []string
	for _, v := range raw {
		if p == In || p == NotIn {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if p != In && p != NotIn && len(out) > 1 {
		out = out[:1]
	}
	return out
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
