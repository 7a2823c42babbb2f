package mls

import (
	"net/url"
	"strconv"
	"strings"
)

// Query holds the OData system query options used against a RESO resource.
type Query struct {
	Top     int
	Skip    int
	Filter  string
	Select  []string
	OrderBy string
	Count   bool
}

func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Top > 0 {
		v.Set("$top", strconv.Itoa(q.Top))
	}
	if q.Skip > 0 {
		v.Set("$skip", strconv.Itoa(q.Skip))
	}
	if q.Filter != "" {
		v.Set("$filter", q.Filter)
	}
	if len(q.Select) > 0 {
		v.Set("$select", strings.Join(q.Select, ","))
	}
	if q.OrderBy != "" {
		v.Set("$orderby", q.OrderBy)
	}
	if q.Count {
		v.Set("$count", "true")
	}
	return v
}

// Quote renders s as an OData string literal. Embedded quotes are doubled.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func Eq(field, value string) string {
	return field + " eq " + Quote(value)
}

// AnyOf builds "(f eq 'a' or f eq 'b')". A single value is not parenthesized.
func AnyOf(field string, values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return Eq(field, values[0])
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = Eq(field, v)
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

// And joins the non-empty expressions.
func And(exprs ...string) string {
	var parts []string
	for _, e := range exprs {
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, " and ")
}

// StatusFilter is the listing filter for a region: the status set, narrowed to
// one office when both the field and the id are known.
func StatusFilter(statusField string, statuses []string, officeField, officeID string) string {
	var office string
	if officeField != "" && officeID != "" {
		office = Eq(officeField, officeID)
	}
	return And(AnyOf(statusField, statuses), office)
}
