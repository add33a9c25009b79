package catalog

import (
	"fmt"
	"strings"
)

// RelKind is a pg_class.relkind code.
type RelKind string

const (
	RelKindTable       RelKind = "r"
	RelKindPartitioned RelKind = "p"
	RelKindView        RelKind = "v"
	RelKindMatView     RelKind = "m"
	RelKindIndex       RelKind = "i"
	RelKindSequence    RelKind = "S"
	RelKindForeign     RelKind = "f"
)

var relKindNames = map[string]RelKind{
	"table":             RelKindTable,
	"partitioned":       RelKindPartitioned,
	"view":              RelKindView,
	"materialized-view": RelKindMatView,
	"index":             RelKindIndex,
	"sequence":          RelKindSequence,
	"foreign-table":     RelKindForeign,
}

// DefaultRelKinds are the kinds a fetch reads when the caller names none.
var DefaultRelKinds = []RelKind{RelKindTable, RelKindPartitioned}

// ParseRelKind accepts either a relkind code ("r") or its name ("table").
func ParseRelKind(s string) (RelKind, error) {
	if k, ok := relKindNames[strings.ToLower(s)]; ok {
		return k, nil
	}
	switch k := RelKind(s); k {
	case RelKindTable, RelKindPartitioned, RelKindView, RelKindMatView,
		RelKindIndex, RelKindSequence, RelKindForeign:
		return k, nil
	}
	return "", fmt.Errorf("unknown relation kind %q", s)
}

// IsView reports whether relations of kind k are tracked as views.
func (k RelKind) IsView() bool {
	return k == RelKindView || k == RelKindMatView
}
