package catalog

import "github.com/koustreak/pgcatalog/internal/errs"

// Action is a referential action of a foreign key (ON UPDATE / ON DELETE).
type Action string

const (
	NoAction   Action = "NO ACTION"
	Restrict   Action = "RESTRICT"
	Cascade    Action = "CASCADE"
	SetNull    Action = "SET NULL"
	SetDefault Action = "SET DEFAULT"
)

// Match is the MATCH type of a foreign key.
type Match string

const (
	MatchFull    Match = "FULL"
	MatchPartial Match = "PARTIAL"
	MatchSimple  Match = "SIMPLE"
)

// DecodeAction maps a pg_constraint confupdtype/confdeltype code to its
// action. There is no default: an unknown code is a contract violation,
// since a wrong delete rule silently corrupts generated DDL.
func DecodeAction(code string) (Action, error) {
	switch code {
	case "a":
		return NoAction, nil
	case "r":
		return Restrict, nil
	case "c":
		return Cascade, nil
	case "n":
		return SetNull, nil
	case "d":
		return SetDefault, nil
	}
	return "", errs.Newf(errs.ErrKindContractViolation, "unknown foreign key action code %q", code)
}

// DecodeMatch maps a pg_constraint confmatchtype code to its match type.
func DecodeMatch(code string) (Match, error) {
	switch code {
	case "f":
		return MatchFull, nil
	case "p":
		return MatchPartial, nil
	case "s":
		return MatchSimple, nil
	}
	return "", errs.Newf(errs.ErrKindContractViolation, "unknown foreign key match code %q", code)
}

// ParseAction accepts an action as spelled in DDL ("SET NULL").
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case NoAction, Restrict, Cascade, SetNull, SetDefault:
		return a, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unknown foreign key action %q", s)
}

// ParseMatch accepts a match type as spelled in DDL ("SIMPLE").
func ParseMatch(s string) (Match, error) {
	switch m := Match(s); m {
	case MatchFull, MatchPartial, MatchSimple:
		return m, nil
	}
	return "", errs.Newf(errs.ErrKindInvalidInput, "unknown foreign key match type %q", s)
}
