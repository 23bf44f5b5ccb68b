package metrics

import (
	"fmt"
	"strings"

	"pgharness/internal/fixerr"
)

// Predicate selects samples. String describes it in error messages.
type Predicate interface {
	Match(Sample) bool
	String() string
}

type predicate struct {
	desc  string
	match func(Sample) bool
}

func (p predicate) Match(s Sample) bool { return p.match(s) }
func (p predicate) String() string      { return p.desc }

// LabelEquals matches samples whose label k equals v.
func LabelEquals(k, v string) Predicate {
	return predicate{
		desc: fmt.Sprintf("%s=%q", k, v),
		match: func(s Sample) bool {
			got, ok := s.Labels[k]
			return ok && got == v
		},
	}
}

// LabelContains matches samples whose label k contains sub.
func LabelContains(k, sub string) Predicate {
	return predicate{
		desc: fmt.Sprintf("%s=~%q", k, sub),
		match: func(s Sample) bool {
			got, ok := s.Labels[k]
			return ok && strings.Contains(got, sub)
		},
	}
}

// HasLabel matches samples that carry label k.
func HasLabel(k string) Predicate {
	return predicate{
		desc: fmt.Sprintf("has(%s)", k),
		match: func(s Sample) bool {
			_, ok := s.Labels[k]
			return ok
		},
	}
}

// NameEquals matches samples of one expanded series, such as foo_count.
func NameEquals(name string) Predicate {
	return predicate{
		desc:  fmt.Sprintf("__name__=%q", name),
		match: func(s Sample) bool { return s.Name == name },
	}
}

// All matches samples accepted by every predicate.
func All(preds ...Predicate) Predicate {
	descs := make([]string, 0, len(preds))
	for _, p := range preds {
		descs = append(descs, p.String())
	}
	return predicate{
		desc: "{" + strings.Join(descs, ",") + "}",
		match: func(s Sample) bool {
			for _, p := range preds {
				if !p.Match(s) {
					return false
				}
			}
			return true
		},
	}
}

// NotFoundError reports a failed family or sample lookup.
type NotFoundError struct {
	Family    string
	Predicate string
	// Available lists what was searched, for the error message.
	Available []string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	switch {
	case e.Predicate == "":
		fmt.Fprintf(&b, "metric family %q not found", e.Family)
	case e.Family == "":
		fmt.Fprintf(&b, "no sample matching %s", e.Predicate)
	default:
		fmt.Fprintf(&b, "no sample of %q matching %s", e.Family, e.Predicate)
	}
	if len(e.Available) > 0 {
		fmt.Fprintf(&b, " (have: %s)", strings.Join(e.Available, "; "))
	}
	return b.String()
}

// Is makes NotFoundError match fixerr.ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == fixerr.ErrNotFound
}

// Sides selects the frontend and backend samples of a family.
type Sides struct {
	Frontend Predicate
	Backend  Predicate
}

// SidesByLabel tells sides apart by the value of one label.
func SidesByLabel(label, frontend, backend string) Sides {
	return Sides{Frontend: LabelEquals(label, frontend), Backend: LabelEquals(label, backend)}
}

// SidesByPresence tells sides apart by which label a sample carries.
func SidesByPresence(frontendLabel, backendLabel string) Sides {
	return Sides{Frontend: HasLabel(frontendLabel), Backend: HasLabel(backendLabel)}
}

// Side returns the predicate for "frontend" or "backend".
func (s Sides) Side(name string) (Predicate, error) {
	switch name {
	case "frontend":
		return s.Frontend, nil
	case "backend":
		return s.Backend, nil
	default:
		return nil, fixerr.Usage("unknown side %q, want frontend or backend", name)
	}
}
