package debian

import (
	"fmt"
	"strings"

	"pault.ag/go/debian/dependency"
	"pault.ag/go/debian/version"
)

// Relation is one alternative of a relationship field, e.g. "libc6 (>= 2.13)".
type Relation struct {
	Name string
	// Op is one of <<, <=, =, >=, >> or empty when unversioned.
	Op      string
	Version string
}

// Relations is a relationship field: a conjunction of alternatives.
type Relations [][]Relation

// ParseRelations parses fields such as Depends. Architecture qualifiers
// (":any"), architecture lists ("[armel]") and build profiles ("<!nocheck>")
// are dropped, as are substitution variables.
func ParseRelations(s string) (Relations, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	dep, err := dependency.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("relation %q: %v", s, err)
	}
	var rels Relations
	for _, rel := range dep.Relations {
		var alts []Relation
		for _, possi := range rel.Possibilities {
			if possi.Substvar {
				continue
			}
			r := Relation{Name: possi.Name}
			if possi.Version != nil {
				r.Op = possi.Version.Operator
				r.Version = strings.TrimSpace(possi.Version.Number)
				if r.Version == "" {
					return nil, fmt.Errorf("relation %q: missing version for %s", s, possi.Name)
				}
			}
			alts = append(alts, r)
		}
		if len(alts) > 0 {
			rels = append(rels, alts)
		}
	}
	return rels, nil
}

func (r Relation) possibility() dependency.Possibility {
	p := dependency.Possibility{Name: r.Name}
	if r.Op != "" {
		p.Version = &dependency.VersionRelation{Operator: r.Op, Number: r.Version}
	}
	return p
}

// SatisfiedBy reports whether a package at ver satisfies r's version
// constraint. Unparseable versions satisfy only unversioned relations.
func (r Relation) SatisfiedBy(ver string) bool {
	if r.Op == "" {
		return true
	}
	v, err := version.Parse(ver)
	if err != nil {
		return false
	}
	return r.possibility().Version.SatisfiedBy(v)
}

func (r Relation) String() string {
	return r.possibility().String()
}

func (rs Relations) String() string {
	var dep dependency.Dependency
	for _, alts := range rs {
		var rel dependency.Relation
		for _, r := range alts {
			rel.Possibilities = append(rel.Possibilities, r.possibility())
		}
		dep.Relations = append(dep.Relations, rel)
	}
	return dep.String()
}
