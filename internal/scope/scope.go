// Package scope implements the three-tier scope hierarchy (global,
// project, session) used to partition memories and graph data.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidScope is returned when a scope string cannot be parsed.
var ErrInvalidScope = errors.New("invalid scope")

// CollectionPrefix is prepended to every storage collection name.
const CollectionPrefix = "temple"

// Kind identifies one of the three scope tiers.
type Kind int

const (
	KindGlobal Kind = iota
	KindProject
	KindSession
)

// Scope is a parsed scope identifier. The zero value is the global scope.
type Scope struct {
	Kind Kind
	Name string // project name or session id; empty for global
}

// Global returns the global scope.
func Global() Scope {
	return Scope{Kind: KindGlobal}
}

// Project returns a project scope.
func Project(name string) Scope {
	return Scope{Kind: KindProject, Name: name}
}

// Session returns a session scope.
func Session(id string) Scope {
	return Scope{Kind: KindSession, Name: id}
}

// Parse parses a scope string: "global", "project:<name>" or
// "session:<id>". An unknown prefix or an empty name after the prefix
// yields ErrInvalidScope. The empty string does not parse; absence of an
// override is the caller's concern, not the parser's.
func Parse(s string) (Scope, error) {
	switch {
	case s == "global":
		return Global(), nil
	case strings.HasPrefix(s, "project:"):
		name := strings.TrimSpace(strings.TrimPrefix(s, "project:"))
		if name == "" {
			return Scope{}, fmt.Errorf("%w: empty project name in %q", ErrInvalidScope, s)
		}
		return Project(name), nil
	case strings.HasPrefix(s, "session:"):
		id := strings.TrimSpace(strings.TrimPrefix(s, "session:"))
		if id == "" {
			return Scope{}, fmt.Errorf("%w: empty session id in %q", ErrInvalidScope, s)
		}
		return Session(id), nil
	}
	return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

// String serializes the scope back to its wire form. Parse and String
// round-trip for every valid scope.
func (s Scope) String() string {
	switch s.Kind {
	case KindProject:
		return "project:" + s.Name
	case KindSession:
		return "session:" + s.Name
	default:
		return "global"
	}
}

// Precedence orders scopes by specificity: global 0, project 1, session 2.
// Higher wins when merging results across scopes.
func (s Scope) Precedence() int {
	return int(s.Kind)
}

// Collection maps the scope to its storage collection name.
func (s Scope) Collection() string {
	switch s.Kind {
	case KindProject:
		return CollectionPrefix + "_project_" + s.Name
	case KindSession:
		return CollectionPrefix + "_session_" + s.Name
	default:
		return CollectionPrefix + "_global"
	}
}

// FromCollection recovers a scope from a collection name. Returns false
// for collections that do not belong to this store.
func FromCollection(name string) (Scope, bool) {
	switch {
	case name == CollectionPrefix+"_global":
		return Global(), true
	case strings.HasPrefix(name, CollectionPrefix+"_project_"):
		return Project(strings.TrimPrefix(name, CollectionPrefix+"_project_")), true
	case strings.HasPrefix(name, CollectionPrefix+"_session_"):
		return Session(strings.TrimPrefix(name, CollectionPrefix+"_session_")), true
	}
	return Scope{}, false
}
