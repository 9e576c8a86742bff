package scope

import (
	"errors"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"global", "project:temple", "session:abc-123"}
	for _, in := range cases {
		s, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", in, err)
		}
		if got := s.String(); got != in {
			t.Errorf("round trip %q -> %q", in, got)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{"", "project:", "session:", "session:   ", "bogus", "Global", "project"}
	for _, in := range cases {
		if _, err := Parse(in); !errors.Is(err, ErrInvalidScope) {
			t.Errorf("Parse(%q): want ErrInvalidScope, got %v", in, err)
		}
	}
}

func TestPrecedence(t *testing.T) {
	if Global().Precedence() != 0 || Project("x").Precedence() != 1 || Session("y").Precedence() != 2 {
		t.Errorf("precedence order wrong: %d %d %d",
			Global().Precedence(), Project("x").Precedence(), Session("y").Precedence())
	}
}

func TestCollectionMapping(t *testing.T) {
	cases := []struct {
		scope Scope
		coll  string
	}{
		{Global(), "temple_global"},
		{Project("apollo"), "temple_project_apollo"},
		{Session("s1"), "temple_session_s1"},
	}
	for _, tc := range cases {
		if got := tc.scope.Collection(); got != tc.coll {
			t.Errorf("Collection(%v) = %q, want %q", tc.scope, got, tc.coll)
		}
		back, ok := FromCollection(tc.coll)
		if !ok || back != tc.scope {
			t.Errorf("FromCollection(%q) = %v %v, want %v", tc.coll, back, ok, tc.scope)
		}
	}
	if _, ok := FromCollection("other_db"); ok {
		t.Error("FromCollection accepted foreign collection")
	}
}

func TestActiveScopesOrdering(t *testing.T) {
	ctx := NewContext()

	got := ctx.ActiveScopes()
	if len(got) != 1 || got[0] != Global() {
		t.Fatalf("fresh context scopes = %v", got)
	}

	ctx.SetProject("apollo")
	ctx.SetSession("s1")
	got = ctx.ActiveScopes()
	want := []Scope{Global(), Project("apollo"), Session("s1")}
	if len(got) != len(want) {
		t.Fatalf("scopes = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scope[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	reads := ctx.GraphReadScopes()
	if reads[0] != Session("s1") || reads[len(reads)-1] != Global() {
		t.Errorf("graph read order = %v, want highest precedence first", reads)
	}
}

func TestStoreScope(t *testing.T) {
	ctx := NewContext()
	ctx.SetProject("apollo")

	s, err := ctx.StoreScope("")
	if err != nil || s != Project("apollo") {
		t.Errorf("default store scope = %v, %v", s, err)
	}

	s, err = ctx.StoreScope("session:s9")
	if err != nil || s != Session("s9") {
		t.Errorf("override store scope = %v, %v", s, err)
	}

	if _, err := ctx.StoreScope("project:"); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("bad override: want ErrInvalidScope, got %v", err)
	}
}

func TestClearSessionIf(t *testing.T) {
	ctx := NewContext()
	ctx.SetSession("s1")

	if ctx.ClearSessionIf("other") {
		t.Error("cleared a non-matching session")
	}
	if !ctx.ClearSessionIf("s1") {
		t.Error("did not clear matching session")
	}
	if _, ok := ctx.Session(); ok {
		t.Error("session still active after clear")
	}
}
