package veld

import (
	"fmt"
	"strings"
)

// UnsatisfiedDependencyError is returned when an injection point's requested
// type/qualifier resolves to no candidate producer and the point does not
// tolerate absence.
type UnsatisfiedDependencyError struct {
	Point         InjectionPoint
	RequestedType string
	Qualifier     string
}

func (e UnsatisfiedDependencyError) Error() string {
	if e.Qualifier != "" {
		return fmt.Sprintf("veld: unsatisfied dependency: %s requires %s qualified %q, owner %s",
			e.Point.Kind, e.RequestedType, e.Qualifier, e.Point.Owner)
	}
	return fmt.Sprintf("veld: unsatisfied dependency: %s requires %s, owner %s",
		e.Point.Kind, e.RequestedType, e.Point.Owner)
}

// AmbiguousDependencyError is returned when more than one producer satisfies
// an injection point and none is marked primary, or when a qualifier matches
// more than one producer. Two or more primaries are reported as
// MultiplePrimaryError instead.
type AmbiguousDependencyError struct {
	Point      InjectionPoint
	Candidates []string
}

func (e AmbiguousDependencyError) Error() string {
	return fmt.Sprintf("veld: ambiguous dependency for %s on %s: candidates [%s]; mark one @Primary or add a qualifier",
		e.Point.RequestedType, e.Point.Owner, strings.Join(e.Candidates, ", "))
}

// DependencyCycleError is returned when the resolver graph contains a cycle
// with no provider/optional back-edge to defer.
type DependencyCycleError struct {
	Chain []string
}

func (e DependencyCycleError) Error() string {
	return fmt.Sprintf("veld: dependency cycle detected: %s", strings.Join(e.Chain, " -> "))
}

// MultiplePrimaryError is returned when two or more producers of the same
// type are marked primary.
type MultiplePrimaryError struct {
	Type       string
	Candidates []string
}

func (e MultiplePrimaryError) Error() string {
	return fmt.Sprintf("veld: multiple @Primary producers for %s: [%s]", e.Type, strings.Join(e.Candidates, ", "))
}

// Scope errors (§7 "Scope errors"), raised from Scope.Get.

// NoRequestContextError is raised by the request scope when no request id
// has been set on the context.
type NoRequestContextError struct{}

func (NoRequestContextError) Error() string { return "veld: no request context is active" }

// NoSessionContextError is raised by the session scope when no session id
// has been set on the context.
type NoSessionContextError struct{}

func (NoSessionContextError) Error() string { return "veld: no session context is active" }

// SessionExpiredError is raised when a session's inactivity timeout has
// elapsed.
type SessionExpiredError struct{ SessionID string }

func (e SessionExpiredError) Error() string {
	return fmt.Sprintf("veld: session %q has expired", e.SessionID)
}

// ScopeBeanLimitExceededError is raised when a scope's per-context bean cap
// (or active-context cap) is exceeded.
type ScopeBeanLimitExceededError struct {
	ScopeID string
	Context string
	Limit   int
}

func (e ScopeBeanLimitExceededError) Error() string {
	return fmt.Sprintf("veld: scope %q context %q exceeded its limit of %d beans", e.ScopeID, e.Context, e.Limit)
}

// NoSuchScopeError is raised when a component names a scope id with no
// registered Scope implementation.
type NoSuchScopeError struct{ ScopeID string }

func (e NoSuchScopeError) Error() string {
	return fmt.Sprintf("veld: no scope registered for id %q", e.ScopeID)
}

// LifecycleError wraps a failure from a user lifecycle callback
// (@PostConstruct, @PreDestroy, @OnStart, @OnStop, bean post-processors).
type LifecycleError struct {
	Component string
	Phase     string
	Cause     error
}

func (e LifecycleError) Error() string {
	return fmt.Sprintf("veld: lifecycle error in %s during %s: %v", e.Component, e.Phase, e.Cause)
}

func (e LifecycleError) Unwrap() error { return e.Cause }

// Diagnostic is a single resolver finding, fatal or informational.
type Diagnostic struct {
	Fatal   bool
	Kind    string
	Message string
	Err     error
}

// Diagnostics aggregates every resolver finding from one analysis pass
// before any error is raised to the caller, so tooling can display all
// issues at once rather than stopping at the first (§9 "typed result
// values").
type Diagnostics struct {
	Items []Diagnostic
}

// Add records a diagnostic.
func (d *Diagnostics) Add(fatal bool, kind string, err error) {
	d.Items = append(d.Items, Diagnostic{Fatal: fatal, Kind: kind, Message: err.Error(), Err: err})
}

// HasFatal reports whether any recorded diagnostic is fatal.
func (d *Diagnostics) HasFatal() bool {
	for _, it := range d.Items {
		if it.Fatal {
			return true
		}
	}
	return false
}

// Fatals returns only the fatal diagnostics.
func (d *Diagnostics) Fatals() []Diagnostic {
	var out []Diagnostic
	for _, it := range d.Items {
		if it.Fatal {
			out = append(out, it)
		}
	}
	return out
}

// Error implements error so Diagnostics can be returned directly from Build
// when HasFatal is true.
func (d *Diagnostics) Error() string {
	fatals := d.Fatals()
	parts := make([]string, len(fatals))
	for i, f := range fatals {
		parts[i] = f.Message
	}
	return fmt.Sprintf("veld: boot failed with %d fatal diagnostic(s): %s", len(fatals), strings.Join(parts, "; "))
}
