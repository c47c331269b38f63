// Package auth gates mutating entry points behind explicit capabilities.
// Capabilities are a closed enum checked by the calling context, not
// string-keyed roles resolved at runtime.
package auth

import (
	"errors"
	"fmt"
)

// Capability is a permission required by a mutating entry point.
type Capability int

// Capabilities.
const (
	// CapabilityExecutor may run epoch execution and distribution.
	CapabilityExecutor Capability = iota

	// CapabilityDataAccess may feed payment events into the ledger.
	CapabilityDataAccess

	// CapabilityAdmin may change configuration and override epoch scores.
	CapabilityAdmin
)

// String returns the capability name.
func (c Capability) String() string {
	switch c {
	case CapabilityExecutor:
		return "executor"
	case CapabilityDataAccess:
		return "data_access"
	case CapabilityAdmin:
		return "admin"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Principal identifies a caller.
type Principal string

// ErrUnauthorized is returned when a principal lacks the capability.
var ErrUnauthorized = errors.New("unauthorized")

// Authorizer decides whether a principal holds a capability.
type Authorizer interface {
	// Require returns ErrUnauthorized (wrapped) unless p holds c.
	Require(p Principal, c Capability) error
}

// StaticAuthorizer grants capabilities from a fixed map.
type StaticAuthorizer struct {
	grants map[Principal]map[Capability]struct{}
}

// NewStaticAuthorizer creates an authorizer from principal → capabilities.
func NewStaticAuthorizer(grants map[Principal][]Capability) *StaticAuthorizer {
	a := &StaticAuthorizer{grants: make(map[Principal]map[Capability]struct{}, len(grants))}
	for p, caps := range grants {
		set := make(map[Capability]struct{}, len(caps))
		for _, c := range caps {
			set[c] = struct{}{}
		}
		a.grants[p] = set
	}
	return a
}

// Require implements Authorizer.
func (a *StaticAuthorizer) Require(p Principal, c Capability) error {
	if set, ok := a.grants[p]; ok {
		if _, ok := set[c]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, p, c)
}

// AllowAll grants every capability to every principal, for tests and
// single-operator deployments.
type AllowAll struct{}

// Require implements Authorizer.
func (AllowAll) Require(_ Principal, _ Capability) error { return nil }

// Compile-time interface checks.
var (
	_ Authorizer = (*StaticAuthorizer)(nil)
	_ Authorizer = AllowAll{}
)
