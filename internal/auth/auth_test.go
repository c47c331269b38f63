package auth

import (
	"errors"
	"testing"
)

func TestStaticAuthorizer(t *testing.T) {
	a := NewStaticAuthorizer(map[Principal][]Capability{
		"ops":   {CapabilityExecutor},
		"admin": {CapabilityExecutor, CapabilityAdmin},
	})

	if err := a.Require("ops", CapabilityExecutor); err != nil {
		t.Errorf("ops should hold executor: %v", err)
	}
	if err := a.Require("ops", CapabilityAdmin); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := a.Require("unknown", CapabilityExecutor); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("unknown principal: expected ErrUnauthorized, got %v", err)
	}
	if err := a.Require("admin", CapabilityAdmin); err != nil {
		t.Errorf("admin should hold admin: %v", err)
	}
}

func TestAllowAll(t *testing.T) {
	if err := (AllowAll{}).Require("anyone", CapabilityAdmin); err != nil {
		t.Errorf("AllowAll must grant everything: %v", err)
	}
}
