package provision

import (
	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

// Guard decides whether caller may enter an operation
type Guard func(caller principal.Principal) error

// All passes only if every guard passes, checked in order
func All(guards ...Guard) Guard {
	return func(caller principal.Principal) error {
		for _, g := range guards {
			if err := g(caller); err != nil {
				return err
			}
		}
		return nil
	}
}

// NotAnonymous rejects unauthenticated callers
func NotAnonymous() Guard {
	return func(caller principal.Principal) error {
		if caller.IsAnonymous() || caller == (principal.Principal{}) {
			return apierror.Unauthorized().WithMessage("Anonymous caller not allowed.")
		}
		return nil
	}
}

// Maintainer admits only the configured maintainers
func (s *Service) Maintainer() Guard {
	return func(caller principal.Principal) error {
		if !s.maintainers[caller] {
			return apierror.Unauthorized().WithMessage("unknown caller")
		}
		return nil
	}
}

// KnownUnit admits only callers that are provisioned units
func (s *Service) KnownUnit() Guard {
	return func(caller principal.Principal) error {
		ok, err := s.stores.Units.Contains(caller)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.Unauthorized().WithMessage("Unknown unit")
		}
		return nil
	}
}
