package provision

import (
	"context"
	"net/url"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/relay"
)

// SeedUnit records an existing unit without a funded run. The maintainer
// becomes its creator and owner.
func (s *Service) SeedUnit(caller, unit principal.Principal, groupTag string) (models.Ownership, error) {
	if err := All(NotAnonymous(), s.Maintainer())(caller); err != nil {
		return models.Ownership{}, err
	}
	if unit.IsAnonymous() || unit == (principal.Principal{}) {
		return models.Ownership{}, apierror.BadRequest().
			WithMethod("seed_unit").
			WithMessage("Unit must not be anonymous")
	}

	record := models.NewOwnership(unit, caller, 0, 0, groupTag, s.now())
	stored, err := s.stores.Units.InsertByKey(unit, record)
	if err != nil {
		return models.Ownership{}, err
	}

	s.logger.Info("Unit seeded", map[string]interface{}{
		"unit":       unit.String(),
		"maintainer": caller.String(),
	})
	return stored, nil
}

// SetRelay points notifications at addr. It takes effect for the next
// notification and for units installed afterwards.
func (s *Service) SetRelay(caller principal.Principal, addr string) (string, error) {
	if err := All(NotAnonymous(), s.Maintainer())(caller); err != nil {
		return "", err
	}
	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apierror.BadRequest().
			WithMethod("set_relay").
			WithMessagef("Invalid relay address %q", addr)
	}

	stored, err := s.stores.Relay.Set(u.String())
	if err != nil {
		return "", err
	}
	s.logger.Info("Relay address updated", map[string]interface{}{
		"relay": stored,
	})
	return stored, nil
}

// Relay returns the configured relay address, empty when none was set
func (s *Service) Relay() (string, error) {
	addr, err := s.stores.Relay.Get()
	if err != nil {
		if apierror.From(err).Tag == "not initialized" {
			return "", nil
		}
		return "", err
	}
	return addr, nil
}

// UploadImage replaces the code installed into new units
func (s *Service) UploadImage(caller principal.Principal, image []byte) error {
	if err := All(NotAnonymous(), s.Maintainer())(caller); err != nil {
		return err
	}
	if len(image) == 0 {
		return apierror.BadRequest().
			WithMethod("upload_image").
			WithMessage("Unit image is empty")
	}
	if _, err := s.stores.UnitImage.Set(image); err != nil {
		return err
	}
	s.logger.Info("Unit image uploaded", map[string]interface{}{
		"bytes": len(image),
	})
	return nil
}

// NotifyRequest asks the relay to inform receivers about a unit event
type NotifyRequest struct {
	Receivers  []principal.Principal `json:"receivers"`
	ProposalID *uint64               `json:"proposal_id,omitempty"`
	GroupTag   string                `json:"group_tag,omitempty"`
}

// Notify forwards an event raised by a managed unit to the relay. Only
// units created or seeded here may notify. Delivery is not confirmed and
// never affects the result.
func (s *Service) Notify(ctx context.Context, caller principal.Principal, event relay.Event, req NotifyRequest) error {
	if err := All(NotAnonymous(), s.KnownUnit())(caller); err != nil {
		return err
	}
	if _, ok := relay.ParseEvent(string(event)); !ok {
		return apierror.BadRequest().
			WithMethod("notify").
			WithMessagef("Unknown event %q", event)
	}
	if event.RequiresProposal() && req.ProposalID == nil {
		return apierror.BadRequest().
			WithMethod("notify").
			WithMessagef("Event %s requires a proposal id", event)
	}

	s.notifier.Send(ctx, relay.Notification{
		Event:      event,
		Receivers:  req.Receivers,
		Sender:     caller,
		ProposalID: req.ProposalID,
		GroupTag:   req.GroupTag,
	})
	return nil
}
