package provision

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/store"
	"github.com/psantana5/unit-provisioner/pkg/tracing"
)

// TransferOwnership hands unit to newOwner. The unit itself is asked first;
// the local record changes only after it confirmed, and always to the owner
// it confirmed.
func (s *Service) TransferOwnership(ctx context.Context, caller, unit, newOwner principal.Principal) (models.Ownership, error) {
	if err := NotAnonymous()(caller); err != nil {
		return models.Ownership{}, err
	}
	if newOwner.IsAnonymous() || newOwner == (principal.Principal{}) {
		return models.Ownership{}, apierror.BadRequest().
			WithMethod("transfer_ownership").
			WithMessage("New owner must not be anonymous")
	}

	record, err := s.stores.Units.Get(unit)
	if err != nil {
		return models.Ownership{}, err
	}
	if !record.IsOwner(caller) {
		return models.Ownership{}, apierror.Unauthorized().
			WithMethod("transfer_ownership").
			WithMessage("Only the current owner can transfer a unit")
	}

	ctx, span := s.tracer.StartSpan(ctx, "provision.TransferOwnership",
		attribute.String("unit", unit.String()),
		attribute.String("new_owner", newOwner.String()),
	)
	updated, err := s.transferOwnership(ctx, record, newOwner)
	tracing.EndSpan(span, err)
	return updated, err
}

func (s *Service) transferOwnership(ctx context.Context, record models.Ownership, newOwner principal.Principal) (models.Ownership, error) {
	var confirmed principal.Principal
	err := s.observe(ctx, "units", "set_owner", func(ctx context.Context) (err error) {
		confirmed, err = s.units.SetOwner(ctx, record.Unit, newOwner)
		return err
	})
	if err != nil {
		s.logger.Error("Unit rejected owner change", map[string]interface{}{
			"unit":       record.Unit.String(),
			"error_kind": apierror.KindOf(err),
			"error":      err.Error(),
		})
		return record, err
	}
	if confirmed.IsAnonymous() || confirmed == (principal.Principal{}) {
		return record, apierror.Internal().
			WithMethod("transfer_ownership").
			WithMessagef("Unit %s did not confirm an owner", record.Unit)
	}

	now := s.now()
	updated := record.WithOwner(confirmed, now)
	if _, err := s.stores.Units.Update(record.Unit, updated); err != nil {
		return record, err
	}
	_, _, err = store.InsertGenerated(s.stores.Transfers, models.OwnershipTransfer{
		Unit: record.Unit,
		From: record.Owner,
		To:   confirmed,
		At:   now,
	})
	if err != nil {
		// The record already reflects the remote owner, only history is missing
		s.logger.Warn("Failed to append ownership history", map[string]interface{}{
			"unit":  record.Unit.String(),
			"error": err.Error(),
		})
	}

	s.logger.Info("Ownership transferred", map[string]interface{}{
		"unit": record.Unit.String(),
		"from": record.Owner.String(),
		"to":   confirmed.String(),
	})
	return updated, nil
}

// ListUnits returns every ownership record ordered by unit
func (s *Service) ListUnits() ([]models.Ownership, error) {
	entries, err := s.stores.Units.GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]models.Ownership, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out, nil
}

// GetUnit returns the ownership record of unit
func (s *Service) GetUnit(unit principal.Principal) (models.Ownership, error) {
	return s.stores.Units.Get(unit)
}

// UnitsOwnedBy returns the records currently administered by owner
func (s *Service) UnitsOwnedBy(owner principal.Principal) ([]models.Ownership, error) {
	entries, err := s.stores.Units.Filter(func(_ principal.Principal, o models.Ownership) bool {
		return o.IsOwner(owner)
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Ownership, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out, nil
}

// Run is a progress record with its funding block
type Run struct {
	FundingBlock uint64       `json:"funding_block"`
	Stage        models.Stage `json:"stage"`
	Finished     bool         `json:"finished"` // no further step will run
	models.Progress
}

func newRun(ref uint64, p models.Progress) Run {
	return Run{FundingBlock: ref, Stage: p.Stage(), Finished: p.Terminal(), Progress: p}
}

// ListRuns returns every progress record ordered by funding block
func (s *Service) ListRuns() ([]Run, error) {
	entries, err := s.stores.Runs.GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(entries))
	for _, e := range entries {
		out = append(out, newRun(e.Key, e.Value))
	}
	return out, nil
}

// GetRun returns the progress record funded by ref
func (s *Service) GetRun(ref uint64) (Run, error) {
	p, err := s.stores.Runs.Get(ref)
	if err != nil {
		return Run{}, err
	}
	return newRun(ref, p), nil
}

// TransferHistory lists the confirmed owner changes of unit, oldest first
func (s *Service) TransferHistory(unit principal.Principal) ([]models.OwnershipTransfer, error) {
	entries, err := s.stores.Transfers.Filter(func(_ uint64, t models.OwnershipTransfer) bool {
		return t.Unit == unit
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.OwnershipTransfer, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out, nil
}

// MinimumRequiredAmount returns the smallest payment Provision accepts right now
func (s *Service) MinimumRequiredAmount(ctx context.Context) (uint64, error) {
	var minimum uint64
	err := s.observe(ctx, "minter", "minimum_required_amount", func(ctx context.Context) (err error) {
		minimum, err = s.conversion.MinimumRequiredAmount(ctx)
		return err
	})
	return minimum, err
}
