// Package provision drives paid unit provisioning and top-ups end to end and
// owns the ownership records of the units it created.
//
// Every run is keyed by the ledger block that funded it. The run's progress
// record is written before the first external call and updated after each
// one, so a failed or interrupted run shows exactly how far the funds moved.
package provision

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/logging"
	"github.com/psantana5/unit-provisioner/pkg/metrics"
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/relay"
	"github.com/psantana5/unit-provisioner/pkg/tracing"
	"github.com/psantana5/unit-provisioner/pkg/units"
)

// Payments is the ledger side of a run
type Payments interface {
	ValidateTransfer(ctx context.Context, caller principal.Principal, block uint64) (uint64, error)
	ForwardPayment(ctx context.Context, amount uint64, destination principal.Principal) (uint64, error)
	Refund(ctx context.Context, amount uint64, recipient principal.Principal) (uint64, error)
}

// Conversion is the minter side of a run
type Conversion interface {
	ConvertToResourceCredits(ctx context.Context, block uint64, destination principal.Principal) (uint64, error)
	MinimumRequiredAmount(ctx context.Context) (uint64, error)
}

// Notifier delivers relay notifications without reporting back
type Notifier interface {
	Send(ctx context.Context, note relay.Notification)
}

// Config holds the identities the service acts with
type Config struct {
	// Self is this service's own principal. Payments arrive at its account and
	// it controls every unit it creates.
	Self        principal.Principal
	Maintainers []principal.Principal
}

// Dependencies are the collaborators of a Service. Metrics and Tracer are
// optional.
type Dependencies struct {
	Stores     *Stores
	Payments   Payments
	Conversion Conversion
	Units      units.Manager
	Notifier   Notifier
	Logger     *logging.Logger
	Metrics    *metrics.Recorder
	Tracer     *tracing.Provider
	Clock      func() time.Time
}

// Service is the provisioning orchestrator
type Service struct {
	self        principal.Principal
	maintainers map[principal.Principal]bool

	stores     *Stores
	payments   Payments
	conversion Conversion
	units      units.Manager
	notifier   Notifier
	logger     *logging.Logger
	metrics    *metrics.Recorder
	tracer     *tracing.Provider
	now        func() time.Time
}

// NewService creates the orchestrator
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if cfg.Self.IsAnonymous() {
		return nil, fmt.Errorf("self principal must not be anonymous")
	}
	if deps.Stores == nil || deps.Payments == nil || deps.Conversion == nil || deps.Units == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("stores, payments, conversion, units and notifier are required")
	}

	s := &Service{
		self:        cfg.Self,
		maintainers: make(map[principal.Principal]bool, len(cfg.Maintainers)),
		stores:      deps.Stores,
		payments:    deps.Payments,
		conversion:  deps.Conversion,
		units:       deps.Units,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		now:         deps.Clock,
	}
	for _, m := range cfg.Maintainers {
		s.maintainers[m] = true
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.tracer == nil {
		s.tracer = tracing.Noop("provisioner")
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Self returns the service's own principal
func (s *Service) Self() principal.Principal {
	return s.self
}

// ProvisionRequest funds and configures a new unit
type ProvisionRequest struct {
	FundingBlock uint64                `json:"funding_block"`
	Owners       []principal.Principal `json:"owners"`
	GroupTag     string                `json:"group_tag,omitempty"`
}

// Provision turns the caller's payment at req.FundingBlock into a new unit
// and returns the installed unit's principal.
func (s *Service) Provision(ctx context.Context, caller principal.Principal, req ProvisionRequest) (principal.Principal, error) {
	var none principal.Principal
	if err := NotAnonymous()(caller); err != nil {
		return none, err
	}
	if err := validateOwners(req.Owners); err != nil {
		return none, err
	}
	image, err := s.stores.UnitImage.Get()
	if err != nil || len(image) == 0 {
		return none, apierror.Internal().
			WithMethod("provision").
			WithTag("not initialized").
			WithMessage("No unit image uploaded")
	}

	ctx, span := s.tracer.StartSpan(ctx, "provision.Provision",
		attribute.Int64("funding_block", int64(req.FundingBlock)),
		attribute.String("caller", caller.String()),
	)
	unit, err := s.provision(ctx, caller, req, image)
	tracing.EndSpan(span, err)
	if err != nil {
		s.metrics.Failure(models.KindProvision, err)
	}
	return unit, err
}

func (s *Service) provision(ctx context.Context, caller principal.Principal, req ProvisionRequest, image []byte) (principal.Principal, error) {
	var none principal.Principal
	ref := req.FundingBlock

	progress, err := s.start(ref, models.NewProvisionProgress(s.now()))
	if err != nil {
		return none, err
	}

	var amount uint64
	err = s.observe(ctx, "ledger", "validate_transfer", func(ctx context.Context) (err error) {
		amount, err = s.payments.ValidateTransfer(ctx, caller, ref)
		return err
	})
	if err != nil {
		return none, s.stuck(ref, progress, err)
	}
	if progress, err = s.advance(ref, progress, models.TransactionValidated(amount)); err != nil {
		return none, err
	}

	var minimum uint64
	err = s.observe(ctx, "minter", "minimum_required_amount", func(ctx context.Context) (err error) {
		minimum, err = s.conversion.MinimumRequiredAmount(ctx)
		return err
	})
	if err != nil {
		return none, s.stuck(ref, progress, err)
	}

	if amount < minimum {
		var refundBlock uint64
		err = s.observe(ctx, "ledger", "refund", func(ctx context.Context) (err error) {
			refundBlock, err = s.payments.Refund(ctx, amount, caller)
			return err
		})
		if err != nil {
			return none, s.stuck(ref, progress, err)
		}
		if _, err = s.advance(ref, progress, models.MinAmountError(refundBlock)); err != nil {
			return none, err
		}
		return none, apierror.InsufficientBalance().
			WithMethod("provision").
			WithMessagef("Amount %d is below the minimum of %d, refunded in block %d", amount, minimum, refundBlock)
	}

	// Installed units keep the relay address, so it is read before any value moves
	relayAddr, err := s.Relay()
	if err != nil {
		return none, s.stuck(ref, progress, err)
	}

	forwardBlock, credits, progress, err := s.fund(ctx, ref, progress, amount, s.self)
	if err != nil {
		return none, err
	}

	var created principal.Principal
	err = s.observe(ctx, "units", "create_unit", func(ctx context.Context) (err error) {
		created, err = s.units.CreateUnit(ctx, units.CreateArgs{
			Credits:     credits,
			Controllers: []principal.Principal{s.self},
		})
		return err
	})
	if err == nil {
		err = confirmedUnit("create_unit", created)
	}
	if err != nil {
		return none, s.stuck(ref, progress, err)
	}
	if progress, err = s.advance(ref, progress, models.UnitCreated(created)); err != nil {
		return none, err
	}

	var installed principal.Principal
	err = s.observe(ctx, "units", "install_code", func(ctx context.Context) (err error) {
		installed, err = s.units.InstallCode(ctx, created, image, units.InstallArgs{
			Owner:    caller,
			Owners:   req.Owners,
			Relay:    relayAddr,
			GroupTag: req.GroupTag,
		})
		return err
	})
	if err == nil {
		err = confirmedUnit("install_code", installed)
	}
	if err != nil {
		return none, s.stuck(ref, progress, err)
	}
	if progress, err = s.advance(ref, progress, models.UnitInstalled(installed)); err != nil {
		return none, err
	}

	now := s.now()
	record := models.NewOwnership(installed, caller, ref, forwardBlock, req.GroupTag, now)
	if err = record.Validate(); err != nil {
		return none, s.stuck(ref, progress, apierror.Internal().
			WithMethod("provision").
			WithMessage(err.Error()))
	}
	if _, err = s.stores.Units.Upsert(installed, record); err != nil {
		return none, err
	}
	if progress, err = s.advance(ref, progress, models.EntityRecorded(now)); err != nil {
		return none, err
	}
	if _, err = s.advance(ref, progress, models.Done()); err != nil {
		return none, err
	}

	s.logger.Info("Unit provisioned", map[string]interface{}{
		"funding_block": ref,
		"unit":          installed.String(),
		"owner":         caller.String(),
		"group_tag":     req.GroupTag,
	})
	return installed, nil
}

// TopUpRequest funds an existing unit
type TopUpRequest struct {
	FundingBlock uint64              `json:"funding_block"`
	Unit         principal.Principal `json:"unit"`
}

// TopUp converts the caller's payment at req.FundingBlock into credits for
// an existing unit. Any validated amount is forwarded.
func (s *Service) TopUp(ctx context.Context, caller principal.Principal, req TopUpRequest) (models.Progress, error) {
	if err := NotAnonymous()(caller); err != nil {
		return models.Progress{}, err
	}
	known, err := s.stores.Units.Contains(req.Unit)
	if err != nil {
		return models.Progress{}, err
	}
	if !known {
		return models.Progress{}, apierror.NotFound().
			WithMethod("top_up").
			WithMessagef("Unit %s is not managed here", req.Unit)
	}

	ctx, span := s.tracer.StartSpan(ctx, "provision.TopUp",
		attribute.Int64("funding_block", int64(req.FundingBlock)),
		attribute.String("unit", req.Unit.String()),
	)
	progress, err := s.topUp(ctx, caller, req)
	tracing.EndSpan(span, err)
	if err != nil {
		s.metrics.Failure(models.KindTopUp, err)
	}
	return progress, err
}

func (s *Service) topUp(ctx context.Context, caller principal.Principal, req TopUpRequest) (models.Progress, error) {
	ref := req.FundingBlock

	progress, err := s.start(ref, models.NewTopUpProgress(req.Unit, s.now()))
	if err != nil {
		return progress, err
	}

	var amount uint64
	err = s.observe(ctx, "ledger", "validate_transfer", func(ctx context.Context) (err error) {
		amount, err = s.payments.ValidateTransfer(ctx, caller, ref)
		return err
	})
	if err != nil {
		return progress, s.stuck(ref, progress, err)
	}
	if progress, err = s.advance(ref, progress, models.TransactionValidated(amount)); err != nil {
		return progress, err
	}

	_, _, progress, err = s.fund(ctx, ref, progress, amount, req.Unit)
	if err != nil {
		return progress, err
	}
	if progress, err = s.advance(ref, progress, models.Done()); err != nil {
		return progress, err
	}

	s.logger.Info("Unit topped up", map[string]interface{}{
		"funding_block": ref,
		"unit":          req.Unit.String(),
		"credits":       *progress.Credits,
	})
	return progress, nil
}

// fund forwards amount to the minter on behalf of destination and converts
// it to credits, recording both steps
func (s *Service) fund(ctx context.Context, ref uint64, progress models.Progress, amount uint64, destination principal.Principal) (uint64, uint64, models.Progress, error) {
	var forwardBlock uint64
	err := s.observe(ctx, "ledger", "forward_payment", func(ctx context.Context) (err error) {
		forwardBlock, err = s.payments.ForwardPayment(ctx, amount, destination)
		return err
	})
	if err != nil {
		return 0, 0, progress, s.stuck(ref, progress, err)
	}
	if progress, err = s.advance(ref, progress, models.TransferredToMinter(forwardBlock)); err != nil {
		return 0, 0, progress, err
	}

	var credits uint64
	err = s.observe(ctx, "minter", "notify_top_up", func(ctx context.Context) (err error) {
		credits, err = s.conversion.ConvertToResourceCredits(ctx, forwardBlock, destination)
		return err
	})
	if err != nil {
		return forwardBlock, 0, progress, s.stuck(ref, progress, err)
	}
	if progress, err = s.advance(ref, progress, models.ToppedUp(credits)); err != nil {
		return forwardBlock, 0, progress, err
	}
	return forwardBlock, credits, progress, nil
}

// start writes the first progress record of a run. The insert is atomic, so
// only one run can ever claim a funding block.
func (s *Service) start(ref uint64, progress models.Progress) (models.Progress, error) {
	if _, err := s.stores.Runs.InsertByKey(ref, progress); err != nil {
		if apierror.IsKind(err, apierror.KindDuplicate) {
			return progress, apierror.Duplicate().
				WithMethod(progress.Label).
				WithMessagef("duplicate funding reference %d", ref)
		}
		return progress, err
	}
	s.metrics.Stage(progress.Label, string(models.StageStarted))
	s.logger.Info("Run started", map[string]interface{}{
		"funding_block": ref,
		"kind":          progress.Label,
		"stage":         models.StageStarted,
	})
	return progress, nil
}

// advance applies t and persists the result before anything else happens
func (s *Service) advance(ref uint64, progress models.Progress, t models.Transition) (models.Progress, error) {
	next, err := progress.Apply(t)
	if err != nil {
		return progress, err
	}
	if _, err := s.stores.Runs.Update(ref, next); err != nil {
		return progress, err
	}

	s.metrics.Stage(next.Label, string(t.Stage()))
	s.logger.Info("Run advanced", map[string]interface{}{
		"funding_block": ref,
		"kind":          next.Label,
		"stage":         t.Stage(),
	})
	return next, nil
}

// stuck logs where a run stopped and hands err back unchanged
func (s *Service) stuck(ref uint64, progress models.Progress, err error) error {
	s.logger.Error("Run stopped", map[string]interface{}{
		"funding_block": ref,
		"kind":          progress.Label,
		"stage":         progress.Stage(),
		"error_kind":    apierror.KindOf(err),
		"error":         err.Error(),
	})
	return err
}

// confirmedUnit rejects a unit id the unit manager failed to supply
func confirmedUnit(method string, unit principal.Principal) error {
	if unit.IsAnonymous() || unit == (principal.Principal{}) {
		return apierror.Internal().
			WithMethod(method).
			WithMessage("Unit manager returned no unit id")
	}
	return nil
}

// observe runs one external call inside a span and records its latency
func (s *Service) observe(ctx context.Context, target, operation string, call func(context.Context) error) error {
	ctx, span := s.tracer.StartSpan(ctx, target+"."+operation)
	start := time.Now()
	err := call(ctx)
	s.metrics.ObserveCall(target, operation, start, err)
	tracing.EndSpan(span, err)
	return err
}

func validateOwners(owners []principal.Principal) error {
	if len(owners) < 2 {
		return apierror.BadRequest().
			WithMethod("provision").
			WithMessage("At least two owners are required")
	}
	seen := make(map[principal.Principal]bool, len(owners))
	for _, o := range owners {
		if seen[o] {
			return apierror.BadRequest().
				WithMethod("provision").
				WithMessagef("Duplicate owner %s", o)
		}
		seen[o] = true
	}
	return nil
}
