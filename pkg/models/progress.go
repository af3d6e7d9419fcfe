package models

import (
	"time"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

// Run kinds
const (
	KindProvision = "provision"
	KindTopUp     = "top_up"
)

// Stage is how far a run got. Stages only move forward.
type Stage string

const (
	StageStarted              Stage = "started"
	StageTransactionValidated Stage = "transaction_validated"
	StageMinAmountError       Stage = "min_amount_error" // Refunded, terminal
	StageTransferredToMinter  Stage = "transferred_to_minter"
	StageToppedUp             Stage = "topped_up"
	StageUnitCreated          Stage = "unit_created"
	StageUnitInstalled        Stage = "unit_installed"
	StageEntityRecorded       Stage = "entity_recorded"
	StageDone                 Stage = "done"
)

// validTransitions maps from-stage to allowed to-stages
var validTransitions = map[Stage]map[Stage]bool{
	StageStarted: {
		StageTransactionValidated: true,
	},
	StageTransactionValidated: {
		StageMinAmountError:      true, // amount below minimum, refunded
		StageTransferredToMinter: true,
	},
	StageTransferredToMinter: {
		StageToppedUp: true,
	},
	StageToppedUp: {
		StageUnitCreated: true, // provision
		StageDone:        true, // top_up
	},
	StageUnitCreated: {
		StageUnitInstalled: true,
	},
	StageUnitInstalled: {
		StageEntityRecorded: true,
	},
	StageEntityRecorded: {
		StageDone: true,
	},
	StageMinAmountError: {},
	StageDone:           {},
}

// Progress is the forward-only log of a provision or top-up run, keyed by the
// funding block. Each optional field is set once and never cleared.
type Progress struct {
	Label     string               `json:"label,omitempty"`
	Target    *principal.Principal `json:"target,omitempty"` // top_up only
	StartedAt time.Time            `json:"started_at"`

	ValidatedAmount *uint64              `json:"validated_amount,omitempty"`
	RefundBlock     *uint64              `json:"refund_block,omitempty"`
	ForwardBlock    *uint64              `json:"forward_block,omitempty"`
	Credits         *uint64              `json:"credits,omitempty"`
	CreatedUnit     *principal.Principal `json:"created_unit,omitempty"`
	InstalledUnit   *principal.Principal `json:"installed_unit,omitempty"`
	RecordedAt      *time.Time           `json:"recorded_at,omitempty"`
	Done            bool                 `json:"done"`
}

// NewProvisionProgress starts a provision run
func NewProvisionProgress(now time.Time) Progress {
	return Progress{Label: KindProvision, StartedAt: now}
}

// NewTopUpProgress starts a top-up run for target
func NewTopUpProgress(target principal.Principal, now time.Time) Progress {
	return Progress{Label: KindTopUp, Target: &target, StartedAt: now}
}

// Stage returns the furthest stage the run reached
func (p Progress) Stage() Stage {
	switch {
	case p.Done:
		return StageDone
	case p.RecordedAt != nil:
		return StageEntityRecorded
	case p.InstalledUnit != nil:
		return StageUnitInstalled
	case p.CreatedUnit != nil:
		return StageUnitCreated
	case p.Credits != nil:
		return StageToppedUp
	case p.ForwardBlock != nil:
		return StageTransferredToMinter
	case p.RefundBlock != nil:
		return StageMinAmountError
	case p.ValidatedAmount != nil:
		return StageTransactionValidated
	default:
		return StageStarted
	}
}

// Terminal reports whether no further transition is possible
func (p Progress) Terminal() bool {
	s := p.Stage()
	return s == StageDone || s == StageMinAmountError
}

// Transition is one step of a run, carrying the value that step produced
type Transition struct {
	to     Stage
	amount uint64
	unit   principal.Principal
	at     time.Time
}

func TransactionValidated(amount uint64) Transition {
	return Transition{to: StageTransactionValidated, amount: amount}
}

func MinAmountError(refundBlock uint64) Transition {
	return Transition{to: StageMinAmountError, amount: refundBlock}
}

func TransferredToMinter(block uint64) Transition {
	return Transition{to: StageTransferredToMinter, amount: block}
}

func ToppedUp(credits uint64) Transition {
	return Transition{to: StageToppedUp, amount: credits}
}

func UnitCreated(unit principal.Principal) Transition {
	return Transition{to: StageUnitCreated, unit: unit}
}

func UnitInstalled(unit principal.Principal) Transition {
	return Transition{to: StageUnitInstalled, unit: unit}
}

func EntityRecorded(at time.Time) Transition {
	return Transition{to: StageEntityRecorded, at: at}
}

func Done() Transition {
	return Transition{to: StageDone}
}

// Stage returns the stage the transition leads to
func (t Transition) Stage() Stage {
	return t.to
}

// Apply returns a copy of p with the field for t populated. Transitions that
// skip a stage, repeat one, or do not belong to the run kind are rejected.
func (p Progress) Apply(t Transition) (Progress, error) {
	from := p.Stage()
	if !validTransitions[from][t.to] || !p.allows(from, t.to) {
		return p, apierror.Internal().
			WithMethod("apply_transition").
			WithTag(p.Label).
			WithMessagef("invalid transition from %s to %s", from, t.to)
	}

	switch t.to {
	case StageTransactionValidated:
		p.ValidatedAmount = uint64Ptr(t.amount)
	case StageMinAmountError:
		p.RefundBlock = uint64Ptr(t.amount)
	case StageTransferredToMinter:
		p.ForwardBlock = uint64Ptr(t.amount)
	case StageToppedUp:
		p.Credits = uint64Ptr(t.amount)
	case StageUnitCreated:
		unit := t.unit
		p.CreatedUnit = &unit
	case StageUnitInstalled:
		unit := t.unit
		p.InstalledUnit = &unit
	case StageEntityRecorded:
		at := t.at
		p.RecordedAt = &at
	case StageDone:
		p.Done = true
	}
	return p, nil
}

func (p Progress) allows(from, to Stage) bool {
	switch p.Label {
	case KindTopUp:
		// Top-ups never create units and skip the minimum amount gate
		return to != StageUnitCreated && to != StageMinAmountError
	case KindProvision:
		return !(from == StageToppedUp && to == StageDone)
	default:
		return true
	}
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}
