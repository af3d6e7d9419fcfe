package models

import (
	"fmt"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/principal"
)

// Ownership records who created and who administers a provisioned unit
type Ownership struct {
	Unit         principal.Principal `json:"unit"`
	CreatedBy    principal.Principal `json:"created_by"`
	Owner        principal.Principal `json:"owner"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	FundingBlock uint64              `json:"funding_block"` // Ledger block that paid for the unit
	MintingBlock uint64              `json:"minting_block"` // Block forwarded to the minter
	GroupTag     string              `json:"group_tag,omitempty"`
}

// NewOwnership builds the record written when provisioning completes. The
// creator is also the first owner.
func NewOwnership(unit, creator principal.Principal, fundingBlock, mintingBlock uint64, groupTag string, now time.Time) Ownership {
	return Ownership{
		Unit:         unit,
		CreatedBy:    creator,
		Owner:        creator,
		CreatedAt:    now,
		UpdatedAt:    now,
		FundingBlock: fundingBlock,
		MintingBlock: mintingBlock,
		GroupTag:     groupTag,
	}
}

// Validate checks the record invariants
func (o Ownership) Validate() error {
	if o.Unit.IsAnonymous() || o.Unit == (principal.Principal{}) {
		return fmt.Errorf("unit id must not be empty or anonymous")
	}
	if o.Owner.IsAnonymous() {
		return fmt.Errorf("owner of %s must not be anonymous", o.Unit)
	}
	if o.UpdatedAt.Before(o.CreatedAt) {
		return fmt.Errorf("updated_at precedes created_at for %s", o.Unit)
	}
	return nil
}

// IsOwner reports whether p currently administers the unit
func (o Ownership) IsOwner(p principal.Principal) bool {
	return o.Owner == p
}

// WithOwner returns a copy owned by p. UpdatedAt never moves backwards.
func (o Ownership) WithOwner(p principal.Principal, now time.Time) Ownership {
	o.Owner = p
	if now.After(o.UpdatedAt) {
		o.UpdatedAt = now
	}
	return o
}

// OwnershipTransfer is one confirmed change of owner
type OwnershipTransfer struct {
	Unit principal.Principal `json:"unit"`
	From principal.Principal `json:"from"`
	To   principal.Principal `json:"to"`
	At   time.Time           `json:"at"`
}
