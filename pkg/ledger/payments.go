package ledger

import (
	"context"
	"errors"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

// MemoTopUp tags transfers to the minter as a top-up of the destination
// encoded in the subaccount
const MemoTopUp uint64 = 1347768404 // "TPUP"

// Fees applied to inbound payments, in e8s
type Fees struct {
	Network uint64 `yaml:"network" env:"NETWORK"` // charged by the ledger per transfer
	Service uint64 `yaml:"service" env:"SERVICE"` // retained for the service beneficiary
}

// DefaultFees are the production fee values
var DefaultFees = Fees{
	Network: 10_000,
	Service: 10_000_000,
}

// Payments validates inbound transfers and moves value out of this system's
// ledger account
type Payments struct {
	client Client
	self   principal.Principal
	minter principal.Principal
	fees   Fees
}

// NewPayments creates the payment client. self is the principal owning the
// receiving account; minter is the minting authority.
func NewPayments(client Client, self, minter principal.Principal, fees Fees) *Payments {
	return &Payments{client: client, self: self, minter: minter, fees: fees}
}

// Fees returns the configured fees
func (p *Payments) Fees() Fees {
	return p.fees
}

// ValidateTransfer checks that block records a transfer from the caller's
// canonical account to this system's canonical account and returns the
// amount moved.
func (p *Payments) ValidateTransfer(ctx context.Context, caller principal.Principal, block uint64) (uint64, error) {
	b, err := p.fetchBlock(ctx, block)
	if err != nil {
		return 0, err
	}

	op := b.Transaction.Operation
	if op == nil {
		return 0, apierror.NotFound().WithMethod("validate_transfer").WithMessage("Transaction not found")
	}
	if op.Type != OperationTransfer {
		return 0, apierror.Unsupported().
			WithMethod("validate_transfer").
			WithInfo(op.Type).
			WithMessage("Not a transfer")
	}
	if op.From == nil || *op.From != principal.CanonicalAccount(caller) {
		return 0, apierror.BadRequest().
			WithMethod("validate_transfer").
			WithMessage("Transaction not from the given principal")
	}
	if op.To == nil || *op.To != principal.CanonicalAccount(p.self) {
		return 0, apierror.BadRequest().
			WithMethod("validate_transfer").
			WithMessage("Transaction not to the given principal")
	}
	return op.Amount, nil
}

// fetchBlock reads one block from the live window, following the archive
// range that covers it when the block has been moved out
func (p *Payments) fetchBlock(ctx context.Context, index uint64) (*Block, error) {
	args := GetBlocksArgs{Start: index, Length: 1}

	resp, err := p.client.QueryBlocks(ctx, args)
	if err != nil {
		return nil, transportError("validate_transfer", err)
	}
	if len(resp.Blocks) > 0 {
		if resp.FirstBlockIndex != index {
			return nil, apierror.Internal().
				WithMethod("validate_transfer").
				WithMessagef("ledger returned block %d for query %d", resp.FirstBlockIndex, index)
		}
		return &resp.Blocks[0], nil
	}

	for _, archived := range resp.ArchivedBlocks {
		if !archived.Contains(index) {
			continue
		}
		blocks, err := p.client.QueryArchivedBlocks(ctx, archived.Endpoint, args)
		if err != nil {
			return nil, transportError("validate_transfer", err)
		}
		if len(blocks) > 0 {
			return &blocks[0], nil
		}
		break
	}

	return nil, apierror.NotFound().
		WithMethod("validate_transfer").
		WithMessagef("Block %d not found", index)
}

// ForwardPayment sends amount less the service fee to the minter account
// tagged with destination, so the minter credits destination. The network
// fee is charged on top by the ledger and comes out of the retained service
// fee.
func (p *Payments) ForwardPayment(ctx context.Context, amount uint64, destination principal.Principal) (uint64, error) {
	if amount <= p.fees.Service {
		return 0, apierror.BadRequest().
			WithMethod("forward_payment").
			WithMessagef("amount %d does not cover the service fee %d", amount, p.fees.Service)
	}

	return p.transfer(ctx, "forward_payment", TransferArgs{
		Memo:   MemoTopUp,
		Amount: amount - p.fees.Service,
		Fee:    p.fees.Network,
		To:     principal.AccountOf(p.minter, principal.SubaccountFrom(destination)),
	})
}

// Refund returns amount less the network fee to recipient's canonical account
func (p *Payments) Refund(ctx context.Context, amount uint64, recipient principal.Principal) (uint64, error) {
	if amount <= p.fees.Network {
		return 0, apierror.BadRequest().
			WithMethod("refund").
			WithMessagef("amount %d does not cover the network fee %d", amount, p.fees.Network)
	}

	return p.transfer(ctx, "refund", TransferArgs{
		Memo:   0,
		Amount: amount - p.fees.Network,
		Fee:    p.fees.Network,
		To:     principal.CanonicalAccount(recipient),
	})
}

func (p *Payments) transfer(ctx context.Context, method string, args TransferArgs) (uint64, error) {
	block, err := p.client.Transfer(ctx, args)
	var rejected *TransferError
	if errors.As(err, &rejected) {
		return 0, apierror.BadRequest().
			WithMethod(method).
			WithTag(rejected.Code).
			WithMessage(rejected.Message)
	}
	if err != nil {
		return 0, transportError(method, err)
	}
	return block, nil
}

func transportError(method string, err error) error {
	return apierror.Internal().WithMethod(method).WithTag("ledger").WithMessage(err.Error())
}
