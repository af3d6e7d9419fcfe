package ledger

import (
	"fmt"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/principal"
)

// Operation types recorded in ledger blocks
const (
	OperationTransfer = "transfer"
	OperationMint     = "mint"
	OperationBurn     = "burn"
	OperationApprove  = "approve"
)

// Operation is the value movement a transaction performs. Mints have no
// source and burns have no destination.
type Operation struct {
	Type   string                       `json:"type"`
	From   *principal.AccountIdentifier `json:"from,omitempty"`
	To     *principal.AccountIdentifier `json:"to,omitempty"`
	Amount uint64                       `json:"amount"`
	Fee    uint64                       `json:"fee"`
}

// Transaction is the payload of a block. Operation is nil for blocks that
// carry no value movement.
type Transaction struct {
	Memo          uint64     `json:"memo"`
	Operation     *Operation `json:"operation,omitempty"`
	CreatedAtTime *time.Time `json:"created_at_time,omitempty"`
}

// Block is one entry of the ledger chain
type Block struct {
	ParentHash  string      `json:"parent_hash,omitempty"`
	Transaction Transaction `json:"transaction"`
	Timestamp   time.Time   `json:"timestamp"`
}

// GetBlocksArgs selects a contiguous range of blocks
type GetBlocksArgs struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
}

// ArchivedRange points at an archive holding blocks no longer in the live window
type ArchivedRange struct {
	Start    uint64 `json:"start"`
	Length   uint64 `json:"length"`
	Endpoint string `json:"endpoint"` // Archive base URL
}

// Contains reports whether index falls inside the range
func (r ArchivedRange) Contains(index uint64) bool {
	return r.Start <= index && index-r.Start < r.Length
}

// QueryBlocksResponse is the live ledger's answer to a block query
type QueryBlocksResponse struct {
	ChainLength     uint64          `json:"chain_length"`
	FirstBlockIndex uint64          `json:"first_block_index"`
	Blocks          []Block         `json:"blocks"`
	ArchivedBlocks  []ArchivedRange `json:"archived_blocks"`
}

// TransferArgs describes an outbound transfer from this system's account
type TransferArgs struct {
	Memo           uint64                      `json:"memo"`
	Amount         uint64                      `json:"amount"`
	Fee            uint64                      `json:"fee"`
	FromSubaccount *principal.Subaccount       `json:"from_subaccount,omitempty"`
	To             principal.AccountIdentifier `json:"to"`
	CreatedAtTime  *time.Time                  `json:"created_at_time,omitempty"`
}

// TransferResult is the ledger's answer to a transfer
type TransferResult struct {
	BlockIndex uint64 `json:"block_index"`
}

// TransferError is a transfer the ledger refused
type TransferError struct {
	Code    string `json:"code"` // bad_fee, insufficient_funds, tx_too_old, tx_duplicate, ...
	Message string `json:"message"`
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer rejected (%s): %s", e.Code, e.Message)
}
