package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/remote"
)

// Client is the boundary to the payment ledger
type Client interface {
	QueryBlocks(ctx context.Context, args GetBlocksArgs) (*QueryBlocksResponse, error)
	// QueryArchivedBlocks reads from the archive at endpoint
	QueryArchivedBlocks(ctx context.Context, endpoint string, args GetBlocksArgs) ([]Block, error)
	// Transfer returns the new block index, or a *TransferError when the
	// ledger refuses the transfer
	Transfer(ctx context.Context, args TransferArgs) (uint64, error)
}

// HTTPClient speaks the ledger's JSON API
type HTTPClient struct {
	remote  *remote.Client
	timeout time.Duration
}

// NewHTTPClient creates a client for the ledger at baseURL
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{remote: remote.NewClient(baseURL, timeout), timeout: timeout}
}

func (c *HTTPClient) QueryBlocks(ctx context.Context, args GetBlocksArgs) (*QueryBlocksResponse, error) {
	var resp QueryBlocksResponse
	if err := c.remote.Post(ctx, "/query_blocks", args, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) QueryArchivedBlocks(ctx context.Context, endpoint string, args GetBlocksArgs) ([]Block, error) {
	var resp struct {
		Blocks []Block `json:"blocks"`
	}
	archive := remote.NewClient(archiveURL(c.remote.BaseURL(), endpoint), c.timeout)
	if err := archive.Post(ctx, "/query_blocks", args, &resp); err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, args TransferArgs) (uint64, error) {
	var resp TransferResult
	err := c.remote.Post(ctx, "/transfer", args, &resp)
	var rejection *remote.Rejection
	if errors.As(err, &rejection) {
		return 0, &TransferError{Code: rejection.Code, Message: rejection.Message}
	}
	if err != nil {
		return 0, err
	}
	return resp.BlockIndex, nil
}

// archiveURL resolves a relative archive endpoint against the ledger root
func archiveURL(base, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
