package minter

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/remote"
)

// ExchangeRate is the minter's current conversion rate
type ExchangeRate struct {
	XDRPermyriadPerICP uint64    `json:"xdr_permyriad_per_icp"`
	Timestamp          time.Time `json:"timestamp"`
}

// NotifyTopUpArgs tells the minter which forwarded block pays for which unit
type NotifyTopUpArgs struct {
	BlockIndex uint64              `json:"block_index"`
	Unit       principal.Principal `json:"unit"`
}

// NotifyError is a notification the minter refused (already processed,
// invalid transaction, refunded, ...)
type NotifyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *NotifyError) Error() string {
	return "notify rejected (" + e.Code + "): " + e.Message
}

// Client is the boundary to the minting authority
type Client interface {
	ExchangeRate(ctx context.Context) (ExchangeRate, error)
	// NotifyTopUp returns the credits granted, or a *NotifyError
	NotifyTopUp(ctx context.Context, args NotifyTopUpArgs) (uint64, error)
}

// HTTPClient speaks the minter's JSON API
type HTTPClient struct {
	remote *remote.Client
}

// NewHTTPClient creates a client for the minter at baseURL
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{remote: remote.NewClient(baseURL, timeout)}
}

func (c *HTTPClient) ExchangeRate(ctx context.Context) (ExchangeRate, error) {
	var rate ExchangeRate
	err := c.remote.Get(ctx, "/exchange_rate", &rate)
	return rate, err
}

func (c *HTTPClient) NotifyTopUp(ctx context.Context, args NotifyTopUpArgs) (uint64, error) {
	var resp struct {
		Credits uint64 `json:"credits"`
	}
	err := c.remote.Post(ctx, "/notify_top_up", args, &resp)
	var rejection *remote.Rejection
	if errors.As(err, &rejection) {
		return 0, &NotifyError{Code: rejection.Code, Message: rejection.Message}
	}
	if err != nil {
		return 0, err
	}
	return resp.Credits, nil
}

// Conversion turns forwarded payments into resource credits
type Conversion struct {
	client      Client
	unitCredits uint64
	serviceFee  uint64
}

// NewConversion creates the conversion client. unitCredits is the credit
// allowance a new unit is created with; serviceFee is added on top of its
// price when computing the minimum inbound amount.
func NewConversion(client Client, unitCredits, serviceFee uint64) *Conversion {
	return &Conversion{client: client, unitCredits: unitCredits, serviceFee: serviceFee}
}

// ConvertToResourceCredits notifies the minter of the forwarded block and
// returns the credits it applied to destination
func (c *Conversion) ConvertToResourceCredits(ctx context.Context, block uint64, destination principal.Principal) (uint64, error) {
	credits, err := c.client.NotifyTopUp(ctx, NotifyTopUpArgs{BlockIndex: block, Unit: destination})
	var rejected *NotifyError
	if errors.As(err, &rejected) {
		return 0, apierror.BadRequest().
			WithMethod("convert_to_resource_credits").
			WithTag(rejected.Code).
			WithMessage(rejected.Message)
	}
	if err != nil {
		return 0, transportError("convert_to_resource_credits", err)
	}
	return credits, nil
}

// MinimumRequiredAmount prices a new unit at the minter's live rate and adds
// the service fee. One e8s buys xdr_permyriad_per_icp credits.
func (c *Conversion) MinimumRequiredAmount(ctx context.Context) (uint64, error) {
	rate, err := c.client.ExchangeRate(ctx)
	if err != nil {
		return 0, transportError("minimum_required_amount", err)
	}
	if rate.XDRPermyriadPerICP == 0 {
		return 0, apierror.Internal().
			WithMethod("minimum_required_amount").
			WithMessage("minter reported a zero exchange rate")
	}

	perE8s := rate.XDRPermyriadPerICP
	price := (c.unitCredits + perE8s - 1) / perE8s
	return price + c.serviceFee, nil
}

func transportError(method string, err error) error {
	return apierror.Internal().WithMethod(method).WithTag("minter").WithMessage(err.Error())
}
