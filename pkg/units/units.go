// Package units talks to the mechanism that creates managed units, installs
// code into them and forwards owner changes to a running unit.
package units

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/remote"
)

// CreateArgs describes a new unit
type CreateArgs struct {
	Credits     uint64                `json:"credits"`
	Controllers []principal.Principal `json:"controllers"`
}

// InstallArgs are handed to the installed code at install time and cannot be
// changed afterwards
type InstallArgs struct {
	Owner    principal.Principal   `json:"owner"`
	Owners   []principal.Principal `json:"owners"`
	Relay    string                `json:"relay,omitempty"`
	GroupTag string                `json:"group_tag,omitempty"`
}

// Manager is the boundary to unit creation and installation
type Manager interface {
	CreateUnit(ctx context.Context, args CreateArgs) (principal.Principal, error)
	// InstallCode returns the identity of the installed unit
	InstallCode(ctx context.Context, unit principal.Principal, image []byte, args InstallArgs) (principal.Principal, error)
	// SetOwner asks the unit itself to change owner and returns the owner it confirmed
	SetOwner(ctx context.Context, unit, newOwner principal.Principal) (principal.Principal, error)
}

// HTTPManager drives units through a JSON API
type HTTPManager struct {
	remote *remote.Client
}

// NewHTTPManager creates a manager for the API at baseURL
func NewHTTPManager(baseURL string, timeout time.Duration) *HTTPManager {
	return &HTTPManager{remote: remote.NewClient(baseURL, timeout)}
}

func (m *HTTPManager) CreateUnit(ctx context.Context, args CreateArgs) (principal.Principal, error) {
	var resp struct {
		Unit principal.Principal `json:"unit"`
	}
	if err := m.remote.Post(ctx, "/units", args, &resp); err != nil {
		return principal.Principal{}, mapError("create_unit", err)
	}
	return resp.Unit, nil
}

func (m *HTTPManager) InstallCode(ctx context.Context, unit principal.Principal, image []byte, args InstallArgs) (principal.Principal, error) {
	req := struct {
		Image []byte      `json:"image"`
		Args  InstallArgs `json:"args"`
	}{image, args}
	var resp struct {
		Unit principal.Principal `json:"unit"`
	}
	if err := m.remote.Post(ctx, "/units/"+unit.String()+"/install", req, &resp); err != nil {
		return principal.Principal{}, mapError("install_code", err)
	}
	return resp.Unit, nil
}

func (m *HTTPManager) SetOwner(ctx context.Context, unit, newOwner principal.Principal) (principal.Principal, error) {
	req := struct {
		Owner principal.Principal `json:"owner"`
	}{newOwner}
	var resp struct {
		Owner principal.Principal `json:"owner"`
	}
	if err := m.remote.Post(ctx, "/units/"+unit.String()+"/owner", req, &resp); err != nil {
		return principal.Principal{}, mapError("set_owner", err)
	}
	return resp.Owner, nil
}

func mapError(method string, err error) error {
	var rejection *remote.Rejection
	if errors.As(err, &rejection) {
		return apierror.BadRequest().
			WithMethod(method).
			WithTag(rejection.Code).
			WithMessage(rejection.Message)
	}
	return apierror.Internal().WithMethod(method).WithTag("units").WithMessage(err.Error())
}
