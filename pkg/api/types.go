package api

import (
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/provision"
	"github.com/psantana5/unit-provisioner/pkg/upstream"
)

type ProvisionResponse struct {
	Unit principal.Principal `json:"unit"`
}

type MinimumAmountResponse struct {
	Amount uint64 `json:"amount"`
}

type UnitsResponse struct {
	Units []models.Ownership `json:"units"`
	Count int                `json:"count"`
}

type RunsResponse struct {
	Runs  []provision.Run `json:"runs"`
	Count int             `json:"count"`
}

type TransfersResponse struct {
	Transfers []models.OwnershipTransfer `json:"transfers"`
	Count     int                        `json:"count"`
}

type TransferOwnershipRequest struct {
	NewOwner principal.Principal `json:"new_owner"`
}

type SeedUnitRequest struct {
	Unit     principal.Principal `json:"unit"`
	GroupTag string              `json:"group_tag,omitempty"`
}

type RelayRequest struct {
	Address string `json:"address"`
}

// UploadImageRequest carries the image base64 encoded
type UploadImageRequest struct {
	Image []byte `json:"image"`
}

type UploadImageResponse struct {
	Bytes int `json:"bytes"`
}

type WhoAmIResponse struct {
	Principal principal.Principal `json:"principal"`
	Anonymous bool                `json:"anonymous"`
}

// HealthResponse reports service and host state
type HealthResponse struct {
	Status        string            `json:"status"`
	Store         string            `json:"store"`
	Upstreams     []upstream.Status `json:"upstreams,omitempty"`
	MemoryUsedPct float64           `json:"memory_used_percent,omitempty"`
	Load1         float64           `json:"load1,omitempty"`
}
