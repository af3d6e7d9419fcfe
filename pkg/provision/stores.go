package provision

import (
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/store"
)

// Stores groups the durable state of the provisioner. Each store owns one
// partition of the backend.
type Stores struct {
	Units     *store.Map[principal.Principal, models.Ownership]
	Runs      *store.Map[uint64, models.Progress]
	Transfers *store.Map[uint64, models.OwnershipTransfer]
	Relay     *store.Cell[string]
	UnitImage *store.Cell[[]byte]
}

// OpenStores claims the provisioner's partitions on backend
func OpenStores(backend store.Backend) (*Stores, error) {
	units, err := store.NewMap[principal.Principal, models.Ownership](
		backend, store.PartitionUnits, "units", principal.KeyCodec{}, store.JSON[models.Ownership]())
	if err != nil {
		return nil, err
	}
	runs, err := store.NewMap[uint64, models.Progress](
		backend, store.PartitionRuns, "runs", store.Uint64Key{}, store.JSON[models.Progress]())
	if err != nil {
		return nil, err
	}
	transfers, err := store.NewMap[uint64, models.OwnershipTransfer](
		backend, store.PartitionTransfers, "ownership_transfers", store.Uint64Key{}, store.JSON[models.OwnershipTransfer]())
	if err != nil {
		return nil, err
	}
	relayAddr, err := store.NewCell[string](backend, store.PartitionRelay, "relay", store.JSON[string]())
	if err != nil {
		return nil, err
	}
	image, err := store.NewCell[[]byte](backend, store.PartitionUnitImage, "unit_image", store.JSON[[]byte]())
	if err != nil {
		return nil, err
	}

	return &Stores{
		Units:     units,
		Runs:      runs,
		Transfers: transfers,
		Relay:     relayAddr,
		UnitImage: image,
	}, nil
}
