package provision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/ledger"
	"github.com/psantana5/unit-provisioner/pkg/logging"
	"github.com/psantana5/unit-provisioner/pkg/models"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/relay"
	"github.com/psantana5/unit-provisioner/pkg/store"
	"github.com/psantana5/unit-provisioner/pkg/units"
)

func mustPrincipal(t *testing.T, b ...byte) principal.Principal {
	t.Helper()
	p, err := principal.FromBytes(b)
	require.NoError(t, err)
	return p
}

type fakePayments struct {
	mu        sync.Mutex
	amounts   map[uint64]uint64
	nextBlock uint64

	entered chan struct{} // closed when ValidateTransfer is first called
	release chan struct{} // ValidateTransfer waits on it when set

	forwardErr error
	forwards   []principal.Principal
	refunds    []uint64
}

func (f *fakePayments) ValidateTransfer(ctx context.Context, _ principal.Principal, block uint64) (uint64, error) {
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	amount, ok := f.amounts[block]
	if !ok {
		return 0, apierror.NotFound().WithMessage("Transaction not found")
	}
	return amount, nil
}

func (f *fakePayments) ForwardPayment(_ context.Context, amount uint64, destination principal.Principal) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forwardErr != nil {
		return 0, f.forwardErr
	}
	f.forwards = append(f.forwards, destination)
	f.nextBlock++
	return f.nextBlock, nil
}

func (f *fakePayments) Refund(_ context.Context, amount uint64, _ principal.Principal) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, amount)
	f.nextBlock++
	return f.nextBlock, nil
}

type fakeConversion struct {
	minimum    uint64
	credits    uint64
	convertErr error
}

func (f *fakeConversion) ConvertToResourceCredits(context.Context, uint64, principal.Principal) (uint64, error) {
	return f.credits, f.convertErr
}

func (f *fakeConversion) MinimumRequiredAmount(context.Context) (uint64, error) {
	return f.minimum, nil
}

type fakeUnits struct {
	mu        sync.Mutex
	next      principal.Principal
	createErr error
	created   []units.CreateArgs
	installed []units.InstallArgs

	installAs *principal.Principal // overrides the id InstallCode answers with

	setOwnerErr error
	confirm     *principal.Principal // overrides the confirmed owner
}

func (f *fakeUnits) CreateUnit(_ context.Context, args units.CreateArgs) (principal.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return principal.Principal{}, f.createErr
	}
	f.created = append(f.created, args)
	return f.next, nil
}

func (f *fakeUnits) InstallCode(_ context.Context, unit principal.Principal, _ []byte, args units.InstallArgs) (principal.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, args)
	if f.installAs != nil {
		return *f.installAs, nil
	}
	return unit, nil
}

func (f *fakeUnits) SetOwner(_ context.Context, _ principal.Principal, newOwner principal.Principal) (principal.Principal, error) {
	if f.setOwnerErr != nil {
		return principal.Principal{}, f.setOwnerErr
	}
	if f.confirm != nil {
		return *f.confirm, nil
	}
	return newOwner, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []relay.Notification
}

func (f *fakeNotifier) Send(_ context.Context, note relay.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
}

type harness struct {
	svc        *Service
	stores     *Stores
	payments   *fakePayments
	conversion *fakeConversion
	units      *fakeUnits
	notifier   *fakeNotifier

	self, maintainer, caller, unit principal.Principal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, store.NewMemoryBackend())
}

// newHarnessOn builds a service on backend. opts may replace dependencies
// before the service is created.
func newHarnessOn(t *testing.T, backend store.Backend, opts ...func(*harness, *Dependencies)) *harness {
	t.Helper()

	stores, err := OpenStores(backend)
	require.NoError(t, err)

	h := &harness{
		stores:     stores,
		payments:   &fakePayments{amounts: map[uint64]uint64{}, nextBlock: 42},
		conversion: &fakeConversion{minimum: 150_000_000, credits: 5_000_000_000_000},
		notifier:   &fakeNotifier{},
		self:       mustPrincipal(t, 0xaa, 0x01),
		maintainer: mustPrincipal(t, 0xbb, 0x01),
		caller:     mustPrincipal(t, 0xcc, 0x01),
		unit:       mustPrincipal(t, 0xdd, 0x01),
	}
	h.units = &fakeUnits{next: h.unit}

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	deps := Dependencies{
		Stores:     stores,
		Payments:   h.payments,
		Conversion: h.conversion,
		Units:      h.units,
		Notifier:   h.notifier,
		Logger:     logging.Discard(),
		Clock: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}
	for _, opt := range opts {
		opt(h, &deps)
	}
	h.svc, err = NewService(Config{
		Self:        h.self,
		Maintainers: []principal.Principal{h.maintainer},
	}, deps)
	require.NoError(t, err)

	require.NoError(t, h.svc.UploadImage(h.maintainer, []byte("\x00asm")))
	return h
}

func (h *harness) owners(t *testing.T) []principal.Principal {
	return []principal.Principal{h.caller, mustPrincipal(t, 0xcc, 0x02)}
}

func TestProvisionEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.payments.amounts[42] = 200_000_000
	_, err := h.svc.SetRelay(h.maintainer, "https://relay.example.com")
	require.NoError(t, err)

	unit, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{
		FundingBlock: 42,
		Owners:       h.owners(t),
		GroupTag:     "3",
	})
	require.NoError(t, err)
	assert.Equal(t, h.unit, unit)

	run, err := h.svc.GetRun(42)
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, run.Stage)
	assert.True(t, run.Finished)
	assert.Equal(t, models.KindProvision, run.Label)
	assert.Equal(t, uint64(200_000_000), *run.ValidatedAmount)
	assert.Equal(t, uint64(43), *run.ForwardBlock)
	assert.Equal(t, uint64(5_000_000_000_000), *run.Credits)
	assert.Equal(t, h.unit, *run.CreatedUnit)
	assert.Equal(t, h.unit, *run.InstalledUnit)
	assert.NotNil(t, run.RecordedAt)
	assert.Nil(t, run.RefundBlock)

	record, err := h.svc.GetUnit(unit)
	require.NoError(t, err)
	assert.Equal(t, h.caller, record.CreatedBy)
	assert.Equal(t, h.caller, record.Owner)
	assert.Equal(t, "3", record.GroupTag)
	assert.Equal(t, uint64(42), record.FundingBlock)
	assert.Equal(t, uint64(43), record.MintingBlock)

	// Funds go to the minter on behalf of the service, which controls the unit
	assert.Equal(t, []principal.Principal{h.self}, h.payments.forwards)
	require.Len(t, h.units.created, 1)
	assert.Equal(t, []principal.Principal{h.self}, h.units.created[0].Controllers)
	assert.Equal(t, uint64(5_000_000_000_000), h.units.created[0].Credits)
	require.Len(t, h.units.installed, 1)
	assert.Equal(t, h.caller, h.units.installed[0].Owner)
	assert.Equal(t, h.owners(t), h.units.installed[0].Owners)
	assert.Equal(t, "https://relay.example.com", h.units.installed[0].Relay)
}

func TestProvisionBelowMinimumRefunds(t *testing.T) {
	h := newHarness(t)
	h.payments.amounts[7] = 50_000_000

	_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{
		FundingBlock: 7,
		Owners:       h.owners(t),
	})
	require.Error(t, err)
	assert.Equal(t, apierror.KindInsufficientBalance, apierror.KindOf(err))
	assert.Contains(t, err.Error(), "150000000")

	run, err := h.svc.GetRun(7)
	require.NoError(t, err)
	assert.Equal(t, models.StageMinAmountError, run.Stage)
	require.NotNil(t, run.RefundBlock)
	assert.Equal(t, uint64(43), *run.RefundBlock)
	assert.Nil(t, run.ForwardBlock)
	assert.False(t, run.Done)
	assert.True(t, run.Finished)

	assert.Equal(t, []uint64{50_000_000}, h.payments.refunds)
	assert.Empty(t, h.units.created)
	records, err := h.svc.ListUnits()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProvisionAtMinimumProceeds(t *testing.T) {
	h := newHarness(t)
	h.payments.amounts[9] = 150_000_000

	_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 9, Owners: h.owners(t)})
	require.NoError(t, err)
	assert.Empty(t, h.payments.refunds)
}

func TestProvisionValidatesOwners(t *testing.T) {
	h := newHarness(t)
	a := mustPrincipal(t, 0x01)
	b := mustPrincipal(t, 0x02)

	tests := []struct {
		name   string
		owners []principal.Principal
	}{
		{"empty", nil},
		{"single", []principal.Principal{a}},
		{"duplicate", []principal.Principal{a, b, a}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 1, Owners: tt.owners})
			assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))
		})
	}

	// Nothing was claimed by the rejected calls
	ok, err := h.stores.Runs.Contains(1)
	require.NoError(t, err)
	assert.False(t, ok)

	// Two distinct owners get through to transfer validation
	_, err = h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 1, Owners: []principal.Principal{a, b}})
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
}

func TestProvisionRejectsAnonymous(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Provision(context.Background(), principal.Anonymous, ProvisionRequest{FundingBlock: 1, Owners: h.owners(t)})
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))
}

func TestProvisionWithoutImage(t *testing.T) {
	stores, err := OpenStores(store.NewMemoryBackend())
	require.NoError(t, err)
	svc, err := NewService(Config{Self: mustPrincipal(t, 0xaa)}, Dependencies{
		Stores:     stores,
		Payments:   &fakePayments{},
		Conversion: &fakeConversion{},
		Units:      &fakeUnits{},
		Notifier:   &fakeNotifier{},
	})
	require.NoError(t, err)

	_, err = svc.Provision(context.Background(), mustPrincipal(t, 0x01), ProvisionRequest{
		FundingBlock: 1,
		Owners:       []principal.Principal{mustPrincipal(t, 0x01), mustPrincipal(t, 0x02)},
	})
	assert.Equal(t, apierror.KindInternal, apierror.KindOf(err))
}

func TestDuplicateFundingReference(t *testing.T) {
	h := newHarness(t)
	h.payments.amounts[42] = 200_000_000
	h.payments.entered = make(chan struct{})
	h.payments.release = make(chan struct{})
	entered := h.payments.entered
	owners := h.owners(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 42, Owners: owners})
		done <- err
	}()

	// The first run is suspended in the ledger call and already holds the key
	<-entered
	_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 42, Owners: h.owners(t)})
	assert.Equal(t, apierror.KindDuplicate, apierror.KindOf(err))

	_, err = h.svc.TopUp(context.Background(), h.caller, TopUpRequest{FundingBlock: 42, Unit: h.unit})
	// The unit does not exist yet
	assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))

	close(h.payments.release)
	require.NoError(t, <-done)

	_, err = h.svc.TopUp(context.Background(), h.caller, TopUpRequest{FundingBlock: 42, Unit: h.unit})
	assert.Equal(t, apierror.KindDuplicate, apierror.KindOf(err))
	assert.Len(t, h.units.created, 1)
}

func TestFailedStepLeavesProgress(t *testing.T) {
	h := newHarness(t)
	h.payments.amounts[42] = 200_000_000
	h.units.createErr = apierror.BadRequest().WithMessage("out of capacity")

	_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 42, Owners: h.owners(t)})
	require.Error(t, err)
	assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))
	assert.Contains(t, err.Error(), "out of capacity")

	run, err := h.svc.GetRun(42)
	require.NoError(t, err)
	assert.Equal(t, models.StageToppedUp, run.Stage)
	assert.NotNil(t, run.ForwardBlock)
	assert.NotNil(t, run.Credits)
	assert.Nil(t, run.CreatedUnit)
	assert.False(t, run.Done)
}

func TestTopUp(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SeedUnit(h.maintainer, h.unit, "")
	require.NoError(t, err)
	// Top-ups skip the minimum amount gate
	h.payments.amounts[100] = 1_000

	progress, err := h.svc.TopUp(context.Background(), h.caller, TopUpRequest{FundingBlock: 100, Unit: h.unit})
	require.NoError(t, err)
	assert.True(t, progress.Done)
	assert.Equal(t, models.KindTopUp, progress.Label)
	assert.Equal(t, h.unit, *progress.Target)
	assert.Nil(t, progress.CreatedUnit)
	assert.Equal(t, []principal.Principal{h.unit}, h.payments.forwards)
	assert.Empty(t, h.units.created)

	stored, err := h.svc.GetRun(100)
	require.NoError(t, err)
	assert.Equal(t, models.StageDone, stored.Stage)
}

func TestTopUpForwardRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SeedUnit(h.maintainer, h.unit, "")
	require.NoError(t, err)
	h.payments.amounts[100] = 1_000
	h.payments.forwardErr = apierror.BadRequest().WithTag("InsufficientFunds")

	_, err = h.svc.TopUp(context.Background(), h.caller, TopUpRequest{FundingBlock: 100, Unit: h.unit})
	assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))

	run, err := h.svc.GetRun(100)
	require.NoError(t, err)
	assert.Equal(t, models.StageTransactionValidated, run.Stage)
}

func TestTransferOwnership(t *testing.T) {
	h := newHarness(t)
	h.payments.amounts[42] = 200_000_000
	unit, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 42, Owners: h.owners(t)})
	require.NoError(t, err)
	newOwner := mustPrincipal(t, 0xee)

	t.Run("only the owner", func(t *testing.T) {
		_, err := h.svc.TransferOwnership(context.Background(), newOwner, unit, newOwner)
		assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))
	})

	t.Run("unknown unit", func(t *testing.T) {
		_, err := h.svc.TransferOwnership(context.Background(), h.caller, mustPrincipal(t, 0x77), newOwner)
		assert.Equal(t, apierror.KindNotFound, apierror.KindOf(err))
	})

	t.Run("remote failure keeps the owner", func(t *testing.T) {
		h.units.setOwnerErr = apierror.Internal().WithMessage("unit unreachable")
		defer func() { h.units.setOwnerErr = nil }()

		_, err := h.svc.TransferOwnership(context.Background(), h.caller, unit, newOwner)
		assert.Equal(t, apierror.KindInternal, apierror.KindOf(err))

		record, err := h.svc.GetUnit(unit)
		require.NoError(t, err)
		assert.Equal(t, h.caller, record.Owner)
	})

	t.Run("records the confirmed owner", func(t *testing.T) {
		confirmed := mustPrincipal(t, 0xef)
		h.units.confirm = &confirmed
		defer func() { h.units.confirm = nil }()

		before, err := h.svc.GetUnit(unit)
		require.NoError(t, err)

		updated, err := h.svc.TransferOwnership(context.Background(), h.caller, unit, newOwner)
		require.NoError(t, err)
		assert.Equal(t, confirmed, updated.Owner)
		assert.Equal(t, h.caller, updated.CreatedBy)
		assert.True(t, updated.UpdatedAt.After(before.UpdatedAt))

		history, err := h.svc.TransferHistory(unit)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, h.caller, history[0].From)
		assert.Equal(t, confirmed, history[0].To)

		owned, err := h.svc.UnitsOwnedBy(confirmed)
		require.NoError(t, err)
		assert.Len(t, owned, 1)
	})
}

func TestAdminGuards(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SeedUnit(h.caller, h.unit, "")
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))
	_, err = h.svc.SetRelay(h.caller, "https://relay.example.com")
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(h.svc.UploadImage(principal.Anonymous, []byte{1})))

	_, err = h.svc.SetRelay(h.maintainer, "relay.example.com")
	assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))
	assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(h.svc.UploadImage(h.maintainer, nil)))

	record, err := h.svc.SeedUnit(h.maintainer, h.unit, "7")
	require.NoError(t, err)
	assert.Equal(t, h.maintainer, record.Owner)
	assert.Equal(t, uint64(0), record.FundingBlock)

	_, err = h.svc.SeedUnit(h.maintainer, h.unit, "7")
	assert.Equal(t, apierror.KindDuplicate, apierror.KindOf(err))
}

func TestNotify(t *testing.T) {
	h := newHarness(t)
	receiver := mustPrincipal(t, 0x10)
	id := uint64(5)

	err := h.svc.Notify(context.Background(), h.unit, relay.EventNewProposal, NotifyRequest{Receivers: []principal.Principal{receiver}, ProposalID: &id})
	assert.Equal(t, apierror.KindUnauthorized, apierror.KindOf(err))

	_, err = h.svc.SeedUnit(h.maintainer, h.unit, "")
	require.NoError(t, err)

	err = h.svc.Notify(context.Background(), h.unit, relay.EventNewProposal, NotifyRequest{Receivers: []principal.Principal{receiver}})
	assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))

	err = h.svc.Notify(context.Background(), h.unit, relay.Event("proposal_delete"), NotifyRequest{})
	assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))

	require.NoError(t, h.svc.Notify(context.Background(), h.unit, relay.EventNewProposal, NotifyRequest{
		Receivers:  []principal.Principal{receiver},
		ProposalID: &id,
		GroupTag:   "3",
	}))
	require.NoError(t, h.svc.Notify(context.Background(), h.unit, relay.EventWhitelistNotice, NotifyRequest{
		Receivers: []principal.Principal{receiver},
	}))

	require.Len(t, h.notifier.notes, 2)
	assert.Equal(t, h.unit, h.notifier.notes[0].Sender)
	assert.Equal(t, uint64(5), *h.notifier.notes[0].ProposalID)
	assert.Nil(t, h.notifier.notes[1].ProposalID)
}

func TestMinimumRequiredAmount(t *testing.T) {
	h := newHarness(t)
	minimum, err := h.svc.MinimumRequiredAmount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000_000), minimum)
}

func TestProvisionRejectsMissingUnitID(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		h := newHarness(t)
		h.payments.amounts[42] = 200_000_000
		h.units.next = principal.Principal{}

		_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 42, Owners: h.owners(t)})
		assert.Equal(t, apierror.KindInternal, apierror.KindOf(err))

		run, err := h.svc.GetRun(42)
		require.NoError(t, err)
		assert.Equal(t, models.StageToppedUp, run.Stage)
		assert.False(t, run.Finished)
		assert.Empty(t, h.units.installed)

		records, err := h.svc.ListUnits()
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("install", func(t *testing.T) {
		h := newHarness(t)
		h.payments.amounts[42] = 200_000_000
		anonymous := principal.Anonymous
		h.units.installAs = &anonymous

		_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 42, Owners: h.owners(t)})
		assert.Equal(t, apierror.KindInternal, apierror.KindOf(err))

		run, err := h.svc.GetRun(42)
		require.NoError(t, err)
		assert.Equal(t, models.StageUnitCreated, run.Stage)

		records, err := h.svc.ListUnits()
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

// relayFailingBackend fails reads of the relay partition once fail is set
type relayFailingBackend struct {
	*store.MemoryBackend
	fail bool
}

func (b *relayFailingBackend) Get(id store.PartitionID, key []byte) ([]byte, bool, error) {
	if b.fail && id == store.PartitionRelay {
		return nil, false, errors.New("disk I/O error")
	}
	return b.MemoryBackend.Get(id, key)
}

func TestProvisionStopsWhenRelayUnreadable(t *testing.T) {
	backend := &relayFailingBackend{MemoryBackend: store.NewMemoryBackend()}
	h := newHarnessOn(t, backend)
	h.payments.amounts[42] = 200_000_000
	_, err := h.svc.SetRelay(h.maintainer, "https://relay.example.com")
	require.NoError(t, err)
	backend.fail = true

	_, err = h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 42, Owners: h.owners(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")

	assert.Empty(t, h.payments.forwards)
	assert.Empty(t, h.units.created)
	assert.Empty(t, h.units.installed)

	run, err := h.svc.GetRun(42)
	require.NoError(t, err)
	assert.Equal(t, models.StageTransactionValidated, run.Stage)
}

func TestProvisionWithoutRelayInstallsEmptyAddress(t *testing.T) {
	h := newHarness(t)
	h.payments.amounts[42] = 200_000_000

	_, err := h.svc.Provision(context.Background(), h.caller, ProvisionRequest{FundingBlock: 42, Owners: h.owners(t)})
	require.NoError(t, err)
	require.Len(t, h.units.installed, 1)
	assert.Equal(t, "", h.units.installed[0].Relay)
}

// memoryLedger answers block queries from a map and records transfers
type memoryLedger struct {
	mu        sync.Mutex
	blocks    map[uint64]ledger.Block
	transfers []ledger.TransferArgs
}

func (l *memoryLedger) QueryBlocks(_ context.Context, args ledger.GetBlocksArgs) (*ledger.QueryBlocksResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	resp := &ledger.QueryBlocksResponse{FirstBlockIndex: args.Start}
	if b, ok := l.blocks[args.Start]; ok {
		resp.Blocks = []ledger.Block{b}
	}
	return resp, nil
}

func (l *memoryLedger) QueryArchivedBlocks(context.Context, string, ledger.GetBlocksArgs) ([]ledger.Block, error) {
	return nil, nil
}

func (l *memoryLedger) Transfer(_ context.Context, args ledger.TransferArgs) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transfers = append(l.transfers, args)
	return uint64(1000 + len(l.transfers)), nil
}

func TestTopUpNotCoveringServiceFee(t *testing.T) {
	book := &memoryLedger{blocks: map[uint64]ledger.Block{}}
	h := newHarnessOn(t, store.NewMemoryBackend(), func(h *harness, deps *Dependencies) {
		deps.Payments = ledger.NewPayments(book, h.self, mustPrincipal(t, 0x99), ledger.DefaultFees)
	})
	_, err := h.svc.SeedUnit(h.maintainer, h.unit, "")
	require.NoError(t, err)

	from := principal.CanonicalAccount(h.caller)
	to := principal.CanonicalAccount(h.self)
	for block, amount := range map[uint64]uint64{100: ledger.DefaultFees.Service, 101: ledger.DefaultFees.Service - 1} {
		book.blocks[block] = ledger.Block{Transaction: ledger.Transaction{Operation: &ledger.Operation{
			Type:   ledger.OperationTransfer,
			From:   &from,
			To:     &to,
			Amount: amount,
		}}}

		_, err = h.svc.TopUp(context.Background(), h.caller, TopUpRequest{FundingBlock: block, Unit: h.unit})
		assert.Equal(t, apierror.KindBadRequest, apierror.KindOf(err))

		// The payment stays with the service and nothing is refunded
		run, err := h.svc.GetRun(block)
		require.NoError(t, err)
		assert.Equal(t, models.StageTransactionValidated, run.Stage)
		assert.Equal(t, amount, *run.ValidatedAmount)
		assert.Nil(t, run.RefundBlock)
		assert.False(t, run.Finished)
	}
	assert.Empty(t, book.transfers)
}
