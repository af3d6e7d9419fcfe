package models

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/principal"
)

func mustApply(t *testing.T, p Progress, tr Transition) Progress {
	t.Helper()
	next, err := p.Apply(tr)
	if err != nil {
		t.Fatalf("Apply(%s) from %s failed: %v", tr.Stage(), p.Stage(), err)
	}
	return next
}

func TestProvisionRunReachesDone(t *testing.T) {
	unit, _ := principal.FromBytes([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x30, 0x00, 0x01, 0x01, 0x01})
	now := time.Now().UTC()

	steps := []Transition{
		TransactionValidated(200_000_000),
		TransferredToMinter(43),
		ToppedUp(5_000_000_000_000),
		UnitCreated(unit),
		UnitInstalled(unit),
		EntityRecorded(now),
		Done(),
	}

	p := NewProvisionProgress(now)
	for _, step := range steps {
		prev := p
		p = mustApply(t, p, step)
		if p.Stage() != step.Stage() {
			t.Errorf("Expected stage %s, got %s", step.Stage(), p.Stage())
		}
		if prev.Stage() == p.Stage() {
			t.Errorf("Transition to %s did not advance", step.Stage())
		}
	}

	if *p.ForwardBlock != 43 || *p.Credits != 5_000_000_000_000 || *p.InstalledUnit != unit {
		t.Errorf("Unexpected progress fields: %+v", p)
	}
	if !p.Terminal() {
		t.Error("Done run must be terminal")
	}
}

func TestTopUpRunSkipsUnitCreation(t *testing.T) {
	target, _ := principal.FromBytes([]byte{0x09})
	p := NewTopUpProgress(target, time.Now())

	p = mustApply(t, p, TransactionValidated(1))
	p = mustApply(t, p, TransferredToMinter(2))
	p = mustApply(t, p, ToppedUp(3))

	if _, err := p.Apply(UnitCreated(target)); err == nil {
		t.Error("Top-up must not create a unit")
	}
	p = mustApply(t, p, Done())
	if p.Stage() != StageDone {
		t.Errorf("Expected done, got %s", p.Stage())
	}
}

func TestProvisionCannotFinishEarly(t *testing.T) {
	p := NewProvisionProgress(time.Now())
	p = mustApply(t, p, TransactionValidated(1))
	p = mustApply(t, p, TransferredToMinter(2))
	p = mustApply(t, p, ToppedUp(3))

	if _, err := p.Apply(Done()); !apierror.IsKind(err, apierror.KindInternal) {
		t.Errorf("Expected Internal for premature done, got %v", err)
	}
}

func TestOutOfOrderTransitionsRejected(t *testing.T) {
	tests := []struct {
		name  string
		setup []Transition
		next  Transition
	}{
		{"skip validation", nil, TransferredToMinter(1)},
		{"repeat validation", []Transition{TransactionValidated(1)}, TransactionValidated(2)},
		{"refund after forward", []Transition{TransactionValidated(1), TransferredToMinter(2)}, MinAmountError(3)},
		{"anything after refund", []Transition{TransactionValidated(1), MinAmountError(2)}, TransferredToMinter(3)},
		{"done from started", nil, Done()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvisionProgress(time.Now())
			for _, s := range tt.setup {
				p = mustApply(t, p, s)
			}
			before := p
			after, err := p.Apply(tt.next)
			if err == nil {
				t.Fatalf("Expected transition to %s from %s to fail", tt.next.Stage(), p.Stage())
			}
			if !reflect.DeepEqual(before, after) {
				t.Error("Rejected transition must not modify the record")
			}
		})
	}
}

func TestApplyDoesNotMutateReceiver(t *testing.T) {
	p := NewProvisionProgress(time.Now())
	next := mustApply(t, p, TransactionValidated(10))
	if p.ValidatedAmount != nil {
		t.Error("Apply modified the original record")
	}
	if next.ValidatedAmount == nil || *next.ValidatedAmount != 10 {
		t.Error("Apply did not set the validated amount")
	}
}

func TestMinAmountErrorIsTerminal(t *testing.T) {
	p := NewProvisionProgress(time.Now())
	p = mustApply(t, p, TransactionValidated(50_000_000))
	p = mustApply(t, p, MinAmountError(8))

	if p.Stage() != StageMinAmountError || !p.Terminal() {
		t.Errorf("Expected terminal min amount error, got %s", p.Stage())
	}
	if *p.RefundBlock != 8 {
		t.Errorf("Expected refund block 8, got %d", *p.RefundBlock)
	}
}

func TestRecordsRoundTripThroughJSON(t *testing.T) {
	now := time.Now().UTC().Round(0)
	owner := principal.MustFromText("2vxsx-fae")
	unit, _ := principal.FromBytes([]byte{0x01, 0x02})

	p := NewProvisionProgress(now)
	p = mustApply(t, p, TransactionValidated(200_000_000))
	p = mustApply(t, p, TransferredToMinter(43))
	p = mustApply(t, p, ToppedUp(5_000_000_000_000))
	p = mustApply(t, p, UnitCreated(unit))

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded Progress
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(p, decoded) {
		t.Errorf("Progress round trip mismatch:\n%+v\n%+v", p, decoded)
	}

	o := NewOwnership(unit, owner, 42, 43, "dao", now)
	data, _ = json.Marshal(o)
	var decodedOwnership Ownership
	if err := json.Unmarshal(data, &decodedOwnership); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(o, decodedOwnership) {
		t.Errorf("Ownership round trip mismatch:\n%+v\n%+v", o, decodedOwnership)
	}
}
