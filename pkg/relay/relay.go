// Package relay forwards unit notifications to a downstream relay. Delivery
// is best effort: nothing is confirmed and failures never reach the caller
// that triggered the notification.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/logging"
	"github.com/psantana5/unit-provisioner/pkg/metrics"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/remote"
)

// Event names a notification kind
type Event string

const (
	EventWhitelistNotice      Event = "whitelist_notice"
	EventNewProposal          Event = "new_proposal"
	EventProposalAccept       Event = "proposal_accept"
	EventProposalDecline      Event = "proposal_decline"
	EventProposalStatusUpdate Event = "proposal_status_update"
)

var events = map[Event]bool{
	EventWhitelistNotice:      true,
	EventNewProposal:          true,
	EventProposalAccept:       true,
	EventProposalDecline:      true,
	EventProposalStatusUpdate: true,
}

// ParseEvent validates an event name
func ParseEvent(s string) (Event, bool) {
	e := Event(s)
	return e, events[e]
}

// RequiresProposal reports whether the event refers to a proposal
func (e Event) RequiresProposal() bool {
	return e != EventWhitelistNotice
}

// Notification is what the relay receives
type Notification struct {
	Event      Event                 `json:"event"`
	Receivers  []principal.Principal `json:"receivers"`
	Sender     principal.Principal   `json:"sender"`
	ProposalID *uint64               `json:"proposal_id,omitempty"`
	GroupTag   string                `json:"group_tag,omitempty"`
}

// AddressSource yields the current relay address
type AddressSource interface {
	Get() (string, error)
}

// Notifier delivers notifications in the background
type Notifier struct {
	address AddressSource
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.Recorder

	wg sync.WaitGroup
}

// NewNotifier creates a notifier reading the relay address from address on
// every send, so address changes apply immediately
func NewNotifier(address AddressSource, timeout time.Duration, logger *logging.Logger, recorder *metrics.Recorder) *Notifier {
	return &Notifier{
		address: address,
		timeout: timeout,
		logger:  logger,
		metrics: recorder,
	}
}

// Send schedules delivery of note and returns immediately. Without a configured
// relay the notification is dropped.
func (n *Notifier) Send(ctx context.Context, note Notification) {
	addr, err := n.address.Get()
	if err != nil && apierror.From(err).Tag != "not initialized" {
		n.metrics.RelayDelivery(string(note.Event), err)
		n.logger.Warn("Failed to read relay address, dropping notification", map[string]interface{}{
			"event": note.Event,
			"error": err.Error(),
		})
		return
	}
	if addr == "" {
		n.logger.Debug("No relay configured, dropping notification", map[string]interface{}{
			"event": note.Event,
		})
		return
	}

	// Delivery outlives the triggering request
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(ctx, addr, note)
	}()
}

func (n *Notifier) deliver(ctx context.Context, addr string, note Notification) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	client := remote.NewClient(addr, 0)
	err := client.Post(ctx, "/notifications/"+string(note.Event), note, nil)
	n.metrics.RelayDelivery(string(note.Event), err)
	if err != nil {
		n.logger.Warn("Relay delivery failed", map[string]interface{}{
			"event": note.Event,
			"relay": addr,
			"error": err.Error(),
		})
		return
	}
	n.logger.Debug("Relay delivery succeeded", map[string]interface{}{
		"event":     note.Event,
		"receivers": len(note.Receivers),
	})
}

// Wait blocks until every scheduled delivery finished or ctx is done
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
