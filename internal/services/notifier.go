package services

import (
	"fmt"
	"log/slog"

	"safeswap/models"

	pubnub "github.com/pubnub/go"
)

// Notifier pushes payment status updates to the buyer's realtime channel so
// the storefront does not have to poll aggressively.
type Notifier interface {
	PublishPaymentUpdate(externalReference string, st models.PaymentStatus, statusDetail string)
}

type pubnubNotifier struct {
	pn *pubnub.PubNub
}

// NewNotifier wraps a PubNub client as a Notifier.
func NewNotifier(pn *pubnub.PubNub) Notifier {
	return &pubnubNotifier{pn: pn}
}

func (n *pubnubNotifier) PublishPaymentUpdate(externalReference string, st models.PaymentStatus, statusDetail string) {
	channel := fmt.Sprintf("checkout-%s", externalReference)

	_, _, err := n.pn.Publish().
		Channel(channel).
		Message(map[string]any{
			"type":               "payment_update",
			"external_reference": externalReference,
			"status":             string(st),
			"status_detail":      statusDetail,
		}).
		Execute()
	if err != nil {
		slog.Error("notifier.PublishPaymentUpdate", "channel", channel, "error", err)
	}
}

// NopNotifier drops every update. Used when PubNub keys are not configured.
type NopNotifier struct{}

func (NopNotifier) PublishPaymentUpdate(string, models.PaymentStatus, string) {}
