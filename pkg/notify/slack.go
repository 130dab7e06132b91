// Package notify fans remediation events out to operators. The Slack
// notifier subscribes to the event broker and posts one message per
// noteworthy event; delivery is best-effort and never blocks recovery.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pipeheal/pipeheal/pkg/events"
	"github.com/pipeheal/pipeheal/pkg/log"
)

// SlackNotifier posts remediation events to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	broker     *events.Broker
	sub        events.Subscriber
	stopCh     chan struct{}
}

// NewSlackNotifier creates a notifier for the given webhook URL
func NewSlackNotifier(webhookURL string, broker *events.Broker) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL is required")
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		broker:     broker,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start subscribes to the broker and begins posting
func (n *SlackNotifier) Start() {
	n.sub = n.broker.Subscribe()
	go n.run()
}

// Stop unsubscribes and stops the notifier
func (n *SlackNotifier) Stop() {
	close(n.stopCh)
	n.broker.Unsubscribe(n.sub)
}

func (n *SlackNotifier) run() {
	for {
		select {
		case event, ok := <-n.sub:
			if !ok {
				return
			}
			if text := formatEvent(event); text != "" {
				n.post(text)
			}
		case <-n.stopCh:
			return
		}
	}
}

// formatEvent renders an event as a Slack message; events not worth a
// ping return an empty string
func formatEvent(event *events.Event) string {
	ticket := event.Metadata["ticket_id"]
	errorType := event.Metadata["error_type"]

	switch event.Type {
	case events.EventRecoverySucceeded:
		return fmt.Sprintf(":white_check_mark: Auto-remediation succeeded for *%s* (ticket %s): %s", errorType, ticket, event.Message)
	case events.EventRecoveryFailed:
		return fmt.Sprintf(":x: Auto-remediation failed for *%s* (ticket %s): %s", errorType, ticket, event.Message)
	case events.EventBreakerOpened:
		return fmt.Sprintf(":rotating_light: %s", event.Message)
	case events.EventTicketCreated:
		return fmt.Sprintf(":ticket: %s", event.Message)
	default:
		// attempt-level events are too chatty for a channel
		return ""
	}
}

func (n *SlackNotifier) post(text string) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return
	}

	notifyLogger := log.WithComponent("notify")
	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		notifyLogger.Warn().Err(err).Msg("slack post failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		notifyLogger.Warn().
			Int("status", resp.StatusCode).
			Msg("slack rejected notification")
	}
}
