package notify

import (
	"github.com/lupppig/sqlbackup/internal/config"
)

// BuildNotifier returns the configured channels, or nil when none is set up.
func BuildNotifier(cfg *config.Config) Notifier {
	n := cfg.Notifications
	var notifiers []Notifier

	if n.Email.Enabled && n.Email.Host != "" && len(n.Email.Recipients) > 0 {
		notifiers = append(notifiers, &EmailNotifier{
			Host:       n.Email.Host,
			Port:       n.Email.Port,
			User:       n.Email.User,
			Password:   n.Email.Password,
			From:       n.Email.From,
			StartTLS:   n.Email.StartTLS,
			Recipients: n.Email.Recipients,
		})
	}

	if n.WhatsApp.Enabled && n.WhatsApp.GatewayURL != "" && len(n.WhatsApp.Recipients) > 0 {
		notifiers = append(notifiers, NewWhatsAppNotifier(n.WhatsApp.GatewayURL, n.WhatsApp.Token, n.WhatsApp.Recipients))
	}

	if n.Slack.WebhookURL != "" {
		notifiers = append(notifiers, NewSlackNotifier(n.Slack.WebhookURL, n.Slack.Template))
	}

	for _, w := range n.Webhooks {
		if w.URL != "" {
			notifiers = append(notifiers, NewWebhookNotifier(w.URL, w.Method, w.Template, w.Headers))
		}
	}

	var out Notifier
	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		out = notifiers[0]
	default:
		out = &MultiNotifier{Notifiers: notifiers}
	}
	if n.NotifyOn == config.NotifyFailure {
		out = failureOnly{out}
	}
	return out
}
