package slack

import "github.com/Strob0t/OnboardForge/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(hook notifier.Webhook) (notifier.Notifier, error) {
		if err := notifier.ValidateWebhook(hook.URL); err != nil {
			return nil, err
		}
		return NewNotifier(hook.URL), nil
	})
}
