package notifier

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"sync"
)

// Webhook is the configuration of one operator channel.
type Webhook struct {
	URL string
}

// Factory builds the notifier for a channel. It returns an error for a webhook
// it cannot post to.
type Factory func(hook Webhook) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a channel available by name. Adapters call it from init.
func Register(channel string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[channel]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", channel))
	}
	factories[channel] = factory
}

// Available returns the registered channel names in sorted order.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open builds a notifier for every channel with a webhook URL. Channels with
// an empty URL are disabled; a URL for an unregistered channel is an error so
// a typo in the config does not silently mute operators.
func Open(hooks map[string]Webhook) ([]Notifier, error) {
	mu.RLock()
	defer mu.RUnlock()

	var out []Notifier
	for _, channel := range slices.Sorted(maps.Keys(hooks)) {
		hook := hooks[channel]
		if hook.URL == "" {
			continue
		}
		factory, ok := factories[channel]
		if !ok {
			return nil, fmt.Errorf("notifier: unknown channel %q", channel)
		}
		n, err := factory(hook)
		if err != nil {
			return nil, fmt.Errorf("notifier %s: %w", channel, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// ValidateWebhook checks that raw is an absolute http(s) URL.
func ValidateWebhook(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("webhook url %q must be an absolute http(s) url", raw)
	}
	return nil
}
