// Package registry resolves adapter names from the config into concrete
// implementations. The core only ever sees the interfaces.
package registry

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/secondbrain-hq/secondbrain/internal/classify"
	"github.com/secondbrain-hq/secondbrain/internal/config"
	"github.com/secondbrain-hq/secondbrain/internal/core"
	"github.com/secondbrain-hq/secondbrain/internal/logging"
	"github.com/secondbrain-hq/secondbrain/internal/notify"
	"github.com/secondbrain-hq/secondbrain/internal/storage"
)

// BuildStorage resolves the storage adapter and opens the backing database.
// "sqlite" is the only built-in; the path setting overrides the default file
// under dataDir.
func BuildStorage(cfg config.AdapterConfig, dataDir string) (*storage.DB, error) {
	switch cfg.Adapter {
	case "", "sqlite":
		path := cfg.Setting("path", filepath.Join(dataDir, "secondbrain.db"))
		return storage.Open(storage.Config{Path: path})
	default:
		return nil, fmt.Errorf("%w: storage %q", core.ErrAdapterUnknown, cfg.Adapter)
	}
}

// BuildCapture resolves the capture adapter. "queue" is the only built-in:
// the SQLite-backed capture queue fed by the CLI and the webhook.
func BuildCapture(cfg config.AdapterConfig, db *storage.DB) (core.Capture, error) {
	switch cfg.Adapter {
	case "", "queue":
		return storage.NewQueueStore(db), nil
	default:
		return nil, fmt.Errorf("%w: capture %q", core.ErrAdapterUnknown, cfg.Adapter)
	}
}

// BuildClassifier resolves the classifier adapter.
func BuildClassifier(cfg config.AdapterConfig) (core.Classifier, error) {
	switch cfg.Adapter {
	case "", "rules":
		return classify.NewRuleClassifier(), nil
	case "remote", "openai":
		timeout, err := settingDuration(cfg, "timeout", 30*time.Second)
		if err != nil {
			return nil, err
		}
		return classify.NewRemoteClassifier(classify.RemoteConfig{
			BaseURL: cfg.Setting("base_url", ""),
			APIKey:  cfg.Setting("api_key", ""),
			Model:   cfg.Setting("model", ""),
			Timeout: timeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: classifier %q", core.ErrAdapterUnknown, cfg.Adapter)
	}
}

// BuildNotifier resolves the notifier adapter.
func BuildNotifier(cfg config.AdapterConfig, logger *logging.Logger) (core.Notifier, error) {
	switch cfg.Adapter {
	case "", "console":
		return notify.NewConsole(logger), nil
	case "chat", "webex":
		baseURL := cfg.Setting("base_url", "https://webexapis.com/v1")
		return notify.NewChat(notify.ChatConfig{
			BaseURL: baseURL,
			Token:   cfg.Setting("token", ""),
			RoomID:  cfg.Setting("room_id", ""),
		}), nil
	default:
		return nil, fmt.Errorf("%w: notifier %q", core.ErrAdapterUnknown, cfg.Adapter)
	}
}

func settingDuration(cfg config.AdapterConfig, key string, fallback time.Duration) (time.Duration, error) {
	raw := cfg.Setting(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s setting %q: %w", key, raw, err)
	}
	return d, nil
}
