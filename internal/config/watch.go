package config

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig enables live-reload of the config file: any key read through
// an accessor at call time (extraction_engine, metadata_enrichment_mode,
// and the other per-request config lookups) picks up an edited value
// without a restart. Values only read once at process startup (e.g.
// provider_profile, baked into cmd/corpusd's provider map) still need one.
// A no-op if Initialize never loaded a config file. Safe to call once,
// after Initialize; viper's WatchConfig runs its own fsnotify.Watcher
// internally and re-reads the file on every write.
func WatchConfig(logger *log.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := validate(); err != nil {
			logger.Printf("config: reloaded %s but new values are invalid, fix and save again: %v", e.Name, err)
			return
		}
		logger.Printf("config: reloaded %s", e.Name)
	})
	v.WatchConfig()
}
