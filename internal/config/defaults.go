package config

import "github.com/spf13/viper"

// SetDefaults declares every configuration default on the given viper
// instance. The root command calls this before reading the config file so
// file and environment values override, never replace, the baseline.
func SetDefaults(v *viper.Viper) {
	// Upstream API
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.user_agent", "syncrail")

	// Downstream sink
	v.SetDefault("sink.type", "http")
	v.SetDefault("sink.timeout", "30s")
	v.SetDefault("sink.table", "resources")
	v.SetDefault("sink.key_column", "resource_key")

	// Local store
	v.SetDefault("store.driver", "libsql")

	// Sync run
	v.SetDefault("sync.chunk_size", 50)
	v.SetDefault("sync.max_attempts", 3)
	v.SetDefault("sync.retry_base_delay", "500ms")
	v.SetDefault("sync.retry_max_delay", "60s")
	v.SetDefault("sync.per_page", 100)
	v.SetDefault("sync.max_pages", 0)
	v.SetDefault("sync.run_timeout", "0s")
	v.SetDefault("sync.progress_every", 10)
	v.SetDefault("sync.workers", 1)
	v.SetDefault("sync.fetch_details", true)

	// Rate limiting
	v.SetDefault("rate_limit.max_per_second", 2)
	v.SetDefault("rate_limit.max_per_window", 1200)
	v.SetDefault("rate_limit.window", "1h")
	v.SetDefault("rate_limit.floor", 1)
	v.SetDefault("rate_limit.cooldown", "5s")

	// Status server
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
}
