// Package conf holds the bootstrap configuration shape for the cache
// daemon, trimmed from the teacher's multi-bucket/plugin/middleware
// Bootstrap down to the settings this spec's components actually take:
// logging, the LFC-backed cache directory, and the range-proxy listener
// (spec §6.7).
package conf

type Bootstrap struct {
	Hostname string  `json:"hostname" yaml:"hostname"`
	PidFile  string  `json:"pidfile" yaml:"pidfile"`
	Logger   *Logger `json:"logger" yaml:"logger"`
	Cache    *Cache  `json:"cache" yaml:"cache"`
	Server   *Server `json:"server" yaml:"server"`
}

type Logger struct {
	Level      string `json:"level" yaml:"level"`
	Path       string `json:"path" yaml:"path"`
	MaxSize    int    `json:"max_size" yaml:"max_size"`
	MaxAge     int    `json:"max_age" yaml:"max_age"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
}

// Cache configures the CHC-owned LFC. MaxSize defaults to 200 MiB
// (spec §6.7) when left at zero; see lfc.DefaultMaxSize.
type Cache struct {
	Dir     string `json:"dir" yaml:"dir"`
	MaxSize uint64 `json:"max_size" yaml:"max_size"`
}

// Server configures the loopback range-proxy listener (spec §4.5) and the
// metrics exporter.
type Server struct {
	Addr        string `json:"addr" yaml:"addr"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}
