package config

import (
	"flag"
)

// Config holds every server startup option: listen address and trigger
// modes, idle timeout, database connection settings, worker pool size,
// logging, and the static resource root.
type Config struct {
	Addr string

	ListenTrigger string // "lt" or "et"
	ConnTrigger   string // "lt" or "et"

	IdleTimeoutMs int
	Linger        bool

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBPoolSize int

	Workers int

	LogLevel     int
	LogDir       string
	LogSuffix    string
	LogQueueSize int

	ResourceRoot string
}

// New parses os.Args into a Config. Flag-based, no config file layer, since
// nothing here needs runtime reload.
func New() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Addr, "addr", ":9000", "listen address")

	flag.StringVar(&cfg.ListenTrigger, "listen-trigger", "lt", "listener readiness mode: lt or et")
	flag.StringVar(&cfg.ConnTrigger, "conn-trigger", "lt", "connection readiness mode: lt or et")

	flag.IntVar(&cfg.IdleTimeoutMs, "idle-timeout-ms", 60000, "idle connection timeout in milliseconds")
	flag.BoolVar(&cfg.Linger, "linger", false, "set SO_LINGER with a short timeout on close")

	flag.StringVar(&cfg.DBHost, "db-host", "127.0.0.1", "database host")
	flag.IntVar(&cfg.DBPort, "db-port", 3306, "database port")
	flag.StringVar(&cfg.DBUser, "db-user", "root", "database user")
	flag.StringVar(&cfg.DBPassword, "db-password", "", "database password")
	flag.StringVar(&cfg.DBName, "db-name", "reactord", "database name")
	flag.IntVar(&cfg.DBPoolSize, "db-pool-size", 8, "database connection pool size")

	flag.IntVar(&cfg.Workers, "workers", 8, "worker pool goroutine count")

	flag.IntVar(&cfg.LogLevel, "log-level", 1, "log level: 0=debug 1=info 2=warn 3=error")
	flag.StringVar(&cfg.LogDir, "log-dir", "./log", "log directory")
	flag.StringVar(&cfg.LogSuffix, "log-suffix", ".log", "log file suffix")
	flag.IntVar(&cfg.LogQueueSize, "log-queue-size", 8192, "async log queue size (0 = synchronous)")

	flag.StringVar(&cfg.ResourceRoot, "resource-root", "./resources", "static resource root directory")

	flag.Parse()

	return cfg
}
