package config

import (
	"strings"
	"time"
)

// SyncSection optionally overrides the defaults below.
const SyncSection = "sync"

const (
	DefaultPort           = 5432
	DefaultQuery          = "SELECT * FROM constellation"
	DefaultAddressColumn  = "ipv4"
	DefaultProgram        = "/usr/bin/env"
	DefaultSource         = "/tank/u80/www"
	DefaultRemoteUser     = "root"
	DefaultDestination    = "/var"
	DefaultConnectTimeout = 30 * time.Second
	DefaultQueryTimeout   = time.Minute
	DefaultCommandTimeout = 6 * time.Hour
	DefaultProbePort      = 22
	DefaultProbeTimeout   = 10 * time.Second
	DefaultWatchQuiet     = 2 * time.Second
)

// DefaultArgs are the arguments passed to Program ahead of the source and
// destination: an archive-mode, verbose, resumable mirror that deletes
// extraneous files at the destination.
var DefaultArgs = []string{"rsync", "-avP", "--delete"}

// Sync holds everything about a run that isn't a database credential.
type Sync struct {
	// Port is the PostgreSQL server port.
	Port int
	// SSLMode is passed to the driver as sslmode when set.
	SSLMode string

	// Query selects the site records. Its result must contain AddressColumn.
	Query         string
	AddressColumn string

	Program     string
	Args        []string
	Source      string
	RemoteUser  string
	Destination string

	// A zero timeout disables the limit.
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	CommandTimeout time.Duration

	Probe Probe

	// WatchQuiet is how long the source tree must be unchanged before the
	// watch command syncs.
	WatchQuiet time.Duration
}

// Probe configures the optional ssh reachability check run before each
// site's sync.
type Probe struct {
	Enabled bool
	Port    int
	KeyPath string
	Timeout time.Duration
}

// DefaultSync returns the settings used when nothing is overridden.
func DefaultSync() Sync {
	return Sync{
		Port:           DefaultPort,
		Query:          DefaultQuery,
		AddressColumn:  DefaultAddressColumn,
		Program:        DefaultProgram,
		Args:           append([]string(nil), DefaultArgs...),
		Source:         DefaultSource,
		RemoteUser:     DefaultRemoteUser,
		Destination:    DefaultDestination,
		ConnectTimeout: DefaultConnectTimeout,
		QueryTimeout:   DefaultQueryTimeout,
		CommandTimeout: DefaultCommandTimeout,
		Probe: Probe{
			Port:    DefaultProbePort,
			Timeout: DefaultProbeTimeout,
		},
		WatchQuiet: DefaultWatchQuiet,
	}
}

// LoadSync starts from DefaultSync, applies the [sync] section of the file at
// path if there is one, and then the SYNC_* environment variables.
func LoadSync(path string) (Sync, error) {
	cfg := DefaultSync()

	file, err := loadFile(path)
	if err != nil {
		return cfg, err
	}

	if file != nil {
		if section, err := file.GetSection(SyncSection); err == nil {
			if section.HasKey("port") {
				cfg.Port = section.Key("port").MustInt(cfg.Port)
			}
			overrideString(&cfg.SSLMode, lookup(section, "sslmode"))
			overrideString(&cfg.Query, lookup(section, "query"))
			overrideString(&cfg.AddressColumn, lookup(section, "address_column"))
			overrideString(&cfg.Program, lookup(section, "program"))
			overrideString(&cfg.Source, lookup(section, "source"))
			overrideString(&cfg.RemoteUser, lookup(section, "remote_user"))
			overrideString(&cfg.Destination, lookup(section, "destination"))
			if args := lookup(section, "args"); args != nil {
				cfg.Args = strings.Fields(*args)
			}
		}
	}

	cfg.Port = getEnvInt("SYNC_DB_PORT", cfg.Port)
	cfg.ConnectTimeout = getEnvDuration("SYNC_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	cfg.QueryTimeout = getEnvDuration("SYNC_QUERY_TIMEOUT", cfg.QueryTimeout)
	cfg.CommandTimeout = getEnvDuration("SYNC_COMMAND_TIMEOUT", cfg.CommandTimeout)
	cfg.Probe.Enabled = getEnvBool("SYNC_PROBE_SSH", cfg.Probe.Enabled)
	cfg.Probe.Port = getEnvInt("SYNC_PROBE_PORT", cfg.Probe.Port)
	cfg.Probe.KeyPath = getEnvString("SYNC_PROBE_KEY", cfg.Probe.KeyPath)
	cfg.Probe.Timeout = getEnvDuration("SYNC_PROBE_TIMEOUT", cfg.Probe.Timeout)
	cfg.WatchQuiet = getEnvDuration("SYNC_WATCH_QUIET", cfg.WatchQuiet)
	return cfg, nil
}

// Empty values are ignored so that a blank key can't wipe out a default.
func overrideString(dst *string, value *string) {
	if value != nil && strings.TrimSpace(*value) != "" {
		*dst = strings.TrimSpace(*value)
	}
}
