package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSyncDefaults(t *testing.T) {
	fs = afero.NewMemMapFs()

	cfg, err := LoadSync("app.conf")
	require.NoError(t, err)
	assert.Equal(t, DefaultSync(), cfg)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "SELECT * FROM constellation", cfg.Query)
	assert.Equal(t, []string{"rsync", "-avP", "--delete"}, cfg.Args)
}

func TestLoadSyncSection(t *testing.T) {
	fs = afero.NewMemMapFs()
	contents := `[database]
host = db1

[sync]
port = 6543
sslmode = disable
query = SELECT ipv4 FROM constellation WHERE active
address_column = addr
program = /usr/local/bin/rsync
args = -az --delete
source = /srv/www
remote_user = deploy
destination = /srv
`
	require.NoError(t, afero.WriteFile(fs, "app.conf", []byte(contents), 0644))

	cfg, err := LoadSync("app.conf")
	require.NoError(t, err)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, "SELECT ipv4 FROM constellation WHERE active", cfg.Query)
	assert.Equal(t, "addr", cfg.AddressColumn)
	assert.Equal(t, "/usr/local/bin/rsync", cfg.Program)
	assert.Equal(t, []string{"-az", "--delete"}, cfg.Args)
	assert.Equal(t, "/srv/www", cfg.Source)
	assert.Equal(t, "deploy", cfg.RemoteUser)
	assert.Equal(t, "/srv", cfg.Destination)
}

func TestLoadSyncBadPortKeepsDefault(t *testing.T) {
	fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "app.conf", []byte("[sync]\nport = five\nsource =\n"), 0644))

	cfg, err := LoadSync("app.conf")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultSource, cfg.Source)
}

func TestLoadSyncEnvironment(t *testing.T) {
	fs = afero.NewMemMapFs()
	t.Setenv("SYNC_DB_PORT", "15432")
	t.Setenv("SYNC_CONNECT_TIMEOUT", "5s")
	t.Setenv("SYNC_QUERY_TIMEOUT", "20")
	t.Setenv("SYNC_COMMAND_TIMEOUT", "not-a-duration")
	t.Setenv("SYNC_PROBE_SSH", "true")
	t.Setenv("SYNC_PROBE_PORT", "2222")
	t.Setenv("SYNC_PROBE_KEY", "/root/.ssh/id_ed25519")
	t.Setenv("SYNC_PROBE_TIMEOUT", "3s")
	t.Setenv("SYNC_WATCH_QUIET", "500ms")

	cfg, err := LoadSync("app.conf")
	require.NoError(t, err)
	assert.Equal(t, 15432, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 20*time.Second, cfg.QueryTimeout)
	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchQuiet)
	assert.Equal(t, Probe{
		Enabled: true,
		Port:    2222,
		KeyPath: "/root/.ssh/id_ed25519",
		Timeout: 3 * time.Second,
	}, cfg.Probe)
}
