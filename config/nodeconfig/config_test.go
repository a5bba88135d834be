package nodeconfig

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/resources"
)

func TestParseEmpty(t *testing.T) {
	for _, text := range []string{"", "  ", "{}"} {
		c, err := Parse([]byte(text))
		require.NoError(t, err)
		assert.Equal(t, Default(), c)
	}
	assert.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`{
  "Endpoint": "host1:9090",
  "Listen": ":9090",
  "Peers": ["host2:9090", "host3:9090"],
  "Resources": {"Cores": 4, "MemoryMB": 2048},
  "AcceptJobs": false,
  "Timing": {"TickRate": "50ms", "ClaimRetryMax": "1m"},
  "LogLevel": "debug"
}`))
	require.NoError(t, err)

	assert.Equal(t, []domain.Endpoint{"host2:9090", "host3:9090"}, c.PeerEndpoints())
	assert.Equal(t, resources.New(1, 4, 2048, 0), c.Capacity())
	assert.Equal(t, log.DebugLevel, c.Level())
	assert.False(t, c.NodeConfig().AcceptJobs)

	jc := c.JobConfig()
	assert.Equal(t, 50*time.Millisecond, jc.TickRate)
	assert.Equal(t, time.Minute, jc.ClaimRetryMax)
	assert.Equal(t, time.Duration(Default().Timing.ConstituentExpiry), jc.ConstituentExpiry)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		errors int
	}{
		{"unknown field", `{"Cores": 4}`, 0},
		{"number duration", `{"Timing": {"TickRate": 250}}`, 0},
		{"bad duration", `{"Timing": {"TickRate": "soon"}}`, 0},
		{"negative cores", `{"Resources": {"Cores": -1}}`, 1},
		{"everything wrong", `{"Listen": "", "LogLevel": "loud", "Timing": {"TickRate": "0s", "ClaimRetryMin": "2m"}}`, 4},
		{"refresh slower than expiry", `{"Timing": {"StateRefreshInterval": "5m"}}`, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.text))
			require.Error(t, err)
			if test.errors > 0 {
				merr, ok := err.(*multierror.Error)
				require.True(t, ok, "validation errors come together: %v", err)
				assert.Len(t, merr.Errors, test.errors)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(`{"HTTPAddr": ""}`), 0666))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "", c.HTTPAddr)

	c, err = Load(`{"Listen": ":1234"}`)
	require.NoError(t, err)
	assert.Equal(t, ":1234", c.Listen)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
