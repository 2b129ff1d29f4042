package cm3_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/setanarut/cm3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigKeepsDefaults(t *testing.T) {
	c, err := cm3.ParseConfig([]byte(`
gravity = [0.0, -9.81, 0.0]
iterations = 4
sleep_time_threshold = 0.5
`))
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{0, -9.81, 0}, c.Gravity)
	assert.Equal(t, 4, c.Iterations)
	assert.Equal(t, 0.5, c.SleepTimeThreshold)

	def := cm3.DefaultConfig()
	assert.Equal(t, def.CollisionSlop, c.CollisionSlop)
	assert.Equal(t, def.CollisionBias, c.CollisionBias)
	assert.Equal(t, def.SpeculativeMargin, c.SpeculativeMargin)
	assert.Equal(t, def.Workers, c.Workers)
}

func TestParseConfigErrors(t *testing.T) {
	for name, data := range map[string]string{
		"unknown key":       "iterationz = 3",
		"wrong type":        `iterations = "many"`,
		"zero iterations":   "iterations = 0",
		"negative workers":  "workers = -1",
		"bias out of range": "collision_bias = 1.5",
		"negative damping":  "linear_damping = -0.1",
		"negative margin":   "speculative_margin = -1.0",
		"bad fraction":      "optimization_fraction = 2.0",
	} {
		c, err := cm3.ParseConfig([]byte(data))
		assert.Error(t, err, name)
		assert.Equal(t, cm3.DefaultConfig(), c, name)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	c := cm3.DefaultConfig()
	c.Gravity = mgl64.Vec3{0, -10, 0}
	c.Iterations = 6
	c.SleepTimeThreshold = 0.75
	c.IdleSpeedThreshold = 0.01

	var buf bytes.Buffer
	require.NoError(t, c.Encode(&buf))
	assert.Contains(t, buf.String(), "sleep_time_threshold")

	decoded, err := cm3.ParseConfig(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.toml")
	require.NoError(t, os.WriteFile(path, []byte("iterations = 12\n"), 0o644))

	c, err := cm3.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12, c.Iterations)

	c, err = cm3.LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
	assert.Equal(t, cm3.DefaultConfig(), c)
}
