package cm3

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime"

	"cogentcore.org/core/base/errors"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pelletier/go-toml/v2"
)

// Config holds the tunables of a Simulation. Zero valued fields of a decoded
// file keep their DefaultConfig values.
type Config struct {
	// Gravity applied to dynamic bodies when integrating velocity.
	Gravity mgl64.Vec3 `toml:"gravity"`

	// Iterations is the number of velocity iterations of the solver. Must be non-zero.
	Iterations int `toml:"iterations"`

	// Workers bounds the goroutines of the parallel phases. Zero means GOMAXPROCS.
	Workers int `toml:"workers"`

	// CollisionSlop is the penetration depth left alone by the solver.
	CollisionSlop float64 `toml:"collision_slop"`

	// CollisionBias is the fraction of overlap left after one second.
	// Defaults to math.Pow(0.9, 60), fixing 10% of the overlap each frame at 60Hz.
	CollisionBias float64 `toml:"collision_bias"`

	// MaximumRecoveryVelocity caps the speed at which overlapping contacts are pushed apart.
	MaximumRecoveryVelocity float64 `toml:"maximum_recovery_velocity"`

	// LinearDamping and AngularDamping are the fractions of velocity kept each
	// second. 1 means no damping.
	LinearDamping  float64 `toml:"linear_damping"`
	AngularDamping float64 `toml:"angular_damping"`

	// SpeculativeMargin is the default distance at which contacts are created.
	SpeculativeMargin float64 `toml:"speculative_margin"`

	// ContinuousThreshold is the per step relative displacement above which pairs are swept.
	ContinuousThreshold float64 `toml:"continuous_threshold"`

	// OptimizationFraction is the share of active bodies the layout optimizer visits per step.
	OptimizationFraction float64 `toml:"optimization_fraction"`

	// SleepTimeThreshold is the time an island must stay idle to fall asleep.
	// The default of math.MaxFloat64 disables automatic sleeping.
	SleepTimeThreshold float64 `toml:"sleep_time_threshold"`

	// IdleSpeedThreshold is the speed under which a body counts as idle.
	// Zero derives it from gravity.
	IdleSpeedThreshold float64 `toml:"idle_speed_threshold"`

	Logger *slog.Logger `toml:"-"`
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Iterations:              10,
		Workers:                 runtime.GOMAXPROCS(0),
		CollisionSlop:           0.01,
		CollisionBias:           math.Pow(0.9, 60),
		MaximumRecoveryVelocity: 2,
		LinearDamping:           1,
		AngularDamping:          1,
		SpeculativeMargin:       0.1,
		ContinuousThreshold:     0.5,
		OptimizationFraction:    0.005,
		SleepTimeThreshold:      infinity,
	}
}

// ParseConfig decodes TOML on top of DefaultConfig. Unknown keys are errors.
func ParseConfig(data []byte) (Config, error) {
	c := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return DefaultConfig(), fmt.Errorf("cm3: parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return c, nil
}

// LoadConfig reads a TOML config file. Errors are logged and the defaults returned with them.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), errors.Log(fmt.Errorf("cm3: load config: %w", err))
	}
	c, err := ParseConfig(data)
	return c, errors.Log(err)
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("cm3: encode config: %w", err)
	}
	return nil
}

// Validate reports settings the simulation cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Iterations <= 0:
		return fmt.Errorf("cm3: iterations must be positive, got %d", c.Iterations)
	case c.Workers < 0:
		return fmt.Errorf("cm3: workers must not be negative, got %d", c.Workers)
	case c.CollisionBias < 0 || c.CollisionBias > 1:
		return fmt.Errorf("cm3: collision bias must be in [0, 1], got %g", c.CollisionBias)
	case c.LinearDamping < 0 || c.AngularDamping < 0:
		return fmt.Errorf("cm3: damping must not be negative")
	case c.SpeculativeMargin < 0:
		return fmt.Errorf("cm3: speculative margin must not be negative, got %g", c.SpeculativeMargin)
	case c.OptimizationFraction < 0 || c.OptimizationFraction > 1:
		return fmt.Errorf("cm3: optimization fraction must be in [0, 1], got %g", c.OptimizationFraction)
	}
	return nil
}

func (c *Config) workers() int {
	if c.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Workers
}

func (c *Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
