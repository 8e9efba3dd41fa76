package canopy

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that reads and writes as a Go duration string
// ("2ms", "3.3ms") in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("canopy: parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// SchedulerConfig tunes the display thread's commit scheduler.
type SchedulerConfig struct {
	// DelayMode enables vsync-relative commit delays. When false every commit
	// is submitted immediately.
	DelayMode bool `toml:"delay_mode"`
	// CommitMargin is added on top of the shortfall when a commit would land
	// at or before the previous one.
	CommitMargin Duration `toml:"commit_margin"`
	MaxDelay     Duration `toml:"max_delay"`
	ReserveTime  Duration `toml:"reserve_time"`
	VsyncOffset  Duration `toml:"vsync_offset"`
	// TaskThreshold is the number of outstanding commits above which the
	// main loop waits before producing another frame.
	TaskThreshold int `toml:"task_threshold"`

	HardwareTimeout     Duration `toml:"hardware_timeout"`
	TimeoutReportCount  int      `toml:"timeout_report_count"`
	TimeoutAbortCount   int      `toml:"timeout_abort_count"`
	LoadWarningInterval Duration `toml:"load_warning_interval"`
	LoadWarningFrames   int      `toml:"load_warning_frames"`
}

// PipelineConfig bounds the waits and queues of the main loop.
type PipelineConfig struct {
	CapacityWait          Duration `toml:"capacity_wait"`
	UnmarshalWait         Duration `toml:"unmarshal_wait"`
	RenderIdleWait        Duration `toml:"render_idle_wait"`
	TransactionWaitFrames int      `toml:"transaction_wait_frames"`
	QueueCapacity         int      `toml:"queue_capacity"`
	ReleaseInterval       Duration `toml:"release_interval"`
	ReleaseBatchLimit     int      `toml:"release_batch_limit"`
	DirtyHistory          int      `toml:"dirty_history"`
}

// SkipConfig holds the frame-skip tolerances for virtual and mirrored screens.
type SkipConfig struct {
	// IntervalTolerance scales the expected interval in interval-based skip.
	IntervalTolerance float64  `toml:"interval_tolerance"`
	MaxJitter         Duration `toml:"max_jitter"`
}

// Config holds every policy constant of the pipeline.
type Config struct {
	RefreshRate uint32          `toml:"refresh_rate"`
	Debug       bool            `toml:"debug"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Pipeline    PipelineConfig  `toml:"pipeline"`
	Skip        SkipConfig      `toml:"skip"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		RefreshRate: 60,
		Scheduler: SchedulerConfig{
			DelayMode:           true,
			CommitMargin:        Duration(2 * time.Millisecond),
			MaxDelay:            Duration(100 * time.Millisecond),
			ReserveTime:         Duration(1 * time.Millisecond),
			VsyncOffset:         Duration(3300 * time.Microsecond),
			TaskThreshold:       2,
			HardwareTimeout:     Duration(800 * time.Millisecond),
			TimeoutReportCount:  15,
			TimeoutAbortCount:   30,
			LoadWarningInterval: Duration(5 * time.Second),
			LoadWarningFrames:   2,
		},
		Pipeline: PipelineConfig{
			CapacityWait:          Duration(3 * time.Second),
			UnmarshalWait:         Duration(4 * time.Second),
			RenderIdleWait:        Duration(100 * time.Millisecond),
			TransactionWaitFrames: 30,
			QueueCapacity:         1024,
			ReleaseInterval:       Duration(100 * time.Millisecond),
			ReleaseBatchLimit:     8,
			DirtyHistory:          4,
		},
		Skip: SkipConfig{
			IntervalTolerance: 1.10,
			MaxJitter:         Duration(2 * time.Millisecond),
		},
	}
}

// Period returns the refresh period derived from RefreshRate.
func (c Config) Period() time.Duration {
	return periodOf(c.RefreshRate)
}

func periodOf(rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Second / time.Duration(rate)
}

// Validate reports the first out-of-range value.
func (c Config) Validate() error {
	switch {
	case c.RefreshRate == 0:
		return fmt.Errorf("canopy: refresh_rate must be positive")
	case c.Scheduler.MaxDelay <= 0:
		return fmt.Errorf("canopy: scheduler.max_delay must be positive")
	case c.Scheduler.TaskThreshold < 1:
		return fmt.Errorf("canopy: scheduler.task_threshold must be at least 1")
	case c.Scheduler.TimeoutAbortCount < c.Scheduler.TimeoutReportCount:
		return fmt.Errorf("canopy: scheduler.timeout_abort_count (%d) below timeout_report_count (%d)",
			c.Scheduler.TimeoutAbortCount, c.Scheduler.TimeoutReportCount)
	case c.Pipeline.QueueCapacity < 1:
		return fmt.Errorf("canopy: pipeline.queue_capacity must be at least 1")
	case c.Pipeline.DirtyHistory < 1:
		return fmt.Errorf("canopy: pipeline.dirty_history must be at least 1")
	case c.Skip.IntervalTolerance < 1:
		return fmt.Errorf("canopy: skip.interval_tolerance must be >= 1")
	}
	return nil
}

// LoadConfig reads a TOML file on top of DefaultConfig. Keys absent from the
// file keep their defaults; unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("canopy: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML data on top of DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("canopy: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes c to path as TOML.
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("canopy: encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
