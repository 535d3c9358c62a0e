// Package config loads famista's settings from a JSON5 or YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/Ebycow/famista/internal/channel"
	"github.com/Ebycow/famista/internal/gate"
	"github.com/Ebycow/famista/internal/inference"
	"github.com/Ebycow/famista/internal/scoreboard"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FAMISTA_"

// Config is the root configuration.
type Config struct {
	Channel   ChannelConfig   `json:"channel" yaml:"channel"`
	Gate      GateConfig      `json:"gate" yaml:"gate"`
	Poll      PollConfig      `json:"poll" yaml:"poll"`
	Fields    FieldsConfig    `json:"fields" yaml:"fields"`
	Score     ScoreConfig     `json:"score" yaml:"score"`
	Capture   CaptureConfig   `json:"capture" yaml:"capture"`
	Inference InferenceConfig `json:"inference" yaml:"inference"`
	Overlay   OverlayConfig   `json:"overlay" yaml:"overlay"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// ChannelConfig is the emulator's network command interface.
type ChannelConfig struct {
	Host              string  `json:"host" yaml:"host"`
	Port              int     `json:"port" yaml:"port"`
	TimeoutMs         int     `json:"timeout_ms" yaml:"timeout_ms"`
	MaxChunk          int     `json:"max_chunk" yaml:"max_chunk"`                     // largest single read
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"` // 0 = unpaced
	Burst             int     `json:"burst" yaml:"burst"`
}

// Timeout is the per-round-trip deadline.
func (c ChannelConfig) Timeout() time.Duration { return ms(c.TimeoutMs) }

// Addr is host:port.
func (c ChannelConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// GateCondition is one gate byte and its ready value.
type GateCondition struct {
	Addr   string `json:"addr" yaml:"addr"`
	Expect int    `json:"expect" yaml:"expect"`
}

// GateConfig lists the conjunctive gate bytes.
type GateConfig struct {
	Conditions    []GateCondition `json:"conditions" yaml:"conditions"`
	SettleDelayMs int             `json:"settle_delay_ms" yaml:"settle_delay_ms"`
}

// SettleDelay is the wait between a rising edge and the field reads.
func (c GateConfig) SettleDelay() time.Duration { return ms(c.SettleDelayMs) }

// PollConfig controls the watch loop.
type PollConfig struct {
	IntervalMs int `json:"interval_ms" yaml:"interval_ms"`
}

// Interval is the delay between poll cycles.
func (c PollConfig) Interval() time.Duration { return ms(c.IntervalMs) }

// FieldsConfig holds the addresses of the snapshot fields.
type FieldsConfig struct {
	Balls   string    `json:"balls" yaml:"balls"`
	Strikes string    `json:"strikes" yaml:"strikes"`
	Outs    string    `json:"outs" yaml:"outs"`
	Half    string    `json:"half" yaml:"half"`
	Bases   [3]string `json:"bases" yaml:"bases"`
	Home    string    `json:"home" yaml:"home"`
	Away    string    `json:"away" yaml:"away"`
}

// ScoreConfig controls the stable score reads.
type ScoreConfig struct {
	Repetitions int `json:"repetitions" yaml:"repetitions"`
	GapMs       int `json:"gap_ms" yaml:"gap_ms"`
}

// Gap is the delay between repeated score reads.
func (c ScoreConfig) Gap() time.Duration { return ms(c.GapMs) }

// CaptureConfig is the region captured for each labeled sample.
type CaptureConfig struct {
	Base        string `json:"base" yaml:"base"`
	Length      int    `json:"length" yaml:"length"`
	Repetitions int    `json:"repetitions" yaml:"repetitions"`
	GapMs       int    `json:"gap_ms" yaml:"gap_ms"`
	ChunkSize   int    `json:"chunk_size" yaml:"chunk_size"`
}

// Gap is the delay between capture passes.
func (c CaptureConfig) Gap() time.Duration { return ms(c.GapMs) }

// InferenceConfig tunes candidate scoring.
type InferenceConfig struct {
	AcceptThreshold   float64 `json:"accept_threshold" yaml:"accept_threshold"`
	PenaltyPerValue   float64 `json:"penalty_per_value" yaml:"penalty_per_value"`
	DistinctAllowance int     `json:"distinct_allowance" yaml:"distinct_allowance"`
	MinSamplesBits    int     `json:"min_samples_bits" yaml:"min_samples_bits"`
	MinSamplesLOOCV   int     `json:"min_samples_loocv" yaml:"min_samples_loocv"`
	TopN              int     `json:"top_n" yaml:"top_n"`
	Workers           int     `json:"workers" yaml:"workers"`
}

// Options converts the section into engine options for mode.
func (c InferenceConfig) Options(mode inference.Mode) inference.Options {
	return inference.Options{
		Mode:            mode,
		Threshold:       c.AcceptThreshold,
		Penalty:         c.PenaltyPerValue,
		Allowance:       c.DistinctAllowance,
		MinSamplesBits:  c.MinSamplesBits,
		MinSamplesLOOCV: c.MinSamplesLOOCV,
		Workers:         c.Workers,
	}
}

// OverlayConfig is the HTTP overlay server.
type OverlayConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Token        string `json:"token,omitempty" yaml:"token,omitempty"` // empty = no auth
	HomeName     string `json:"home_name" yaml:"home_name"`
	AwayName     string `json:"away_name" yaml:"away_name"`
	RateLimitRPM int    `json:"rate_limit_rpm" yaml:"rate_limit_rpm"` // per client IP, 0 = unlimited
	OutFile      string `json:"out_file,omitempty" yaml:"out_file,omitempty"`
}

// Addr is host:port.
func (c OverlayConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// StoreConfig locates the sqlite database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"` // empty = no persistence
}

// TelemetryConfig configures OTLP trace export (only in otel builds).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"` // "grpc" or "http"
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

// Default returns the settings of the stock Famista layout on RetroArch.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			Host:      "127.0.0.1",
			Port:      55355,
			TimeoutMs: 500,
			MaxChunk:  0x100,
			Burst:     1,
		},
		Gate: GateConfig{
			Conditions: []GateCondition{
				{Addr: "C0D3", Expect: 0x00},
				{Addr: "C0CE", Expect: 0x14},
			},
			SettleDelayMs: 150,
		},
		Poll: PollConfig{IntervalMs: 20},
		Fields: FieldsConfig{
			Balls:   "C0C0",
			Strikes: "C0C2",
			Outs:    "C0C3",
			Half:    "C0C4",
			Bases:   [3]string{"D262", "D282", "D2A2"},
			Home:    "D81F",
			Away:    "D83F",
		},
		Score: ScoreConfig{Repetitions: 7, GapMs: 10},
		Capture: CaptureConfig{
			Base:        "C000",
			Length:      0x2000,
			Repetitions: 3,
			GapMs:       10,
			ChunkSize:   0x100,
		},
		Inference: InferenceConfig{
			AcceptThreshold:   0.80,
			PenaltyPerValue:   0.02,
			DistinctAllowance: 8,
			MinSamplesBits:    6,
			MinSamplesLOOCV:   12,
			TopN:              50,
			Workers:           4,
		},
		Overlay: OverlayConfig{
			Host:         "127.0.0.1",
			Port:         8765,
			HomeName:     "HOME",
			AwayName:     "AWAY",
			RateLimitRPM: 600,
		},
		Store: StoreConfig{Path: defaultStorePath()},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "famista",
		},
		Log: LogConfig{Level: "info"},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "famista.db"
	}
	return filepath.Join(home, ".famista", "famista.db")
}

// Load reads path over the defaults, applies FAMISTA_* overrides and
// validates the result. A missing file is not an error. ".yaml"/".yml"
// files are parsed as YAML, everything else as JSON5.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// applyEnv overrides the settings people change between runs without
// editing the file.
func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPrefix + "HOST"); v != "" {
		c.Channel.Host = v
	}
	if err := envInt(EnvPrefix+"PORT", &c.Channel.Port); err != nil {
		return err
	}
	if err := envInt(EnvPrefix+"TIMEOUT_MS", &c.Channel.TimeoutMs); err != nil {
		return err
	}
	if err := envInt(EnvPrefix+"SETTLE_DELAY_MS", &c.Gate.SettleDelayMs); err != nil {
		return err
	}
	if err := envInt(EnvPrefix+"POLL_INTERVAL_MS", &c.Poll.IntervalMs); err != nil {
		return err
	}
	if err := envInt(EnvPrefix+"OVERLAY_PORT", &c.Overlay.Port); err != nil {
		return err
	}
	if v := os.Getenv(EnvPrefix + "OVERLAY_TOKEN"); v != "" {
		c.Overlay.Token = v
	}
	if v := os.Getenv(EnvPrefix + "STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" && c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = v
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// Validate checks ranges and that every address parses.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Channel.Host != "", "channel.host is required")
	check(c.Channel.Port > 0 && c.Channel.Port < 65536, "channel.port %d out of range", c.Channel.Port)
	check(c.Channel.TimeoutMs > 0, "channel.timeout_ms must be positive")
	check(c.Channel.MaxChunk > 0, "channel.max_chunk must be positive")
	check(c.Channel.RequestsPerSecond >= 0, "channel.requests_per_second must not be negative")
	check(len(c.Gate.Conditions) > 0, "gate.conditions must not be empty")
	for i, g := range c.Gate.Conditions {
		check(g.Expect >= 0 && g.Expect <= 0xFF, "gate.conditions[%d].expect %d is not a byte", i, g.Expect)
	}
	check(c.Gate.SettleDelayMs >= 0, "gate.settle_delay_ms must not be negative")
	check(c.Poll.IntervalMs > 0, "poll.interval_ms must be positive")
	check(c.Score.Repetitions > 0, "score.repetitions must be positive")
	check(c.Score.GapMs >= 0, "score.gap_ms must not be negative")
	check(c.Capture.Length > 0, "capture.length must be positive")
	check(c.Capture.Repetitions > 0, "capture.repetitions must be positive")
	check(c.Capture.ChunkSize > 0, "capture.chunk_size must be positive")
	check(c.Inference.AcceptThreshold > 0 && c.Inference.AcceptThreshold <= 1, "inference.accept_threshold must be in (0, 1]")
	check(c.Inference.PenaltyPerValue >= 0, "inference.penalty_per_value must not be negative")
	check(c.Inference.DistinctAllowance >= 0, "inference.distinct_allowance must not be negative")
	check(c.Inference.MinSamplesBits >= 0, "inference.min_samples_bits must not be negative")
	check(c.Inference.MinSamplesLOOCV >= 0, "inference.min_samples_loocv must not be negative")
	check(c.Inference.Workers > 0, "inference.workers must be positive")
	check(c.Overlay.Port > 0 && c.Overlay.Port < 65536, "overlay.port %d out of range", c.Overlay.Port)
	check(c.Overlay.RateLimitRPM >= 0, "overlay.rate_limit_rpm must not be negative")
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol %q (want grpc or http)", c.Telemetry.Protocol))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q (want debug, info, warn or error)", c.Log.Level))
	}

	if _, err := c.Layout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.GateConditions(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseAddress(c.Capture.Base); err != nil {
		errs = append(errs, fmt.Errorf("capture.base: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseAddress accepts "C0D3", "0xC0D3" or "$C0D3".
func ParseAddress(s string) (channel.Address, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(t, "$")
	if len(t) > 2 && (t[:2] == "0x" || t[:2] == "0X") {
		t = t[2:]
	}
	if t == "" {
		return 0, fmt.Errorf("empty address %q", s)
	}
	n, err := strconv.ParseUint(t, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return channel.Address(n), nil
}

// ParseAddressList parses a comma separated address list.
func ParseAddressList(s string) ([]channel.Address, error) {
	var out []channel.Address
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		a, err := ParseAddress(part)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses in %q", s)
	}
	return out, nil
}

// Layout resolves the field addresses.
func (c *Config) Layout() (scoreboard.Layout, error) {
	l := scoreboard.Layout{
		ScoreRepetitions: c.Score.Repetitions,
		ScoreGap:         c.Score.Gap(),
	}
	fields := []struct {
		name string
		src  string
		dst  *channel.Address
	}{
		{"fields.balls", c.Fields.Balls, &l.Balls},
		{"fields.strikes", c.Fields.Strikes, &l.Strikes},
		{"fields.outs", c.Fields.Outs, &l.Outs},
		{"fields.half", c.Fields.Half, &l.Half},
		{"fields.bases[0]", c.Fields.Bases[0], &l.Bases[0]},
		{"fields.bases[1]", c.Fields.Bases[1], &l.Bases[1]},
		{"fields.bases[2]", c.Fields.Bases[2], &l.Bases[2]},
		{"fields.home", c.Fields.Home, &l.Home},
		{"fields.away", c.Fields.Away, &l.Away},
	}
	for _, f := range fields {
		a, err := ParseAddress(f.src)
		if err != nil {
			return scoreboard.Layout{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = a
	}
	return l, nil
}

// GateConditions resolves the gate bytes.
func (c *Config) GateConditions() ([]gate.Condition, error) {
	out := make([]gate.Condition, 0, len(c.Gate.Conditions))
	for i, g := range c.Gate.Conditions {
		a, err := ParseAddress(g.Addr)
		if err != nil {
			return nil, fmt.Errorf("gate.conditions[%d].addr: %w", i, err)
		}
		out = append(out, gate.Condition{Addr: a, Expect: uint8(g.Expect)})
	}
	return out, nil
}

// CaptureBase resolves capture.base.
func (c *Config) CaptureBase() (channel.Address, error) {
	return ParseAddress(c.Capture.Base)
}

// CaptureChunk is the per-read size for region captures: capture.chunk_size
// capped by channel.max_chunk.
func (c *Config) CaptureChunk() int {
	return min(c.Capture.ChunkSize, c.Channel.MaxChunk)
}

// ResolvePath picks the config file: the flag, then FAMISTA_CONFIG, then
// ./famista.json5.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return "famista.json5"
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
