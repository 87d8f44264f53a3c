package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/sonar.tracker/internal/units"
)

// DefaultConfigPath is the path to the canonical tracker defaults file.
const DefaultConfigPath = "config/sonar.defaults.json"

// Defaults applied by the Get* accessors when a field is unset.
const (
	DefaultSpacing        = 5.0
	DefaultMaxDistance    = 60.0
	DefaultHistoryLength  = 50
	DefaultSerialPort     = "/dev/ttyACM0"
	DefaultBaudRate       = 9600
	DefaultUnits          = units.CM
	DefaultReplayInterval = 100 * time.Millisecond
)

// TrackerConfig is the startup configuration for the sonar array and the
// service around it. All distances are in centimetres. Fields are pointers
// so a partial file only overrides what it names.
type TrackerConfig struct {
	// Array geometry and estimation
	Spacing       *float64 `json:"spacing,omitempty"`
	MaxDistance   *float64 `json:"max_distance,omitempty"`
	HistoryLength *int     `json:"history_length,omitempty"`

	// Serial link to the array controller
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
	DataBits   *int    `json:"data_bits,omitempty"`
	StopBits   *int    `json:"stop_bits,omitempty"`
	Parity     *string `json:"parity,omitempty"`

	// ReplayInterval paces fixture playback in dev mode, e.g. "100ms".
	ReplayInterval *string `json:"replay_interval,omitempty"`

	// Display units for the API and charts
	Units *string `json:"units,omitempty"`

	Debug *bool `json:"debug,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }
func ptrBool(v bool) *bool          { return &v }

// EmptyTrackerConfig returns a TrackerConfig with every field unset.
func EmptyTrackerConfig() *TrackerConfig {
	return &TrackerConfig{}
}

// DefaultTrackerConfig returns a TrackerConfig with every field populated
// with its default.
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		Spacing:        ptrFloat64(DefaultSpacing),
		MaxDistance:    ptrFloat64(DefaultMaxDistance),
		HistoryLength:  ptrInt(DefaultHistoryLength),
		SerialPort:     ptrString(DefaultSerialPort),
		BaudRate:       ptrInt(DefaultBaudRate),
		DataBits:       ptrInt(8),
		StopBits:       ptrInt(1),
		Parity:         ptrString("N"),
		ReplayInterval: ptrString(DefaultReplayInterval.String()),
		Units:          ptrString(DefaultUnits),
		Debug:          ptrBool(false),
	}
}

// LoadTrackerConfig loads a TrackerConfig from a JSON file. Fields omitted
// from the file fall back to their defaults through the Get* methods.
func LoadTrackerConfig(path string) (*TrackerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 64 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTrackerConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *TrackerConfig) Validate() error {
	if c.Spacing != nil && !(*c.Spacing > 0) {
		return fmt.Errorf("spacing must be positive, got %v", *c.Spacing)
	}
	if c.MaxDistance != nil && !(*c.MaxDistance > 0) {
		return fmt.Errorf("max_distance must be positive, got %v", *c.MaxDistance)
	}
	if c.HistoryLength != nil && *c.HistoryLength <= 0 {
		return fmt.Errorf("history_length must be positive, got %d", *c.HistoryLength)
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.ReplayInterval != nil && *c.ReplayInterval != "" {
		d, err := time.ParseDuration(*c.ReplayInterval)
		if err != nil {
			return fmt.Errorf("invalid replay_interval '%s': %w", *c.ReplayInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("replay_interval must be positive, got %s", d)
		}
	}
	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("invalid units %q: must be one of %s", *c.Units, units.GetValidUnitsString())
	}
	return nil
}

// Merge overlays every field set in other onto c.
func (c *TrackerConfig) Merge(other *TrackerConfig) {
	if other == nil {
		return
	}
	if other.Spacing != nil {
		c.Spacing = other.Spacing
	}
	if other.MaxDistance != nil {
		c.MaxDistance = other.MaxDistance
	}
	if other.HistoryLength != nil {
		c.HistoryLength = other.HistoryLength
	}
	if other.SerialPort != nil {
		c.SerialPort = other.SerialPort
	}
	if other.BaudRate != nil {
		c.BaudRate = other.BaudRate
	}
	if other.DataBits != nil {
		c.DataBits = other.DataBits
	}
	if other.StopBits != nil {
		c.StopBits = other.StopBits
	}
	if other.Parity != nil {
		c.Parity = other.Parity
	}
	if other.ReplayInterval != nil {
		c.ReplayInterval = other.ReplayInterval
	}
	if other.Units != nil {
		c.Units = other.Units
	}
	if other.Debug != nil {
		c.Debug = other.Debug
	}
}

// GetSpacing returns the spacing value or the default.
func (c *TrackerConfig) GetSpacing() float64 {
	if c.Spacing == nil {
		return DefaultSpacing
	}
	return *c.Spacing
}

// GetMaxDistance returns the max_distance value or the default.
func (c *TrackerConfig) GetMaxDistance() float64 {
	if c.MaxDistance == nil {
		return DefaultMaxDistance
	}
	return *c.MaxDistance
}

// GetHistoryLength returns the history_length value or the default.
func (c *TrackerConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return DefaultHistoryLength
	}
	return *c.HistoryLength
}

// GetSerialPort returns the serial_port value or the default.
func (c *TrackerConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *TrackerConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetDataBits returns the data_bits value, or 0 to let the port pick.
func (c *TrackerConfig) GetDataBits() int {
	if c.DataBits == nil {
		return 0
	}
	return *c.DataBits
}

// GetStopBits returns the stop_bits value, or 0 to let the port pick.
func (c *TrackerConfig) GetStopBits() int {
	if c.StopBits == nil {
		return 0
	}
	return *c.StopBits
}

// GetParity returns the parity value, or "" to let the port pick.
func (c *TrackerConfig) GetParity() string {
	if c.Parity == nil {
		return ""
	}
	return *c.Parity
}

// GetReplayInterval parses and returns the ReplayInterval as a time.Duration.
func (c *TrackerConfig) GetReplayInterval() time.Duration {
	if c.ReplayInterval == nil || *c.ReplayInterval == "" {
		return DefaultReplayInterval
	}
	d, err := time.ParseDuration(*c.ReplayInterval)
	if err != nil || d <= 0 {
		return DefaultReplayInterval // default on parse error
	}
	return d
}

// GetUnits returns the display units or the default.
func (c *TrackerConfig) GetUnits() string {
	if c.Units == nil || *c.Units == "" {
		return DefaultUnits
	}
	return *c.Units
}

// GetDebug returns the debug value or the default.
func (c *TrackerConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}
