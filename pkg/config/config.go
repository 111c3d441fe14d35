package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/itohio/voicelog/pkg/audio"
	"github.com/itohio/voicelog/pkg/flash"
	"github.com/itohio/voicelog/pkg/flashlog"
	"github.com/itohio/voicelog/pkg/layout"
	"github.com/itohio/voicelog/pkg/quant"
	"github.com/itohio/voicelog/pkg/sensor"
	"github.com/itohio/voicelog/pkg/spectral"
)

// Environment variables that override the file.
const (
	EnvSerialPort = "VOICELOG_SERIAL_PORT"
	EnvFlashImage = "VOICELOG_FLASH_IMAGE"
	EnvFullPolicy = "VOICELOG_FULL_POLICY"
	EnvLogLevel   = "VOICELOG_LOG_LEVEL"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	Flash      FlashConfig      `yaml:"flash"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Audio      AudioConfig      `yaml:"audio"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Session    SessionConfig    `yaml:"session"`
}

// SerialConfig contains serial port configuration for the dump console.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"` // idle time that ends a capture
}

// FlashConfig describes the external flash and how it is split into regions.
type FlashConfig struct {
	Image    string         `yaml:"image"` // image file, empty keeps the flash in memory
	Geometry flash.Geometry `yaml:"geometry"` // what the device reports
	Chip     flash.Geometry `yaml:"chip"`     // what the layout is built for
	Reserved uint32         `yaml:"reserved"`
	Regions  RegionsConfig  `yaml:"regions"`
}

// RegionsConfig holds the region size of each channel in bytes.
type RegionsConfig struct {
	Temperature   uint32 `yaml:"temperature"`
	Humidity      uint32 `yaml:"humidity"`
	Accelerometer uint32 `yaml:"accelerometer"`
	Gyroscope     uint32 `yaml:"gyroscope"`
}

// ChannelsConfig holds the quantization range of each channel.
type ChannelsConfig struct {
	Temperature   quant.Range `yaml:"temperature"`   // Celsius
	Humidity      quant.Range `yaml:"humidity"`      // %
	Accelerometer quant.Range `yaml:"accelerometer"` // g
	Gyroscope     quant.Range `yaml:"gyroscope"`     // dps
}

// AudioConfig contains microphone capture parameters.
type AudioConfig struct {
	BufferSize int     `yaml:"buffer_size"`
	Shift      uint    `yaml:"shift"`
	Pool       int     `yaml:"pool"`
	SampleRate float64 `yaml:"sample_rate"`
}

// ClassifierConfig contains the tone classifier parameters.
type ClassifierConfig struct {
	FFTSize   int       `yaml:"fft_size"`
	Tones     []float64 `yaml:"tones"`
	Tolerance float64   `yaml:"tolerance"`
	SkipBins  int       `yaml:"skip_bins"`
	Window    string    `yaml:"window"`
}

// SessionConfig contains session behaviour.
type SessionConfig struct {
	FullPolicy   string `yaml:"full_policy"` // reject or halt
	EraseOnStart bool   `yaml:"erase_on_start"`
	LogLevel     string `yaml:"log_level"`
}

// Default returns a default configuration with the board values.
func Default() *Config {
	sizes := layout.DefaultSizes()
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyACM0",
			Baud:        115200,
			ReadTimeout: 2 * time.Second,
		},
		Flash: FlashConfig{
			Geometry: flash.MX25R6435F(),
			Chip:     flash.MX25R6435F(),
			Reserved: layout.DefaultReserved,
			Regions: RegionsConfig{
				Temperature:   sizes[sensor.Temperature],
				Humidity:      sizes[sensor.Humidity],
				Accelerometer: sizes[sensor.Accelerometer],
				Gyroscope:     sizes[sensor.Gyroscope],
			},
		},
		Channels: ChannelsConfig{
			Temperature:   quant.Range{Min: -40, Max: 120},
			Humidity:      quant.Range{Min: 0, Max: 100},
			Accelerometer: quant.Range{Min: -3, Max: 3},
			Gyroscope:     quant.Range{Min: -1000, Max: 1000},
		},
		Audio: AudioConfig{
			BufferSize: audio.DefaultBufferSize,
			Shift:      audio.DefaultShift,
			Pool:       audio.DefaultPool,
			SampleRate: audio.DefaultSampleRate,
		},
		Classifier: ClassifierConfig{
			FFTSize:   spectral.DefaultFFTSize,
			Tones:     spectral.DefaultTones(),
			Tolerance: spectral.DefaultTolerance,
			SkipBins:  spectral.DefaultSkipBins,
			Window:    "rectangular",
		},
		Session: SessionConfig{
			FullPolicy:   flashlog.RejectWhenFull.String(),
			EraseOnStart: true,
			LogLevel:     "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values. Environment overrides are applied last.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.ensureDefaults()
	}

	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}

	if c.Flash.Geometry == (flash.Geometry{}) {
		c.Flash.Geometry = def.Flash.Geometry
	}
	if c.Flash.Chip == (flash.Geometry{}) {
		c.Flash.Chip = def.Flash.Chip
	}
	if c.Flash.Regions == (RegionsConfig{}) {
		c.Flash.Regions = def.Flash.Regions
	}

	defaultRange(&c.Channels.Temperature, def.Channels.Temperature)
	defaultRange(&c.Channels.Humidity, def.Channels.Humidity)
	defaultRange(&c.Channels.Accelerometer, def.Channels.Accelerometer)
	defaultRange(&c.Channels.Gyroscope, def.Channels.Gyroscope)

	if c.Audio.BufferSize == 0 {
		c.Audio.BufferSize = def.Audio.BufferSize
	}
	if c.Audio.Pool == 0 {
		c.Audio.Pool = def.Audio.Pool
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = def.Audio.SampleRate
	}

	if c.Classifier.FFTSize == 0 {
		c.Classifier.FFTSize = def.Classifier.FFTSize
	}
	if len(c.Classifier.Tones) == 0 {
		c.Classifier.Tones = def.Classifier.Tones
	}
	if c.Classifier.Tolerance == 0 {
		c.Classifier.Tolerance = def.Classifier.Tolerance
	}
	if c.Classifier.Window == "" {
		c.Classifier.Window = def.Classifier.Window
	}

	if c.Session.FullPolicy == "" {
		c.Session.FullPolicy = def.Session.FullPolicy
	}
	if c.Session.LogLevel == "" {
		c.Session.LogLevel = def.Session.LogLevel
	}
}

func defaultRange(r *quant.Range, def quant.Range) {
	if *r == (quant.Range{}) {
		*r = def
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvSerialPort); v != "" {
		c.Serial.Port = v
	}
	if v := os.Getenv(EnvFlashImage); v != "" {
		c.Flash.Image = v
	}
	if v := os.Getenv(EnvFullPolicy); v != "" {
		c.Session.FullPolicy = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Session.LogLevel = v
	}
}

// Validate checks every section and that the pieces fit together.
func (c *Config) Validate() error {
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("%w: serial baud %d", ErrInvalid, c.Serial.Baud)
	}
	if _, err := c.Layout(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	ranges := c.Ranges()
	for _, ch := range sensor.Channels {
		if err := ranges[ch].Validate(); err != nil {
			return fmt.Errorf("%w: %s range: %w", ErrInvalid, ch, err)
		}
	}
	if _, err := audio.NewIntake(c.Audio.BufferSize, c.Audio.Shift, c.Audio.Pool); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.ClassifierConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Classifier.FFTSize > c.Audio.BufferSize {
		return fmt.Errorf("%w: fft size %d exceeds audio buffer %d", ErrInvalid, c.Classifier.FFTSize, c.Audio.BufferSize)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Sizes returns the region sizes in channel order.
func (c *Config) Sizes() [sensor.NumChannels]uint32 {
	r := c.Flash.Regions
	return [sensor.NumChannels]uint32{
		sensor.Temperature:   r.Temperature,
		sensor.Humidity:      r.Humidity,
		sensor.Accelerometer: r.Accelerometer,
		sensor.Gyroscope:     r.Gyroscope,
	}
}

// Ranges returns the quantization ranges in channel order.
func (c *Config) Ranges() [sensor.NumChannels]quant.Range {
	ch := c.Channels
	return [sensor.NumChannels]quant.Range{
		sensor.Temperature:   ch.Temperature,
		sensor.Humidity:      ch.Humidity,
		sensor.Accelerometer: ch.Accelerometer,
		sensor.Gyroscope:     ch.Gyroscope,
	}
}

// Layout builds the region layout, rejecting a device geometry that differs from the chip.
func (c *Config) Layout() (*layout.Layout, error) {
	return layout.New(c.Flash.Geometry, c.Flash.Chip, c.Flash.Reserved, c.Sizes())
}

// ClassifierConfig converts the classifier section.
func (c *Config) ClassifierConfig() spectral.Config {
	return spectral.Config{
		FFTSize:    c.Classifier.FFTSize,
		SampleRate: c.Audio.SampleRate,
		Tones:      c.Classifier.Tones,
		Tolerance:  c.Classifier.Tolerance,
		SkipBins:   c.Classifier.SkipBins,
		Window:     c.Classifier.Window,
	}
}

// Policy parses the full policy.
func (c *Config) Policy() (flashlog.Policy, error) {
	return flashlog.ParsePolicy(c.Session.FullPolicy)
}
