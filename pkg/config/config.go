package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds the core's runtime configuration. Every key is optional;
// keys missing from the loaded file keep the defaults set in Defaults().
type Config struct {
	CaptureDevices CaptureDevicesConfig
	AudioRenderer  AudioRendererConfig
	Connection     ConnectionConfig
	Credentials    CredentialsConfig
	User           UserConfig
}

// CaptureDevicesConfig controls the microphone capture path.
type CaptureDevicesConfig struct {
	MicrophoneSampleFreq int // 16000 or 48000
	MicrophoneGain       int // 0..100
}

// AudioRendererConfig controls the playback path.
type AudioRendererConfig struct {
	Volume        int // 0..100
	Enabled       bool
	Latency       int // ms, automatic estimate
	ManualLatency int // ms, overrides Latency when > 0
}

// ConnectionConfig points at the signalling endpoint.
type ConnectionConfig struct {
	Address string
	Secure  bool
}

// CredentialsConfig holds auto-logon credentials.
type CredentialsConfig struct {
	Login    string
	Password string
}

// UserConfig holds user-level preferences.
type UserConfig struct {
	LogLevel string
}

// Defaults returns a Config populated with the documented defaults.
func Defaults() *Config {
	return &Config{
		CaptureDevices: CaptureDevicesConfig{
			MicrophoneSampleFreq: 48000,
			MicrophoneGain:       100,
		},
		AudioRenderer: AudioRendererConfig{
			Volume:  100,
			Enabled: true,
		},
		Connection: ConnectionConfig{
			Secure: true,
		},
		User: UserConfig{
			LogLevel: "info",
		},
	}
}

// Load reads configuration from a .env-style file of Section/Key=value
// lines, layering it over Defaults(). Missing keys keep their default.
func Load(envPath string) (*Config, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			decodedValue = value
		}

		if err := cfg.set(key, decodedValue); err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan env file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "CaptureDevices/MicrophoneSampleFreq":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("MicrophoneSampleFreq: %w", err)
		}
		c.CaptureDevices.MicrophoneSampleFreq = n
	case "CaptureDevices/MicrophoneGain":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("MicrophoneGain: %w", err)
		}
		c.CaptureDevices.MicrophoneGain = n
	case "AudioRenderer/Volume":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("Volume: %w", err)
		}
		c.AudioRenderer.Volume = n
	case "AudioRenderer/Enabled":
		c.AudioRenderer.Enabled = value == "1"
	case "AudioRenderer/Latency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("Latency: %w", err)
		}
		c.AudioRenderer.Latency = n
	case "AudioRenderer/ManualLatency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("ManualLatency: %w", err)
		}
		c.AudioRenderer.ManualLatency = n
	case "Connection/Address":
		c.Connection.Address = value
	case "Connection/Secure":
		c.Connection.Secure = value == "1"
	case "Credentials/Login":
		c.Credentials.Login = value
	case "Credentials/Password":
		c.Credentials.Password = value
	case "User/LogLevel":
		c.User.LogLevel = value
	}
	return nil
}

// Validate checks that the populated fields are internally consistent.
// All keys are optional, so this only rejects out-of-range values, never
// missing ones.
func (c *Config) Validate() error {
	if f := c.CaptureDevices.MicrophoneSampleFreq; f != 16000 && f != 48000 {
		return fmt.Errorf("CaptureDevices/MicrophoneSampleFreq must be 16000 or 48000, got %d", f)
	}
	if g := c.CaptureDevices.MicrophoneGain; g < 0 || g > 100 {
		return fmt.Errorf("CaptureDevices/MicrophoneGain must be 0..100, got %d", g)
	}
	if v := c.AudioRenderer.Volume; v < 0 || v > 100 {
		return fmt.Errorf("AudioRenderer/Volume must be 0..100, got %d", v)
	}
	if lvl := c.User.LogLevel; lvl != "" {
		switch lvl {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("User/LogLevel must be one of debug, info, warn, error, got %q", lvl)
		}
	}
	return nil
}

// EffectiveLatency returns ManualLatency when set, otherwise the automatic
// Latency estimate.
func (c *AudioRendererConfig) EffectiveLatency() int {
	if c.ManualLatency > 0 {
		return c.ManualLatency
	}
	return c.Latency
}
