package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugRTP        bool
	DebugRTCP       bool
	DebugSplitter   bool
	DebugJitter     bool
	DebugController bool
	DebugTransport  bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable detailed RTP packet debugging")
	fs.BoolVar(&f.DebugRTCP, "debug-rtcp", false, "Enable RTCP message debugging")
	fs.BoolVar(&f.DebugSplitter, "debug-splitter", false, "Enable VP8 splitter/collector debugging")
	fs.BoolVar(&f.DebugJitter, "debug-jitter", false, "Enable jitter buffer estimator debugging")
	fs.BoolVar(&f.DebugController, "debug-controller", false, "Enable session controller state debugging")
	fs.BoolVar(&f.DebugTransport, "debug-transport", false, "Enable transport socket debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		for _, pair := range []struct {
			on  bool
			cat DebugCategory
		}{
			{f.DebugRTP, DebugRTP},
			{f.DebugRTCP, DebugRTCP},
			{f.DebugSplitter, DebugSplitter},
			{f.DebugJitter, DebugJitter},
			{f.DebugController, DebugController},
			{f.DebugTransport, DebugTransport},
		} {
			if pair.on {
				cfg.EnableCategory(pair.cat)
				cfg.Level = LevelDebug
			}
		}
	}

	return cfg, nil
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		for _, pair := range []struct {
			on   bool
			name string
		}{
			{f.DebugRTP, "rtp"},
			{f.DebugRTCP, "rtcp"},
			{f.DebugSplitter, "splitter"},
			{f.DebugJitter, "jitter"},
			{f.DebugController, "controller"},
			{f.DebugTransport, "transport"},
		} {
			if pair.on {
				debugCategories = append(debugCategories, pair.name)
			}
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
