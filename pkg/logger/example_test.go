package logger_test

import (
	"fmt"
	"os"

	"github.com/videograce/confcore/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("controller started", "version", "1.0.0")
	log.Warn("secure_key missing from connect_response", "member_id", 7)
	log.Error("failed to connect", "error", "connection timeout")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRTP)
	cfg.EnableCategory(logger.DebugJitter)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugRTPPacket(12345, 90000, 96, 1200)
	log.DebugJitterTick(41.2, 3)
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// fs := flag.NewFlagSet("confclient", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/confclient/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json")

	log.Info("member joined conference", "member_id", "12345", "conference_tag", "room-1")
}
