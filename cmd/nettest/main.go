// Command nettest runs the same reachability and throughput probes the
// client engine runs before joining a conference, standalone. Generalizes
// cmd/diagnose's flag-parsing/structured-logging shape into a one-shot
// network diagnostic tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/videograce/confcore/pkg/logger"
	"github.com/videograce/confcore/pkg/nettest"
	"github.com/videograce/confcore/pkg/transport"
)

func main() {
	fs := flag.NewFlagSet("nettest", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	host := fs.String("host", "", "host to probe (required)")
	udpPort := fs.Uint("udp-port", 0, "UDP port to probe for RTP/RTCP reachability")
	speedAddr := fs.String("speed-addr", "", "WebSocket address to run a download speed test against (defaults to -host)")
	speedSecure := fs.Bool("speed-secure", true, "use wss:// for the speed test connection")
	iterations := fs.Int("iterations", 3, "number of speed test iterations to average")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -host <host> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Network reachability and speed diagnostic tool\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if *host == "" {
		fmt.Fprintln(os.Stderr, "error: -host is required")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if *udpPort != 0 {
		runUDPProbe(ctx, log, *host, uint16(*udpPort))
	}

	addr := *speedAddr
	if addr == "" {
		addr = *host
	}
	runSpeedProbe(log, addr, *speedSecure, *iterations)
}

func runUDPProbe(ctx context.Context, log *logger.Logger, host string, port uint16) {
	probe := nettest.NewUDPProbe(log.Logger, 0)
	if err := probe.Start(); err != nil {
		log.Error("failed to start udp probe socket", "error", err)
		return
	}
	defer probe.Stop()

	reachable, err := probe.Probe(ctx, transport.Address{Host: host, Port: port})
	if err != nil {
		log.Error("udp probe failed", "host", host, "port", port, "error", err)
		return
	}
	log.Info("udp reachability result", "host", host, "port", port, "reachable", reachable)
}

func runSpeedProbe(log *logger.Logger, addr string, secure bool, iterations int) {
	probe, err := nettest.NewSpeedProbe(log.Logger, addr, secure)
	if err != nil {
		log.Error("failed to dial speed test connection", "address", addr, "error", err)
		return
	}
	defer probe.Close()

	start := time.Now()
	avg, err := probe.Run(iterations, func(i int, kbps float64) {
		log.Info("speed test iteration complete", "iteration", i, "kbps", kbps)
	})
	if err != nil {
		log.Error("speed test failed", "error", err)
		return
	}
	log.Info("speed test complete", "average_kbps", avg, "elapsed", time.Since(start))
}
