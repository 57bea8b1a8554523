package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/skrahmer/quantum-dns/internal/qdns/common/log"
	"github.com/skrahmer/quantum-dns/internal/qdns/config"
	"github.com/skrahmer/quantum-dns/internal/qdns/responder"
	"github.com/skrahmer/quantum-dns/internal/qdns/transport"
	"github.com/skrahmer/quantum-dns/internal/qdns/zone"
)

const appName = "quantum-dnsd"

// flags is the single-letter CLI surface of the daemon.
type flags struct {
	zonePath      string
	bindAddr      string
	bindPort      int
	captureDevice string
	captureFilter string
	ipv6          bool
	neverNXDOMAIN bool
	resendOnMiss  bool
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	f := &flags{}
	fs.StringVar(&f.zonePath, "Z", "", "zone file path (default: stdin)")
	fs.StringVar(&f.bindAddr, "l", "", "local bind address")
	fs.IntVar(&f.bindPort, "p", 53, "local bind port")
	fs.StringVar(&f.captureDevice, "M", "", "capture mode device")
	fs.StringVar(&f.captureFilter, "f", "", "extra BPF filter in capture mode")
	fs.BoolVar(&f.ipv6, "6", false, "bind/capture over IPv6")
	fs.BoolVar(&f.neverNXDOMAIN, "X", false, "never emit NXDOMAIN; drop instead")
	fs.BoolVar(&f.resendOnMiss, "R", false, "resend the original query on miss")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Application holds every wired component of a running quantum-dns process.
type Application struct {
	responder *responder.Responder
	transport transport.Transport
	logger    log.Logger
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "logging configuration error: %v\n", err)
		os.Exit(1)
	}
	logger := log.GetLogger()

	app, err := buildApplication(f, cfg, logger)
	if err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "failed to build application")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info(map[string]any{"signal": sig.String()}, "shutdown signal received")
		app.transport.Close()
		os.Exit(0)
	}()

	app.Run()
}

// buildApplication reads the zone file, builds the match tables, and wires
// the responder to the selected transport.
func buildApplication(f *flags, cfg *config.AppConfig, logger log.Logger) (*Application, error) {
	zoneSrc := os.Stdin
	if f.zonePath != "" {
		file, err := os.Open(f.zonePath)
		if err != nil {
			return nil, fmt.Errorf("open zone file: %w", err)
		}
		defer file.Close()
		zoneSrc = file
	}

	result, err := zone.Compile(zoneSrc, logger, cfg.OnceSetSize)
	if err != nil {
		return nil, fmt.Errorf("compile zone: %w", err)
	}
	logger.Info(map[string]any{
		"records": result.RecordCount,
	}, "zone compiled")

	tr, err := transport.New(transport.Config{
		CaptureDevice: f.captureDevice,
		CaptureFilter: f.captureFilter,
		BindAddr:      f.bindAddr,
		BindPort:      f.bindPort,
		IPv6:          f.ipv6,
	})
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	resp := responder.New(result.Tables, responder.Settings{
		NeverNXDOMAIN: f.neverNXDOMAIN,
		ResendOnMiss:  f.resendOnMiss,
	}, logger)

	return &Application{responder: resp, transport: tr, logger: logger}, nil
}

// Run blocks in Recv, matches and assembles a reply in the same call stack,
// sends or drops, and repeats. A hard error from any step is logged and the
// loop continues.
func (app *Application) Run() {
	for {
		payload, sourceID, err := app.transport.Recv()
		if err != nil {
			app.logger.Warn(map[string]any{"error": err.Error()}, "receive failed")
			continue
		}

		outcome, out := app.responder.Handle(payload, sourceID)
		switch outcome {
		case responder.Reply:
			if err := app.transport.Reply(out); err != nil {
				app.logger.Warn(map[string]any{"src": sourceID, "error": err.Error()}, "send failed")
			}
		case responder.Resend:
			if err := app.transport.Resend(); err != nil {
				app.logger.Warn(map[string]any{"src": sourceID, "error": err.Error()}, "resend failed")
			}
		case responder.Drop:
			// nothing to send
		}
	}
}
