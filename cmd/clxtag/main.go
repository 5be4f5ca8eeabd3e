// clxtag - Logix tag gateway
//
// Serves typed tag reads and writes for the configured controllers over a
// REST API and mirrors tag activity to Valkey, MQTT and Kafka. The read,
// write and identify subcommands perform one-shot operations instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clxtag/api"
	"clxtag/config"
	"clxtag/kafka"
	"clxtag/logging"
	"clxtag/mirror"
	"clxtag/mqtt"
	"clxtag/plc"
	"clxtag/plcman"
	"clxtag/valkey"
)

// Version is set at build time via -ldflags
var Version = "dev"

// preprocessLogDebugFlag handles -log-debug without a value by injecting
// "all", so the bare flag enables every protocol.
func preprocessLogDebugFlag(args []string) []string {
	for i, arg := range args {
		if arg == "--log-debug" || arg == "-log-debug" {
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				out := append([]string{}, args[:i+1]...)
				out = append(out, "all")
				return append(out, args[i+1:]...)
			}
			return args
		}
	}
	return args
}

func main() {
	if len(os.Args) > 1 {
		if cmd, ok := commands[os.Args[1]]; ok {
			os.Exit(cmd(os.Args[2:]))
		}
	}
	os.Exit(serve(preprocessLogDebugFlag(os.Args[1:])))
}

func serve(args []string) int {
	fs := flag.NewFlagSet("clxtag", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion := fs.Bool("version", false, "Show version and exit")
	httpPort := fs.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost := fs.String("host", "", "HTTP bind address (overrides config)")
	noAPI := fs.Bool("no-api", false, "Disable REST API")
	probe := fs.Duration("probe", 30*time.Second, "PLC health probe interval (0 disables)")
	logDebug := fs.String("log-debug", "", "Enable debug logging (all, or a comma separated protocol filter)")
	fs.Usage = usage(fs)
	fs.Parse(args)

	if *showVersion {
		fmt.Printf("clxtag %s\n", Version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if *httpPort != 0 {
		cfg.API.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.API.Host = *httpHost
	}
	if *noAPI {
		cfg.API.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}

	if closeLog := setupDebugLog(cfg.DebugLog, *logDebug); closeLog != nil {
		defer closeLog()
	}

	return run(cfg, *probe)
}

// setupDebugLog installs the global debug logger when requested on the
// command line or in the config. The flag wins.
func setupDebugLog(dc config.DebugLogConfig, flagFilter string) func() {
	if flagFilter == "" && dc.Path == "" {
		return nil
	}
	path := dc.Path
	if path == "" {
		path = "debug.log"
	}
	filter := dc.Filter
	if flagFilter != "" {
		filter = flagFilter
	}
	if filter == "all" || filter == "true" || filter == "1" {
		filter = ""
	}

	logger, err := logging.NewDebugLogger(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		return nil
	}
	logger.SetFilter(filter)
	logging.SetGlobalDebugLogger(logger)
	if filter == "" {
		fmt.Printf("Debug logging enabled (all protocols) - writing to %s\n", path)
	} else {
		fmt.Printf("Debug logging enabled (filter: %s) - writing to %s\n", filter, path)
	}
	return func() {
		logging.SetGlobalDebugLogger(nil)
		logger.Close()
	}
}

// run wires the gateway together and blocks until SIGINT/SIGTERM.
func run(cfg *config.Config, probeInterval time.Duration) int {
	fanout := mirror.NewFanout(cfg.Mirror.Workers, cfg.Mirror.QueueSize)
	fanout.SetReads(cfg.Mirror.Reads)

	manager := plcman.NewManager(plc.WithObserver(fanout))
	for _, pc := range cfg.PLCs {
		if _, err := manager.AddPLC(pc); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding PLC %s: %v\n", pc.Name, err)
			return 1
		}
	}

	writer := mirror.NewExecutor(func(name string) (*plc.PLC, error) {
		mp, err := manager.GetPLC(name)
		if err != nil {
			return nil, err
		}
		return mp.Client, nil
	})

	valkeyMgr := valkey.NewManager(writer)
	valkeyMgr.LoadFromConfig(cfg.Valkey)
	mqttMgr := mqtt.NewManager(writer)
	mqttMgr.LoadFromConfig(cfg.MQTT)
	kafkaMgr := kafka.NewManager(writer)
	kafkaMgr.LoadFromConfig(cfg.Kafka)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := valkeyMgr.StartAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Valkey: %v\n", err)
	}
	if n := mqttMgr.StartAll(); n > 0 {
		fmt.Printf("MQTT: %d publisher(s) connected\n", n)
	}
	if err := kafkaMgr.StartAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Kafka: %v\n", err)
	}
	cancel()

	for _, sinks := range [][]mirror.Sink{valkeyMgr.Sinks(), mqttMgr.Sinks(), kafkaMgr.Sinks()} {
		for _, s := range sinks {
			fanout.AddSink(s)
		}
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		hub := api.NewEventHub()
		fanout.AddSink(hub)
		apiServer = api.NewServer(manager, cfg.API, hub)
		if err := apiServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start REST API on %s: %v\n", cfg.API.Address(), err)
			fmt.Fprintf(os.Stderr, "Continuing without HTTP server.\n")
			hub.Stop()
			apiServer = nil
		} else {
			fmt.Printf("REST API at %s\n", apiServer.Address())
		}
	}

	fanout.Start()
	manager.Start(probeInterval)
	fmt.Printf("Serving %d PLC(s), mirroring to %d sink(s)\n", len(cfg.PLCs), len(fanout.Sinks()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("\nReceived %s, shutting down...\n", sig)
	logging.DebugLog("main", "shutdown on %s", sig)

	// The mirror queue drains into the sinks before they disconnect.
	if apiServer != nil {
		apiServer.Stop()
	}
	manager.StopAll()
	fanout.Stop()
	kafkaMgr.StopAll()
	mqttMgr.StopAll()
	valkeyMgr.StopAll()

	st := fanout.Stats()
	logging.DebugLog("main", "mirror stats: published=%d failed=%d dropped=%d", st.Published, st.Failed, st.Dropped)
	return 0
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage:\n")
		fmt.Fprintf(out, "  clxtag [flags]                     run the gateway\n")
		fmt.Fprintf(out, "  clxtag read [flags] TAG            read a tag once\n")
		fmt.Fprintf(out, "  clxtag write [flags] TAG VALUE...  write a tag once\n")
		fmt.Fprintf(out, "  clxtag identify ADDRESS            query a device's identity\n")
		fmt.Fprintf(out, "  clxtag hash-key KEY                print the bcrypt hash for api.api_key_hash\n")
		fmt.Fprintf(out, "\nFlags:\n")
		fs.PrintDefaults()
	}
}
