package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	relaycache "github.com/relay-cache/relay-cache"
	"github.com/relay-cache/relay-cache/admin"
	"github.com/relay-cache/relay-cache/logging"
)

var (
	// CLI flags
	configFlag         string
	logFilenameFlag    string
	eventDBFlag        string
	adminAddrFlag      string
	verbosityTraceFlag bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Optional YAML config file")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Event log file (stderr mirror is always on)")
	flag.StringVar(&eventDBFlag, "event-db", "", "Optional sqlite database for event records")
	flag.StringVar(&adminAddrFlag, "admin", "", "Address for the metrics/stats endpoint (disabled if empty)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: relay-cache [flags] <port>")
		os.Exit(1)
	}
	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q\n", flag.Arg(0))
		os.Exit(1)
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	fileConfig := relaycache.FileConfig{}
	if configFlag != "" {
		fileConfig, err = relaycache.LoadConfig(configFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
	}
	if logFilenameFlag != "" {
		fileConfig.LogFile = logFilenameFlag
	}
	if eventDBFlag != "" {
		fileConfig.EventDB = eventDBFlag
	}
	if adminAddrFlag != "" {
		fileConfig.AdminAddr = adminAddrFlag
	}

	events, err := logging.New(fileConfig.LogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open log file")
	}
	defer events.Close()
	if fileConfig.EventDB != "" {
		store, err := logging.NewSQLiteStore(fileConfig.EventDB)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot open event database")
		}
		events = events.WithStore(store)
	}

	proxy, err := relaycache.CreateProxy(relaycache.Config{
		Port:            port,
		MaxEntries:      fileConfig.MaxEntries,
		CleanupInterval: time.Duration(fileConfig.CleanupSeconds) * time.Second,
		Events:          events,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not start proxy")
	}

	if fileConfig.AdminAddr != "" {
		go func() {
			if err := admin.Serve(fileConfig.AdminAddr, proxy.Cache()); err != nil {
				log.Error().Err(err).Msg("Admin server stopped")
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	stopped := make(chan struct{})
	go func() {
		<-sigs
		log.Info().Msg("Received termination signal, shutting down")
		proxy.Stop()
		close(stopped)
	}()

	log.Info().Msgf("Proxy listening on port %d", port)
	proxy.Run()
	<-stopped
}
