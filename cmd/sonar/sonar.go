package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sonar.tracker/internal/api"
	"github.com/banshee-data/sonar.tracker/internal/config"
	"github.com/banshee-data/sonar.tracker/internal/db"
	"github.com/banshee-data/sonar.tracker/internal/monitoring"
	"github.com/banshee-data/sonar.tracker/internal/render"
	"github.com/banshee-data/sonar.tracker/internal/serialmux"
	"github.com/banshee-data/sonar.tracker/internal/sonar"
	"github.com/banshee-data/sonar.tracker/internal/stream"
	"github.com/banshee-data/sonar.tracker/internal/units"
	"github.com/banshee-data/sonar.tracker/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Replay fixture readings instead of opening the serial port")
	fixturesFile  = flag.String("fixtures", "fixtures/sonar.txt", "Readings replayed in dev mode")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen    = flag.String("grpc-listen", "localhost:50051", "gRPC position stream address (empty to disable)")
	configFile    = flag.String("config", config.DefaultConfigPath, "Path to the tracker configuration JSON")
	port          = flag.String("port", "", "Serial port to use (overrides config, ignored in dev mode)")
	dbFile        = flag.String("db", "sonar_estimates.db", "Path to the SQLite estimate log (empty to disable)")
	disableSerial = flag.Bool("disable-serial", false, "Run without a serial source")
	debugMode     = flag.Bool("debug", false, "Log every tracking cycle")
	unitsFlag     = flag.String("units", "", "Display units: cm, mm, m or in (overrides config)")
	spacingFlag   = flag.Float64("spacing", 0, "Sensor spacing in cm (overrides config when > 0)")
	maxDistFlag   = flag.Float64("max-distance", 0, "Maximum valid distance in cm (overrides config when > 0)")
	historyFlag   = flag.Int("history", 0, "Trail length (overrides config when > 0)")
	assetsHost    = flag.String("chart-assets", "", "Override the host serving the echarts javascript")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

// subcommands run instead of the service when named as the first argument.
var subcommands = map[string]func(args []string, out io.Writer) error{
	"migrate":  runMigrate,
	"position": runPosition,
	"watch":    runWatch,
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags]\n", os.Args[0])
	fmt.Fprintf(out, "       %s migrate [-db path] <action>\n", os.Args[0])
	fmt.Fprintf(out, "       %s position [-url http://host:8080] [-units m]\n", os.Args[0])
	fmt.Fprintf(out, "       %s watch [-addr host:50051]\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) > 1 {
		if run, ok := subcommands[os.Args[1]]; ok {
			if err := run(os.Args[2:], os.Stdout); err != nil {
				log.Fatalf("%s: %v", os.Args[1], err)
			}
			return
		}
	}

	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	monitoring.SetDebug(cfg.GetDebug())

	est, err := sonar.NewEstimator(cfg.GetSpacing(), cfg.GetMaxDistance())
	if err != nil {
		log.Fatalf("invalid array geometry: %v", err)
	}
	history, err := sonar.NewHistory(cfg.GetHistoryLength())
	if err != nil {
		log.Fatalf("invalid history length: %v", err)
	}
	log.Printf("array: spacing %.1f cm, max distance %.1f cm, trail %d", est.Geometry.Spacing(), est.MaxDistance, history.Cap())

	recent := api.NewRecentResults(history.Cap())
	sinks := []sonar.CycleSink{recent}

	var database *db.DB
	if *dbFile != "" {
		db.DevMode = *devMode
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		source := cfg.GetSerialPort()
		if *devMode {
			source = "fixtures:" + *fixturesFile
		}
		recorder, err := db.NewRecorder(database, est, source)
		if err != nil {
			log.Fatalf("Failed to start estimate session: %v", err)
		}
		log.Printf("estimate log %s, session %s", database.Path(), recorder.SessionID())
		sinks = append(sinks, recorder)
	}

	var publisher *stream.Publisher
	if *grpcListen != "" {
		scfg := stream.DefaultConfig()
		scfg.ListenAddr = *grpcListen
		publisher = stream.NewPublisher(scfg)
		if err := publisher.Start(); err != nil {
			log.Fatalf("failed to start position stream: %v", err)
		}
		defer publisher.Stop()
		sinks = append(sinks, publisher)
	}

	opts := make([]sonar.TrackerOption, 0, len(sinks))
	for _, s := range sinks {
		opts = append(opts, sonar.WithSink(s))
	}
	tracker := sonar.NewTracker(est, history, opts...)

	sonarSerial, err := openSerial(cfg, *devMode, *disableSerial, *fixturesFile)
	if err != nil {
		log.Fatalf("failed to open sonar serial source: %v", err)
	}
	defer sonarSerial.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sonarSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// feed the serial lines through the tracking loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, lines := sonarSerial.Subscribe()
		defer sonarSerial.Unsubscribe(id)
		if err := tracker.Run(ctx, lines); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("tracking loop error: %v", err)
		}
		stats := tracker.Stats()
		log.Printf("tracking routine terminated after %d cycles (%d fallbacks, %d skipped)",
			stats.Cycles, stats.Fallbacks, stats.ShapeErrors+stats.ParseErrors)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiOpts := []api.Option{
			api.WithRecentResults(recent),
			api.WithSerialPort(cfg.GetSerialPort()),
			api.WithChartOptions(render.ChartOptions{AssetsHost: *assetsHost}),
		}
		if publisher != nil {
			apiOpts = append(apiOpts, api.WithPublisher(publisher))
		}
		mux := api.NewServer(sonarSerial, database, tracker, cfg.GetUnits(), apiOpts...).ServeMux()

		sonarSerial.AttachAdminRoutes(mux)
		if database != nil {
			database.AttachAdminRoutes(mux)
		}
		tsweb.Debugger(mux).Handle("config", "Tracker configuration", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/api/config", http.StatusFound)
		}))

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// loadConfig returns the defaults overlaid with the file at path. A missing
// file at the default path is not an error.
func loadConfig(path string) (*config.TrackerConfig, error) {
	cfg := config.DefaultTrackerConfig()
	if path == "" {
		return cfg, nil
	}
	fileCfg, err := config.LoadTrackerConfig(path)
	if err != nil {
		if path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
			log.Printf("no config at %s, using built-in defaults", path)
			return cfg, nil
		}
		return nil, err
	}
	cfg.Merge(fileCfg)
	return cfg, nil
}

// applyFlagOverrides copies explicitly set command-line values over cfg.
func applyFlagOverrides(cfg *config.TrackerConfig) {
	if *port != "" {
		cfg.SerialPort = port
	}
	if *unitsFlag != "" {
		cfg.Units = unitsFlag
	}
	if *spacingFlag > 0 {
		cfg.Spacing = spacingFlag
	}
	if *maxDistFlag > 0 {
		cfg.MaxDistance = maxDistFlag
	}
	if *historyFlag > 0 {
		cfg.HistoryLength = historyFlag
	}
	if *debugMode {
		cfg.Debug = debugMode
	}
}

// openSerial picks the line source: a disabled mux, fixture replay in dev
// mode, or the real port.
func openSerial(cfg *config.TrackerConfig, dev, disabled bool, fixtures string) (serialmux.SerialMuxInterface, error) {
	switch {
	case disabled:
		log.Printf("serial source disabled")
		return serialmux.NewDisabledSerialMux(), nil
	case dev:
		lines, err := serialmux.LoadFixtureLines(fixtures)
		if err != nil {
			return nil, err
		}
		log.Printf("replaying %d fixture readings from %s every %s", len(lines), fixtures, cfg.GetReplayInterval())
		mux, err := serialmux.NewMockSerialMux(lines, cfg.GetReplayInterval(), nil)
		if err != nil {
			return nil, err
		}
		return mux, nil
	default:
		opts := serialmux.PortOptions{
			BaudRate: cfg.GetBaudRate(),
			DataBits: cfg.GetDataBits(),
			StopBits: cfg.GetStopBits(),
			Parity:   cfg.GetParity(),
		}
		mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), opts)
		if err != nil {
			return nil, err
		}
		log.Printf("opened %s at %s", cfg.GetSerialPort(), opts)
		return mux, nil
	}
}

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	dbPath := fs.String("db", "sonar_estimates.db", "Path to the SQLite estimate log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, out)
}

func runPosition(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("position", flag.ContinueOnError)
	fs.SetOutput(out)
	baseURL := fs.String("url", "http://localhost:8080", "Base URL of the sonar service")
	unit := fs.String("units", "", "Display units (default: service setting)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *unit != "" && !units.IsValid(*unit) {
		return fmt.Errorf("invalid units %q: must be one of %s", *unit, units.GetValidUnitsString())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pos, err := api.NewClient(*baseURL, nil).Position(ctx, *unit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "#%d %s  x=%.2f y=%.2f %s  sensors=%d (%s)\n",
		pos.Seq, pos.Time.Format(time.RFC3339), pos.X, pos.Y, pos.Units, pos.SensorCount, pos.Subset)
	return nil
}

func runWatch(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(out)
	addr := fs.String("addr", "localhost:50051", "gRPC position stream address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", *addr, err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = stream.Watch(ctx, conn, func(u stream.Update) error {
		fmt.Fprintf(out, "#%d x=%7.2f y=%7.2f sensors=%d %-6s raw=%v\n",
			u.Seq, u.Position.X, u.Position.Y, u.SensorCount, u.Color, u.Raw)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
