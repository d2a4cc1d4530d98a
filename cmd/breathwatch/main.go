// Command breathwatch runs the radar breathing monitor: the signal
// conditioning pipeline, the hysteresis alarm, the video and telemetry TCP
// channels, and the HTTP control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vigil-data/breathwatch/internal/alert"
	"github.com/vigil-data/breathwatch/internal/api"
	"github.com/vigil-data/breathwatch/internal/breath"
	"github.com/vigil-data/breathwatch/internal/camera"
	"github.com/vigil-data/breathwatch/internal/config"
	"github.com/vigil-data/breathwatch/internal/db"
	"github.com/vigil-data/breathwatch/internal/dsp"
	"github.com/vigil-data/breathwatch/internal/monitoring"
	"github.com/vigil-data/breathwatch/internal/radar"
	"github.com/vigil-data/breathwatch/internal/stream"
	"github.com/vigil-data/breathwatch/internal/video"
)

var (
	configPath    = flag.String("config", "", "Path to JSON config file (optional)")
	devMode       = flag.Bool("dev", false, "Run with a synthetic sensor and test-pattern camera")
	listen        = flag.String("listen", "", "HTTP listen address (overrides config)")
	videoListen   = flag.String("video-listen", "", "Video channel listen address (overrides config)")
	dataListen    = flag.String("data-listen", "", "Telemetry channel listen address (overrides config)")
	serialPort    = flag.String("serial", "", "Sensor serial port path (overrides config)")
	dbPath        = flag.String("db", "", "SQLite database path (overrides config)")
	migrationsDir = flag.String("migrations", "", "Migrations directory (overrides config)")
	noDB          = flag.Bool("no-db", false, "Disable persistence")
)

func main() {
	flag.Parse()

	cfg := config.EmptyConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	applyFlagOverrides(cfg)

	mode, err := breath.ParseWireMode(cfg.GetTelemetryMode())
	if err != nil {
		log.Fatalf("invalid telemetry mode: %v", err)
	}

	// Persistence opens before anything that records into it.
	var store *db.DB
	if !*noDB {
		store, err = db.NewDB(cfg.GetDBPath())
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer store.Close()
		if err := store.MigrateUp(cfg.GetMigrationsDir()); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}

	openSensor, err := sensorOpener(cfg)
	if err != nil {
		log.Fatalf("failed to configure sensor: %v", err)
	}
	openCamera, err := cameraOpener(cfg)
	if err != nil {
		log.Fatalf("failed to configure camera: %v", err)
	}

	// Bind failures are fatal at startup; accept failures later are retried.
	dataFraming := stream.LengthPrefixed
	if mode == breath.LineMode {
		dataFraming = stream.RawBytes
	}
	videoRegistry := stream.NewRegistry("Video", stream.LengthPrefixed, cfg.GetWriteTimeout())
	dataRegistry := stream.NewRegistry("Data", dataFraming, cfg.GetWriteTimeout())

	videoAcceptor, err := stream.NewAcceptor(cfg.GetVideoListenAddr(), videoRegistry)
	if err != nil {
		log.Fatalf("failed to bind video listener: %v", err)
	}
	dataAcceptor, err := stream.NewAcceptor(cfg.GetDataListenAddr(), dataRegistry)
	if err != nil {
		log.Fatalf("failed to bind telemetry listener: %v", err)
	}

	sink := alert.NewSink(cfg.GetAlertWebhookURL(), alert.SinkOptions{})
	defer sink.Close()

	alarm := breath.NewAlarm(breath.AlarmThresholds{
		PendingLimit:    cfg.GetAlarmPendingLimit(),
		ActiveLimit:     cfg.GetAlarmActiveLimit(),
		ValidationLimit: cfg.GetAlarmValidationLimit(),
	})
	alarm.OnActivate(func() {
		sink.Notify("Breathing alarm activated")
		if store != nil {
			if err := store.RecordAlarmEvent(db.AlarmEventActivated, cfg.GetAlarmValidationLimit()); err != nil {
				monitoring.Logf("[Main] failed to record alarm activation: %v", err)
			}
		}
	})

	history := breath.NewHistory(cfg.GetHistoryCapacity())

	monitorCfg := breath.MonitorConfig{
		Open: openSensor,
		Cascade: dsp.NewCascade(dsp.CascadeConfig{
			SampleRate:       cfg.GetSampleRate(),
			HighPassCutoffHz: cfg.GetHighPassCutoffHz(),
			LowPassCutoffHz:  cfg.GetLowPassCutoffHz(),
			DenoiseFraction:  cfg.GetDenoiseFraction(),
			SavGolWindow:     cfg.GetSmoothingWindow(),
			SavGolOrder:      cfg.GetSmoothingOrder(),
			ProcessNoise:     cfg.GetProcessNoise(),
			MeasurementNoise: cfg.GetMeasurementNoise(),
		}),
		Classifier: dsp.NewClassifier(dsp.ClassifierConfig{
			MotionThreshold:     cfg.GetMotionThreshold(),
			NoMovementThreshold: cfg.GetNoMovementThreshold(),
		}),
		Alarm:         alarm,
		History:       history,
		Encoder:       breath.NewEncoder(mode),
		Registry:      dataRegistry,
		Notifier:      sink,
		SensorBackoff: cfg.GetSensorBackoff(),
	}
	if store != nil {
		monitorCfg.Recorder = store
	}
	monitor := breath.NewMonitor(monitorCfg)

	broadcaster := video.NewBroadcaster(video.BroadcasterConfig{
		Open:           openCamera,
		Registry:       videoRegistry,
		FrameRate:      cfg.GetFrameRate(),
		CaptureBackoff: cfg.GetCaptureBackoff(),
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		videoAcceptor.Run(ctx)
		monitoring.Logf("[Main] video acceptor stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		dataAcceptor.Run(ctx)
		monitoring.Logf("[Main] telemetry acceptor stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
		monitoring.Logf("[Main] telemetry loop stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		broadcaster.Run(ctx)
		monitoring.Logf("[Main] video loop stopped")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				monitoring.Logf("[Main] failed to attach admin routes: %v", err)
			}
		}

		apiMux := api.NewServer(alarm, history, store, cfg, videoRegistry, dataRegistry).ServeMux()
		mux.Handle("/api/", apiMux)
		mux.Handle("/charts/", apiMux)
		mux.Handle("/debug/waveform.png", apiMux)

		server := &http.Server{
			Addr:    cfg.GetHTTPListenAddr(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		monitoring.Logf("[Main] shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("[Main] HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	videoRegistry.CloseAll()
	dataRegistry.CloseAll()
	monitoring.Logf("[Main] graceful shutdown complete")
}

// applyFlagOverrides lets command-line flags win over the config file.
func applyFlagOverrides(cfg *config.Config) {
	if *listen != "" {
		cfg.HTTPListenAddr = listen
	}
	if *videoListen != "" {
		cfg.VideoListenAddr = videoListen
	}
	if *dataListen != "" {
		cfg.DataListenAddr = dataListen
	}
	if *serialPort != "" {
		cfg.SerialPort = serialPort
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *migrationsDir != "" {
		cfg.MigrationsDir = migrationsDir
	}
}

var errNoSerialPort = errors.New("no serial port configured; pass -serial, set serial_port, or run with -dev")

// sensorOpener picks the sweep source: synthetic in dev mode, serial
// otherwise.
func sensorOpener(cfg *config.Config) (radar.Opener, error) {
	if *devMode {
		return func() (radar.Source, error) {
			return radar.NewMockSource(radar.MockConfig{UpdateRate: cfg.GetSampleRate()}, nil), nil
		}, nil
	}

	port := cfg.GetSerialPort()
	if port == "" {
		return nil, errNoSerialPort
	}
	opts := radar.PortOptions{BaudRate: cfg.GetBaudRate()}
	if _, err := opts.Normalize(); err != nil {
		return nil, err
	}
	return func() (radar.Source, error) {
		return radar.NewSerialSource(port, opts)
	}, nil
}

// cameraOpener picks the frame source: test pattern in dev mode, replay
// when a recording is configured.
func cameraOpener(cfg *config.Config) (camera.Opener, error) {
	width, height, err := camera.ParseResolution(cfg.GetResolution())
	if err != nil {
		return nil, err
	}

	if recording := cfg.GetRecordingPath(); !*devMode && recording != "" {
		return func() (camera.Source, error) {
			return camera.NewReplaySource(recording)
		}, nil
	}

	return func() (camera.Source, error) {
		return camera.NewTestPatternSource(width, height), nil
	}, nil
}
