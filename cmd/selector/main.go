// Package main is the entry point for the adaptive model selector host.
// It wires telemetry, a simulated detector, the selector and its sinks,
// then feeds frames until interrupted or the frame budget is spent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vitalis-app/selector/internal/buffer"
	"github.com/vitalis-app/selector/internal/chart"
	"github.com/vitalis-app/selector/internal/collector"
	"github.com/vitalis-app/selector/internal/config"
	"github.com/vitalis-app/selector/internal/emitter"
	"github.com/vitalis-app/selector/internal/inference"
	"github.com/vitalis-app/selector/internal/metriclog"
	"github.com/vitalis-app/selector/internal/mqttsink"
	"github.com/vitalis-app/selector/internal/platform"
	"github.com/vitalis-app/selector/internal/scheduler"
	"github.com/vitalis-app/selector/internal/selector"
	"github.com/vitalis-app/selector/internal/sender"
	"github.com/vitalis-app/selector/internal/service"
)

// spoolFlushInterval is how often spooled remote batches are replayed.
const spoolFlushInterval = time.Minute

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "selector.yaml", "Path to configuration file")
	envPath     = flag.String("env", ".env", "Optional dotenv file loaded before the configuration")
	writeConfig = flag.String("write-config", "", "Write the effective configuration to this path and exit")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("adaptive-selector %s\n", version)
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *writeConfig != "" {
		if err := config.WriteConfig(cfg, *writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting adaptive selector",
		zap.String("version", version),
		zap.Int("variants", len(cfg.Variants)),
		zap.Int("window", cfg.Selector.Window))

	runner := service.New(logger, func(ctx context.Context) {
		if err := runSelector(ctx, cfg, logger); err != nil {
			logger.Error("Selector failed", zap.Error(err))
		}
	})
	if err := runner.Run(); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
	logger.Info("Selector stopped")
}

// runSelector builds the pipeline and blocks until ctx is cancelled or the
// configured frame budget has been submitted.
func runSelector(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	plat := platform.New(cfg.Telemetry.PowerSupply)
	logger.Info("Telemetry platform", zap.String("platform", plat.Name()))

	cpu := collector.NewCPUCollector()
	sampler := collector.NewSampler(cfg.Telemetry.Timeout.Duration, logger)
	sampler.Register(cpu)
	sampler.Register(collector.NewBatteryCollector(plat))
	sampler.Register(collector.NewPowerCollector(plat, cpu,
		cfg.Telemetry.IdleWatts, cfg.Telemetry.PerCoreWatts, logger))

	em := emitter.New(logger)

	csvLog, err := metriclog.New(cfg.Log.Dir, cfg.Log.MaxSizeMB, cfg.Log.MaxFiles, logger)
	if err != nil {
		return err
	}
	defer csvLog.Close()
	em.AddLogSink(csvLog)

	recorder := chart.NewRecorder(logger)
	em.AddChartSink(recorder)

	var (
		remote   *sender.Sender
		senderWg sync.WaitGroup
	)
	// Remote sinks outlive ctx so they can drain after the last tick.
	senderCtx, stopSender := context.WithCancel(context.Background())
	defer stopSender()
	if cfg.Sender.URL != "" {
		spool, err := buffer.New(filepath.Join(cfg.Log.Dir, "spool"), cfg.Log.MaxSizeMB, logger)
		if err != nil {
			return err
		}
		remote = sender.New(cfg.Sender, spool, logger)
		remote.FlushSpool()
		em.AddLogSink(remote)
		senderWg.Add(1)
		go func() {
			defer senderWg.Done()
			remote.Run(senderCtx)
		}()
	}

	engine := inference.NewSimulated(inference.DefaultProfiles(), cfg.Host.Seed, true)
	ctrl, err := selector.New(selector.OptionsFromConfig(cfg), sampler, engine, em, logger)
	if err != nil {
		return err
	}

	if cfg.MQTT.Broker != "" {
		mq, err := mqttsink.Connect(cfg.MQTT, ctrl.RunID(), logger)
		if err != nil {
			logger.Warn("MQTT sink disabled", zap.Error(err))
		} else {
			em.AddLogSink(mq)
			senderWg.Add(1)
			go func() {
				defer senderWg.Done()
				mq.Start(senderCtx)
			}()
			logger.Info("Publishing snapshots over MQTT", zap.String("topic", mq.Topic()))
		}
	}

	sched := scheduler.New(ctrl, cfg.Host.FrameInterval.Duration, cfg.Host.Frames, logger)
	if remote != nil {
		sched.OnHousekeeping(spoolFlushInterval, remote.FlushSpool)
	}

	logger.Info("Selector running",
		zap.String("run_id", ctrl.RunID()),
		zap.Duration("frame_interval", cfg.Host.FrameInterval.Duration),
		zap.Int("frames", cfg.Host.Frames))
	sched.Start(ctx)

	ctrl.Wait()
	stopSender()
	senderWg.Wait()

	dropped, failures, _ := ctrl.Counters()
	for _, v := range cfg.Catalog().Names() {
		st := ctrl.Stats()[v]
		logger.Info("Variant summary",
			zap.String("variant", v.String()),
			zap.Uint64("predictions", st.TotalPredictions),
			zap.Uint64("correct", st.CorrectPredictions),
			zap.Float64("average_confidence", st.RunningAverage))
	}
	logger.Info("Run summary",
		zap.Uint64("dropped", dropped),
		zap.Uint64("failures", failures),
		zap.Uint64("tick", uint64(em.X())))

	exportCharts(cfg.Charts, recorder, logger)
	return nil
}

// exportCharts renders the recorded series. Failures are logged only.
func exportCharts(cfg config.ChartsConfig, rec *chart.Recorder, logger *zap.Logger) {
	if cfg.PNG {
		if _, err := rec.RenderPNG(cfg.OutputDir); err != nil {
			logger.Warn("PNG chart export failed", zap.Error(err))
		}
	}
	if cfg.HTML {
		if err := rec.RenderHTML(filepath.Join(cfg.OutputDir, "charts.html")); err != nil {
			logger.Warn("HTML chart export failed", zap.Error(err))
		}
	}
}

// initLogger creates a zap logger based on the configuration.
// It outputs to both console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
