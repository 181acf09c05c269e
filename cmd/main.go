package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"watertank_node/internal/config"
	"watertank_node/internal/connectivity"
	"watertank_node/internal/level"
	"watertank_node/internal/logger"
	"watertank_node/internal/models"
	"watertank_node/internal/mqtt"
	"watertank_node/internal/node"
	"watertank_node/internal/publisher"
	"watertank_node/internal/repository"
	"watertank_node/internal/repository/db"
	"watertank_node/internal/sensor"
	"watertank_node/internal/updater"
	"watertank_node/internal/watchdog"
)

// One loop pass per second: fine-grained enough for the shortest schedule
// (session polling), and a comfortable margin under the watchdog window.
const loopTick = 1 * time.Second

func main() {
	// load config.yml
	cfg, err := config.Load()
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.Log.Level)

	// open DB
	sqlDB, err := openDB(cfg, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	repos := repository.NewRepository(sqlDB)

	startedAt := time.Now()
	bootCount, err := repos.State.IncrementBoot(context.Background())
	if err != nil {
		log.Fatalw("failed to bump boot counter", "err", err)
	}
	state := &models.NodeState{BootCount: bootCount, StartedAt: startedAt}

	if err := repos.Events.Append(context.Background(), models.NodeEvent{
		OccurredAt:  startedAt,
		Type:        models.EventBoot,
		Description: "node started",
		Metadata:    map[string]any{"boot_count": bootCount},
	}); err != nil {
		log.Warnw("boot journal entry failed", "err", err)
	}
	log.Infow("node starting", "boot_count", bootCount, "location", cfg.Node.Location)

	// sensing chain
	transducer, err := sensor.NewUltrasonic(cfg.Sampler.GPIOChip,
		cfg.Sampler.TriggerPin, cfg.Sampler.EchoPin, cfg.Sampler.EchoTimeout)
	if err != nil {
		log.Fatalw("failed to open ultrasonic sensor", "err", err)
	}
	defer transducer.Close()

	sampler := sensor.NewSampler(transducer, sensor.Options{
		BurstSize:  cfg.Sampler.BurstSize,
		Quorum:     cfg.Sampler.Quorum,
		MinValidCm: cfg.Sampler.MinValidCm,
		MaxValidCm: cfg.Sampler.MaxValidCm,
		PulseGap:   cfg.Sampler.PulseGap,
	}, log)
	estimator := level.NewEstimator(cfg.Tank.HeightCm)

	// connectivity
	session := mqtt.New(mqtt.Config{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientID})
	link := connectivity.NewWirelessLink(cfg.Network.Interface, cfg.Network.ReconnectCmd)

	// The loop is created last; producers reach it through this closure.
	var ctrl *node.Node
	emit := func(ev models.LoopEvent) { ctrl.Enqueue(ev) }

	mgr := connectivity.NewManager(link, session, connectivity.Options{
		RetryDelay:      cfg.Network.RetryDelay,
		ConnectTimeout:  cfg.Network.ConnectTimeout,
		SessionCooldown: cfg.MQTT.SessionCooldown,
		StatusTopic:     cfg.MQTT.StatusTopic,
		CommandTopic:    cfg.MQTT.CommandTopic,
	}, emit, log)

	diag := publisher.NewDiagnostics(cfg.Network.Interface, startedAt)
	pub := publisher.New(sampler, estimator, mgr, diag, repos.Events, publisher.Options{
		MeasureInterval:   cfg.Publish.MeasureInterval,
		HeartbeatInterval: cfg.Publish.HeartbeatInterval,
		FailureThreshold:  cfg.Publish.FailureThreshold,
		Location:          cfg.Node.Location,
		SensorType:        cfg.Node.SensorType,
		TelemetryTopic:    cfg.MQTT.TelemetryTopic,
		StatusTopic:       cfg.MQTT.StatusTopic,
	}, log)

	dog, err := openWatchdog(cfg, log)
	if err != nil {
		log.Fatalw("failed to arm watchdog", "err", err)
	}

	var applier node.Applier
	if cfg.Updater.Enabled {
		applier = updater.New(updater.Options{
			StagingPath:     cfg.Updater.StagingPath,
			InstallCmd:      cfg.Updater.InstallCmd,
			DownloadTimeout: cfg.Updater.DownloadTimeout,
		}, emit, func() { _ = dog.Kick() }, log)
	}

	ctrl = node.New(state, mgr, pub, applier, dog, repos.Events, diag,
		cfg.Updater.MinFreeHeap, log)
	mgr.SetAnnouncer(func() ([]byte, error) {
		return json.Marshal(pub.OnlineStatus(ctrl.State()))
	})
	mgr.SetCommandHandler(ctrl.HandleCommand)

	// context for the control loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ctrl.Run(ctx, loopTick)

	// graceful shutdown
	waitForShutdown(cancel, ctrl, dog, session, log)
}

// openDB initializes the SQLite database under the configured data dir.
func openDB(cfg *config.Config, log *logger.Logger) (*sql.DB, error) {
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.Node.DataDir, "node.db")
	log.Infow("opening node database", "path", path)
	return db.InitDB(path)
}

// openWatchdog arms the hardware watchdog when one is configured. Without a
// device the node runs with a no-op watchdog (development hosts).
func openWatchdog(cfg *config.Config, log *logger.Logger) (watchdog.Watchdog, error) {
	if cfg.Watchdog.Device == "" {
		log.Infow("no watchdog device configured, running without hardware watchdog")
		return watchdog.Nop{}, nil
	}
	log.Infow("arming hardware watchdog",
		"device", cfg.Watchdog.Device, "timeout", cfg.Watchdog.Timeout)
	return watchdog.Open(cfg.Watchdog.Device, cfg.Watchdog.Timeout)
}

// waitForShutdown listens for termination signals, stops the loop and waits
// for it to finish, then disarms the watchdog and drops the broker session.
func waitForShutdown(cancel context.CancelFunc, ctrl *node.Node, dog watchdog.Watchdog, session *mqtt.Client, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down node...")

	// stop the control loop and wait for the in-flight iteration: the loop
	// must not kick a closed watchdog or touch a dropped session
	cancel()
	<-ctrl.Done()

	// disarm before the last kick goes stale, then drop the session
	if err := dog.Close(); err != nil {
		log.Errorw("watchdog disarm failed", "err", err)
	}
	session.Disconnect()
}
