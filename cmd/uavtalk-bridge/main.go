// Command uavtalk-bridge shares a flight controller's UAVTalk telemetry link
// over MQTT.
//
// Frames read from the serial port are published to "{prefix}/{link_id}" and
// frames published there by other clients are written to the serial port, so
// several ground stations can watch and command one vehicle.
//
//	uavtalk-bridge -config /etc/uavtalk-bridge.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh/terminal"

	"github.com/kabili207/uavtalk-go/core/codec"
	"github.com/kabili207/uavtalk-go/core/store"
	"github.com/kabili207/uavtalk-go/device/connection"
	"github.com/kabili207/uavtalk-go/device/router"
	"github.com/kabili207/uavtalk-go/transport"
	"github.com/kabili207/uavtalk-go/transport/mqtt"
	"github.com/kabili207/uavtalk-go/transport/serial"
)

func main() {
	configPath := flag.String("config", "uavtalk-bridge.yaml", "path to the YAML config file")
	port := flag.String("port", "", "serial port, overrides serial.port")
	broker := flag.String("broker", "", "MQTT broker URL, overrides mqtt.broker")
	logLevel := flag.String("log-level", "", "log level, overrides log_level")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "uavtalk-bridge:", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "uavtalk-bridge: invalid config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat, terminal.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		fmt.Fprintln(os.Stderr, "uavtalk-bridge:", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	r := router.New(router.Config{
		ForwardFrames: true,
		Logger:        logger,
	})

	st := serial.New(cfg.serialConfig(logger))
	mt := mqtt.New(cfg.mqttConfig(logger))

	logState := func(t transport.Transport, ev transport.Event) {
		logger.Info("transport state changed", "transport", fmt.Sprintf("%T", t), "event", ev.String())
	}
	st.SetStateHandler(logState)
	mt.SetStateHandler(logState)

	r.AddTransport(st, transport.FrameSourceSerial)
	r.AddTransport(mt, transport.FrameSourceMQTT)

	mon := connection.NewMonitor(connection.MonitorConfig{
		Interval: cfg.LinkInterval,
		Logger:   logger,
	})
	objects := store.NewMemoryStore(store.MemoryConfig{
		OverwriteWhenFull: true,
		Logger:            logger,
	})
	r.SetFrameHandler(func(frame *codec.Frame, src transport.FrameSource) {
		mon.Touch(src)
		if _, err := objects.Update(frame); err != nil {
			logger.Debug("object not stored", "object", frame.Key().String(), "error", err)
		}
	})
	go mon.Start(ctx)
	defer mon.Stop()

	r.Start(ctx)
	defer r.Stop()

	if err := mt.Start(ctx); err != nil {
		return fmt.Errorf("starting mqtt: %w", err)
	}
	defer mt.Stop()

	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting serial: %w", err)
	}
	defer st.Stop()

	logger.Info("bridge running",
		"port", cfg.Serial.Port,
		"broker", cfg.MQTT.Broker,
		"topic", cfg.MQTT.TopicPrefix+"/"+cfg.MQTT.LinkID)

	ticker := time.NewTicker(cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			logStats(logger, r, st, objects)
			return nil
		case <-ticker.C:
			logStats(logger, r, st, objects)
		}
	}
}

func logStats(logger *slog.Logger, r *router.Router, st *serial.Transport, objects store.ObjectStore) {
	c := r.Counters.Snapshot()
	p := st.Stats()
	logger.Info("link stats",
		"frames_recv", c.FramesRecv,
		"frames_sent", c.FramesSent,
		"forwarded", c.Forwarded,
		"echoes", c.Duplicates,
		"objects", objects.Count(),
		"rx_bytes", p.RxBytes,
		"rx_discarded", p.RxDiscarded,
		"rx_header_errors", p.RxHeaderErrors,
		"rx_crc_errors", p.RxCRCErrors)
}
