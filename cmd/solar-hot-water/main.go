// Command solar-hot-water switches a water heater on when the battery is full
// and solar power is in surplus, reading and writing a SignalK-style MQTT bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/sweeney/solar-hot-water/internal/config"
	"github.com/sweeney/solar-hot-water/internal/gpio"
	"github.com/sweeney/solar-hot-water/internal/logging"
	"github.com/sweeney/solar-hot-water/internal/metrics"
	"github.com/sweeney/solar-hot-water/internal/mqtt"
	"github.com/sweeney/solar-hot-water/internal/session"
	"github.com/sweeney/solar-hot-water/internal/status"
	"github.com/sweeney/solar-hot-water/internal/web"
)

// refreshInterval is how often connectivity is sampled for the status page.
const refreshInterval = time.Second

func main() {
	os.Exit(execute())
}

// systemPublisher is the part of the bus used for lifecycle events.
type systemPublisher interface {
	PublishSystem(event mqtt.SystemEvent) error
	IsConnected() bool
}

// controlSession is the part of a session handle used by runLoop.
type controlSession interface {
	Stop() error
	Done() <-chan struct{}
	Err() error
}

func run(cfg config.Config) error {
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	bus, err := mqtt.Dial(cfg.MQTT, logging.Component(log, "mqtt"))
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer bus.Close()

	sinks := session.Sinks{bus}
	relayPin := -1
	if cfg.GPIO.Enabled {
		relay, err := gpio.NewRealRelay(cfg.GPIO.Chip, cfg.GPIO.RelayPin, cfg.GPIO.ActiveLow)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer func() {
			if err := relay.Close(); err != nil {
				log.Error().Err(err).Msg("gpio close")
			}
		}()
		sinks = append(sinks, gpio.Sink{Relay: relay})
		relayPin = cfg.GPIO.RelayPin
	}

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg, relayPin))
	tracker.SetMQTTConnected(bus.IsConnected())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewWithRegistry(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	observers := session.Observers{tracker, recorder}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, reg, logging.Component(log, "web"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		observers = append(observers, srv)
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http status server listening")
	}

	publishLifecycle(bus, tracker, mqtt.EventStartup, "", log)

	handle, err := session.Start(cfg.Controller, session.Deps{
		Source:   bus,
		Sink:     sinks,
		Notifier: session.Notifiers{tracker, &busNotifier{pub: bus, log: log}},
		Observer: observers,
		Log:      logging.Component(log, "session"),
	})
	if err != nil {
		publishLifecycle(bus, tracker, mqtt.EventShutdown, "ERROR", log)
		return err
	}

	log.Info().
		Str("broker", cfg.MQTT.Broker).
		Float64("soc_start", cfg.Controller.BatterySocStartThreshold).
		Float64("soc_stop", cfg.Controller.BatterySocStopThreshold).
		Float64("power_threshold", cfg.Controller.PowerThreshold).
		Dur("heartbeat", cfg.MQTT.Heartbeat).
		Msg("started")

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(handle, bus, tracker, cfg.MQTT.Heartbeat, time.Now, ticker.C, sigCh, log)
}

// runLoop waits for a signal or for the session to stop on its own, keeping
// the tracker's connectivity fresh and publishing heartbeats meanwhile.
func runLoop(h controlSession, pub systemPublisher, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, log zerolog.Logger) error {
	lastHeartbeat := now()

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			log.Info().Str("signal", name).Msg("shutting down")
			if err := h.Stop(); err != nil {
				log.Error().Err(err).Msg("session stop")
			}
			tracker.SetMQTTConnected(pub.IsConnected())
			publishLifecycle(pub, tracker, mqtt.EventShutdown, name, log)
			return nil

		case <-h.Done():
			err := h.Err()
			log.Error().Err(err).Msg("session stopped")
			tracker.SetMQTTConnected(pub.IsConnected())
			publishLifecycle(pub, tracker, mqtt.EventShutdown, "ERROR", log)
			return err

		case t := <-tick:
			tracker.SetMQTTConnected(pub.IsConnected())
			if heartbeat <= 0 || t.Sub(lastHeartbeat) < heartbeat {
				continue
			}
			lastHeartbeat = t
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				tracker.SetNetwork(net)
			}
			snap := tracker.Snapshot()
			log.Info().
				Dur("uptime", snap.Uptime()).
				Int("evaluations", snap.Counts.Evaluations).
				Str("state", snap.State()).
				Msg("heartbeat")
			publishLifecycle(pub, tracker, mqtt.EventHeartbeat, "", log)
		}
	}
}

// publishLifecycle publishes a system event carrying the full status snapshot.
// STARTUP and SHUTDOWN are retained so late subscribers see the daemon state.
func publishLifecycle(pub systemPublisher, tracker *status.Tracker, event, reason string, log zerolog.Logger) {
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != mqtt.EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := pub.PublishSystem(ev); err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to publish system event")
		return
	}
	log.Debug().Str("event", event).Msg("published system event")
}

// busNotifier forwards session notifications to the system topic.
type busNotifier struct {
	pub systemPublisher
	log zerolog.Logger
}

func (n *busNotifier) Status(msg string) {
	n.publish(mqtt.SystemEvent{Timestamp: time.Now(), Event: mqtt.EventStatus, Message: msg})
}

func (n *busNotifier) Error(err error) {
	n.publish(mqtt.SystemEvent{Timestamp: time.Now(), Event: mqtt.EventError, Message: err.Error()})
}

func (n *busNotifier) publish(ev mqtt.SystemEvent) {
	if err := n.pub.PublishSystem(ev); err != nil {
		n.log.Error().Err(err).Str("event", ev.Event).Msg("publish error")
	}
}

func statusConfig(cfg config.Config, relayPin int) status.Config {
	return status.Config{
		EnablePath:     cfg.Controller.EnablePath,
		BatterySocPath: cfg.Controller.BatterySocPath,
		PowerPath:      cfg.Controller.PowerPath,
		OutputPath:     cfg.Controller.OutputPath,
		SocStart:       cfg.Controller.BatterySocStartThreshold,
		SocStop:        cfg.Controller.BatterySocStopThreshold,
		PowerThreshold: cfg.Controller.PowerThreshold,
		HeartbeatMs:    cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTP.Addr,
		RelayPin:       relayPin,
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
