// Command garage-door drives a garage door opener's relays from MQTT
// commands and publishes the door state inferred from its end-stop sensors.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sweeney/garage-door/internal/config"
	"github.com/sweeney/garage-door/internal/door"
	"github.com/sweeney/garage-door/internal/gpio"
	"github.com/sweeney/garage-door/internal/logger"
	"github.com/sweeney/garage-door/internal/metrics"
	"github.com/sweeney/garage-door/internal/mqtt"
	"github.com/sweeney/garage-door/internal/status"
	"github.com/sweeney/garage-door/internal/web"
)

var (
	cfgPath string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "garage-door",
	Short:         "Garage door controller bridging GPIO relays and sensors to MQTT",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the sensor levels and the inferred door state, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printState()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versioninfo.Short())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before GARAGE_ overrides")
	rootCmd.AddCommand(stateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.New("main").Errorf("fatal: %v", err)
		os.Exit(1)
	}
}

func openBoard(cfg *config.Config) (*gpio.Board, error) {
	boardCfg, err := cfg.GPIO.Board(cfg.Door.UsingTopSensor, cfg.Door.UsingBottomSensor)
	if err != nil {
		return nil, fmt.Errorf("gpio config: %w", err)
	}
	board, err := gpio.NewBoard(boardCfg)
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	return board, nil
}

func printState() error {
	cfg, err := config.Load(cfgPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	board, err := openBoard(cfg)
	if err != nil {
		return err
	}
	defer board.Close()

	s, err := board.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	m := door.New(cfg.Door.Machine(), board, s, time.Now())
	fmt.Printf("top: %s, bottom: %s, relay power: %s, door: %s\n",
		levelString(cfg.Door.UsingTopSensor, s.Top),
		levelString(cfg.Door.UsingBottomSensor, s.Bottom),
		levelString(true, s.RelayPower),
		m.State())
	return nil
}

func run() error {
	cfg, err := config.Load(cfgPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)
	log := logger.New("main")
	version := versioninfo.Short()

	board, err := openBoard(cfg)
	if err != nil {
		return err
	}
	defer board.Close()

	start := time.Now()
	initial, err := board.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	machine := door.New(cfg.Door.Machine(), board, initial, start)
	log.Infof("door %s at boot (top=%v bottom=%v), target %s", machine.State(), initial.Top, initial.Bottom, machine.Target())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	m.DoorState(machine.State())

	interval := time.Duration(cfg.Telemetry.IntervalMs) * time.Millisecond
	router, err := mqtt.NewRouter(mqtt.RouterConfig{
		Prefix:      cfg.DeviceName,
		Interval:    interval,
		MaxPayload:  cfg.Telemetry.MaxPayloadSize,
		Diagnostics: cfg.Diagnostics,
		BootPolicy:  door.BootPolicy(cfg.Door.BootTargetState),
		Version:     version,
		Discovery: mqtt.DiscoveryConfig{
			Enabled: cfg.HADiscovery.Enabled,
			Prefix:  cfg.HADiscovery.Prefix,
			Name:    cfg.HADiscovery.Name,
		},
	}, machine, board, nil, logger.New("mqtt"), m, start)
	if err != nil {
		return fmt.Errorf("mqtt router: %w", err)
	}

	client, err := mqtt.NewRealClient(mqtt.ClientConfig{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		KeepAlive:      time.Duration(cfg.MQTT.KeepAliveMs) * time.Millisecond,
		ConnectTimeout: time.Duration(cfg.MQTT.ConnectTimeoutMs) * time.Millisecond,
		Will:           router.Will(),
		Birth:          router.BirthMessages(),
		Subscriptions:  router.Subscriptions(),
		BufferSize:     cfg.MQTT.BufferSize,
		OnPublishError: func(string, error) { m.PublishFailed() },
	}, logger.New("mqtt"))
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	defer client.Close()
	router.Attach(client)

	tracker := status.NewTracker(start, status.Config{
		DeviceName:    cfg.DeviceName,
		PollMs:        int64(cfg.PollMs),
		IntervalMs:    int64(cfg.Telemetry.IntervalMs),
		TimeToOpenMs:  int64(cfg.Door.TimeToOpenMs),
		TimeToCloseMs: int64(cfg.Door.TimeToCloseMs),
		TopSensor:     cfg.Door.UsingTopSensor,
		BottomSensor:  cfg.Door.UsingBottomSensor,
		Diagnostics:   cfg.Diagnostics,
		Broker:        cfg.MQTT.Broker,
		HTTPAddr:      cfg.HTTP.Addr,
		Version:       version,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	if cfg.HTTP.Enabled() {
		srv := web.New(cfg.HTTP.Addr, tracker, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infof("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Infof("started %s: device=%s poll=%dms broker=%s heartbeat=%v", version, cfg.DeviceName, cfg.PollMs, cfg.MQTT.Broker, interval)

	ticker := time.NewTicker(time.Duration(cfg.PollMs) * time.Millisecond)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(controller{
		sensors: board,
		machine: machine,
		router:  router,
		conn:    client,
		tracker: tracker,
		metrics: m,
		log:     log,
	}, time.Now, ticker.C, client.Messages(), sigCh)
}

func levelString(fitted, on bool) string {
	switch {
	case !fitted:
		return "not fitted"
	case on:
		return "asserted"
	}
	return "clear"
}
