package main

import (
	"os"
	"time"

	"github.com/sweeney/garage-door/internal/door"
	"github.com/sweeney/garage-door/internal/gpio"
	"github.com/sweeney/garage-door/internal/logger"
	"github.com/sweeney/garage-door/internal/metrics"
	"github.com/sweeney/garage-door/internal/mqtt"
	"github.com/sweeney/garage-door/internal/status"
)

// connection reports broker reachability.
type connection interface {
	IsConnected() bool
}

// controller is everything the control loop owns. Only runLoop touches the
// machine and the router.
type controller struct {
	sensors gpio.SensorReader
	machine *door.Machine
	router  *mqtt.Router
	conn    connection
	tracker *status.Tracker
	metrics *metrics.Metrics
	log     logger.Logger
}

// runLoop serialises inbound commands and sensor polls onto one goroutine.
// It returns after publishing the offline presence on a signal.
func runLoop(c controller, now func() time.Time, tick <-chan time.Time, inbound <-chan mqtt.Message, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			c.log.Infof("received %v, shutting down", s)
			c.router.Shutdown()
			return nil

		case msg := <-inbound:
			out := c.router.Handle(msg, now())
			if out.Err != nil {
				c.log.Errorf("%s on %s: %v", out, msg.Topic, out.Err)
			} else {
				c.log.Debugf("%s on %s", out, msg.Topic)
			}
			c.update()

		case <-tick:
			t := now()
			var events []door.Event
			if s, err := c.sensors.Read(); err != nil {
				c.log.Warnf("gpio read error: %v", err)
			} else {
				events = c.machine.Sample(s, t)
			}

			// Pulses are released even when the sensors could not be read.
			evs, err := c.machine.Tick(t)
			if err != nil {
				c.log.Errorf("relay error: %v", err)
			}
			c.router.Notify(append(events, evs...), t)

			if c.router.Tick(t) {
				if net := readNetworkInfo(); net != nil {
					c.tracker.SetNetwork(net)
				}
			}
			c.update()
		}
	}
}

func (c controller) update() {
	connected := c.conn.IsConnected()
	c.metrics.MQTTConnected(connected)
	c.tracker.Update(c.machine.Snapshot())
	c.tracker.SetMQTTConnected(connected)
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
