// Package main implements a robot simulator for exercising the tuner
// end-to-end against a real MQTT broker. It publishes scripted shot events
// on the FiringSolver keys, echoes coefficient writes back into the
// snapshot keys the way the robot bridge does, and models a shot outcome
// whose hit probability peaks at a configurable target value, so a running
// tuner should converge toward it.
//
// Usage:
//
//	go run ./test/simulate \
//	  -broker "tcp://localhost:1883" \
//	  -coefficient dragCoefficient \
//	  -target 0.55 \
//	  -shot-interval 500ms \
//	  -duration 5m
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mmarchjr/MLtune/internal/telemetry"
)

func main() {
	var (
		brokerURL    = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		coefficient  = flag.String("coefficient", "dragCoefficient", "Coefficient name whose value drives the hit model")
		initial      = flag.Float64("initial", 0.47, "Coefficient value before the tuner's first write")
		target       = flag.Float64("target", 0.55, "Value at which hit probability peaks")
		width        = flag.Float64("width", 0.15, "Width of the hit-probability peak")
		shotInterval = flag.Duration("shot-interval", 500*time.Millisecond, "Delay between simulated shots")
		duration     = flag.Duration("duration", 5*time.Minute, "How long to fire before exiting")
		matchAt      = flag.Duration("match-at", 0, "If nonzero, raise the FMS match flag for 10s after this delay")
		seed         = flag.Int64("seed", 42, "Hit model RNG seed")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	opts := mqtt.NewClientOptions().
		AddBroker(*brokerURL).
		SetClientID("mltune-simulator").
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.Error("failed to connect to broker", "error", token.Error(), "broker", *brokerURL)
		os.Exit(1)
	}
	defer client.Disconnect(250)

	logger.Info("simulator connected",
		"broker", *brokerURL,
		"coefficient", *coefficient,
		"target", *target,
		"shot_interval", *shotInterval,
	)

	// Track the tuner's writes the way the robot bridge does: the written
	// value becomes the active coefficient and is echoed into the snapshot
	// the next shot carries.
	var mu sync.Mutex
	active := *initial

	writeTopic := telemetry.CoefficientKeyPrefix + *coefficient
	sub := client.Subscribe(writeTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		v, err := strconv.ParseFloat(string(msg.Payload()), 64)
		if err != nil {
			logger.Warn("ignoring unparseable coefficient write", "payload", string(msg.Payload()))
			return
		}
		mu.Lock()
		active = v
		mu.Unlock()
		logger.Info("coefficient write received", "value", v)
	})
	sub.Wait()
	if err := sub.Error(); err != nil {
		logger.Error("failed to subscribe to coefficient writes", "error", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	publish := func(key string, value any) {
		client.Publish(key, 0, true, fmt.Sprintf("%v", value)).Wait()
	}

	if *matchAt > 0 {
		go func() {
			time.Sleep(*matchAt)
			logger.Info("raising match flag")
			publish(telemetry.KeyMatchControl, 32)
			time.Sleep(10 * time.Second)
			logger.Info("clearing match flag")
			publish(telemetry.KeyMatchControl, 0)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	deadline := time.After(*duration)
	ticker := time.NewTicker(*shotInterval)
	defer ticker.Stop()

	start := time.Now()
	shots, hits := 0, 0
	for {
		select {
		case <-sigCh:
			logger.Info("interrupted", "shots", shots, "hits", hits)
			return
		case <-deadline:
			logger.Info("simulation complete", "shots", shots, "hits", hits,
				"hit_rate", float64(hits)/math.Max(1, float64(shots)))
			return
		case <-ticker.C:
		}

		mu.Lock()
		value := active
		mu.Unlock()

		// Hit probability is a Gaussian bump over the coefficient value,
		// floored at 5% so the tuner always sees some signal.
		z := (value - *target) / *width
		pHit := 0.05 + 0.9*math.Exp(-0.5*z*z)
		hit := rng.Float64() < pHit

		distance := 2.0 + rng.Float64()*6.0
		ts := time.Since(start).Seconds()

		publish(telemetry.KeyShotDistance, distance)
		publish(telemetry.KeyPitchRadians, 0.4+rng.Float64()*0.3)
		publish(telemetry.KeyExitVelocity, 8.0+rng.Float64()*4.0)
		publish(telemetry.KeyYawRadians, rng.NormFloat64()*0.02)
		publish(telemetry.KeyShotHit, hit)
		publish(telemetry.CoefficientSnapshotPrefix+*coefficient, value)
		// Timestamp last: it is the new-sample detector, so every other
		// key must already hold this shot's data when it lands.
		publish(telemetry.KeyShotTimestamp, ts)

		shots++
		if hit {
			hits++
		}
		logger.Debug("shot fired", "timestamp", ts, "hit", hit, "value", value, "p_hit", pHit)
	}
}
