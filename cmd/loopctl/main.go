package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/loopctl-dev/loopctl/cmd/app"
	httpctrl "github.com/loopctl-dev/loopctl/internal/controllers/http"
	modbusctrl "github.com/loopctl-dev/loopctl/internal/controllers/modbus"
	mqttctrl "github.com/loopctl-dev/loopctl/internal/controllers/mqtt"
	"github.com/loopctl-dev/loopctl/internal/device"
	"github.com/loopctl-dev/loopctl/internal/loop"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config file (.yaml/.yml/.json)")
	flag.Parse()

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}
	snap, err := cfg.Snapshot()
	if err != nil {
		log.Fatal(err)
	}

	l, err := loop.New(snap, cfg.PIDParams(), cfg.TunerParams(), cfg.PlantParams())
	if err != nil {
		log.Fatal(err)
	}
	dev := device.New(cfg.DeviceID, l)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return l.Run(ctx, cfg.Loop.StepInterval)
	})

	if cfg.Controllers.HTTP.Enabled {
		srv := httpctrl.New(dev.L, cfg.Controllers.HTTP.Addr, dev.ID)
		log.Printf("http listening on %s", cfg.Controllers.HTTP.Addr)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if cfg.Controllers.MQTT.Enabled {
		mc, err := mqttctrl.New(dev.L, mqttctrl.Config{
			DeviceID:        dev.ID,
			BrokerURL:       cfg.Controllers.MQTT.BrokerURL,
			ClientID:        cfg.Controllers.MQTT.ClientID,
			BaseTopic:       cfg.Controllers.MQTT.BaseTopic,
			QoS:             cfg.Controllers.MQTT.QoS,
			RetainSnapshot:  cfg.Controllers.MQTT.RetainSnapshot,
			PublishInterval: cfg.Controllers.MQTT.PublishInterval,
			Username:        cfg.Controllers.MQTT.Username,
			Password:        cfg.Controllers.MQTT.Password,
		})
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("mqtt connecting to %s", cfg.Controllers.MQTT.BrokerURL)
		g.Go(func() error {
			return mc.Run(ctx)
		})
	}

	if cfg.Controllers.MODBUS.Enabled {
		mb, err := modbusctrl.New(dev.L, modbusctrl.Config{
			DeviceID: dev.ID,
			Addr:     cfg.Controllers.MODBUS.Addr,
			UnitID:   cfg.Controllers.MODBUS.UnitID,
		})
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("modbus listening on %s", cfg.Controllers.MODBUS.Addr)
		g.Go(func() error {
			return mb.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("exited: %v", err)
	}
}
