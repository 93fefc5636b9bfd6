package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/neurotap/neurotap/pkg/neurotap"
	"github.com/neurotap/neurotap/pkg/neurotap/block"
	"github.com/neurotap/neurotap/pkg/neurotap/config"
	"github.com/neurotap/neurotap/pkg/neurotap/device"
	"github.com/neurotap/neurotap/pkg/neurotap/device/emulated"
	"github.com/neurotap/neurotap/pkg/neurotap/device/file"
	"github.com/neurotap/neurotap/pkg/neurotap/output"
	"github.com/neurotap/neurotap/pkg/neurotap/status"
	"github.com/neurotap/neurotap/pkg/util"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "neurotap.yaml", "YAML config file")

	flag.Parse()
	if configFile == nil {
		flag.Usage()
		os.Exit(1)
	}

	configContents, err := os.ReadFile(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error reading config file")
	}
	var cfg config.Config
	if err := yaml.Unmarshal(configContents, &cfg); err != nil {
		log.Fatal().Err(err).Msg("error unmarshaling yaml file")
	}

	var dev device.Device

	if cfg.PlaybackLocation != "" {
		cfg.Device = "file"
	}

	switch cfg.Device {
	case "file":
		log.Info().Str("device", "file").Str("path", cfg.PlaybackLocation).Msg("initializing device...")
		// Replayed dumps carry no geometry of their own; assume the
		// emulated amplifier's layout unless reconfigured here.
		dev = file.New(cfg.PlaybackLocation, emulated.New(emulatedOptions(cfg)...).Properties())
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	default:
		log.Info().Str("device", "emulated").Msg("initializing device...")
		dev = emulated.New(emulatedOptions(cfg)...)
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if cfg.InfluxDB.Host != "" {
		writeAPI = influxdb2.NewClient(cfg.InfluxDB.Host, "").WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
	}

	engineOpts := []neurotap.EngineOption{
		neurotap.WithLogger(log.Logger),
		neurotap.WithWriteAPI(writeAPI),
		neurotap.WithOutput(output.NewLogOutput(log.Logger, writeAPI, cfg.QueueCapacity)),
	}

	if cfg.RawDumpLocation != "" {
		dump, err := os.Create(cfg.RawDumpLocation)
		if err != nil {
			log.Fatal().Err(err).Msg("error creating raw dump file")
		}
		defer dump.Close()
		engineOpts = append(engineOpts, neurotap.WithOutput(output.NewRawOutput(dump, cfg.QueueCapacity)))
	}

	if cfg.StatusServer.Port != 0 {
		engineOpts = append(engineOpts, neurotap.WithStatusServer(status.NewServer(cfg.StatusServer.Port)))
	}

	engine, err := neurotap.New(dev, neurotap.Options{
		SampleRate:        cfg.SampleRate,
		Mode:              recordingMode(cfg.Mode),
		ReferenceChannels: cfg.ReferenceChannels,
		MultipleReference: cfg.MultipleReference,
		HideReference:     cfg.HideReference,
		BlockingRead:      cfg.BlockingRead,
	}, engineOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create engine")
	}

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		return engine.Stop()
	})

	eg.Go(func() error {
		return engine.Start(ctx)
	})

	if err := eg.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited program")
	}
}

func emulatedOptions(cfg config.Config) []emulated.Option {
	var opts []emulated.Option
	if cfg.Emulation.Modules > 0 {
		opts = append(opts, emulated.WithModules(cfg.Emulation.Modules))
	}
	if cfg.Emulation.BatteryVoltage > 0 {
		opts = append(opts, emulated.WithBatteryVoltage(cfg.Emulation.BatteryVoltage))
	}
	return opts
}

func recordingMode(mode string) block.RecordingMode {
	switch mode {
	case "test":
		return block.ModeTest
	case "impedance":
		return block.ModeImpedance
	case "ledtest":
		return block.ModeLEDTest
	default:
		return block.ModeNormal
	}
}
