package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"iter"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/itohio/voicelog/pkg/audio"
	"github.com/itohio/voicelog/pkg/config"
	"github.com/itohio/voicelog/pkg/console"
	"github.com/itohio/voicelog/pkg/flash"
	"github.com/itohio/voicelog/pkg/flashlog"
	"github.com/itohio/voicelog/pkg/logging"
	"github.com/itohio/voicelog/pkg/sensor"
	"github.com/itohio/voicelog/pkg/session"
	"github.com/itohio/voicelog/pkg/spectral"
)

func main() {
	var (
		configFlag   = flag.String("config", "voicelog.yaml", "Configuration file path")
		imageFlag    = flag.String("image", "", "Flash image file override (empty keeps the flash in memory)")
		tonesFlag    = flag.String("tones", "440,587.33,622.25,739.99", "Comma separated tone schedule in Hz, one per audio window (0 = silence)")
		noiseFlag    = flag.Int("noise", 0, "Play this many windows of noise instead of the tone schedule")
		seedFlag     = flag.Uint64("seed", 1, "Seed for simulated sensors and noise")
		policyFlag   = flag.String("policy", "", "Full region policy override: reject or halt")
		keepFlag     = flag.Bool("keep", false, "Do not erase the flash on start")
		realtimeFlag = flag.Bool("realtime", false, "Pace audio at the capture rate and drop windows like the DMA would")
		noDumpFlag   = flag.Bool("no-dump", false, "Do not dump the flash when the session ends")
		channelFlag  = flag.String("channel", "", "Dump only this channel (name or selector)")
		levelFlag    = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		saveFlag     = flag.String("save-config", "", "Write the effective configuration to this file and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *imageFlag != "" {
		cfg.Flash.Image = *imageFlag
	}
	if *policyFlag != "" {
		cfg.Session.FullPolicy = *policyFlag
	}
	if *levelFlag != "" {
		cfg.Session.LogLevel = *levelFlag
	}
	if *keepFlag {
		cfg.Session.EraseOnStart = false
	}

	logger, err := logging.New(cfg.Session.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if *saveFlag != "" {
		if err := cfg.Save(*saveFlag); err != nil {
			logger.Fatal().Err(err).Msg("failed to save configuration")
		}
		logger.Info().Str("file", *saveFlag).Msg("configuration saved")
		return
	}

	var src audio.Source
	if *noiseFlag > 0 {
		src = audio.Noise{Cycles: *noiseFlag, Amplitude: 1000, Seed: *seedFlag}
	} else {
		schedule, err := parseTones(*tonesFlag)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid tone schedule")
		}
		src = audio.Tone{Schedule: schedule, Amplitude: 1000, SampleRate: cfg.Audio.SampleRate}
	}
	src = pace(src, cfg, *realtimeFlag)

	var only *sensor.Channel
	if *channelFlag != "" {
		c, err := sensor.Parse(*channelFlag)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid channel")
		}
		only = &c
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, src, *seedFlag, !*noDumpFlag, only, logger); err != nil {
		if errors.Is(err, session.ErrHalted) {
			logger.Error().Msg("memory full, halted after dump")
		} else {
			logger.Error().Err(err).Msg("session failed")
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, src audio.Source, seed uint64, dump bool, only *sensor.Channel, logger zerolog.Logger) error {
	var dev flash.Device
	if cfg.Flash.Image != "" {
		f, err := flash.OpenFile(cfg.Flash.Image, cfg.Flash.Geometry)
		if err != nil {
			return err
		}
		defer f.Close()
		dev = f
		logger.Info().Str("image", cfg.Flash.Image).Msg("using flash image")
	} else {
		dev = flash.NewMem(cfg.Flash.Geometry)
	}

	l, err := cfg.Layout()
	if err != nil {
		return err
	}
	for _, r := range l.Regions() {
		logger.Debug().Stringer("region", r).Msg("layout")
	}

	log, err := flashlog.New(dev, l, cfg.Ranges(), flashlog.WithLogger(logging.Component(logger, "flashlog")))
	if err != nil {
		return err
	}
	classifier, err := spectral.New(cfg.ClassifierConfig(), logging.Component(logger, "spectral"))
	if err != nil {
		return err
	}
	intake, err := audio.NewIntake(cfg.Audio.BufferSize, cfg.Audio.Shift, cfg.Audio.Pool)
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	out := console.NewWriter(os.Stdout)
	sess, err := session.New(log, classifier, sensor.NewMock(cfg.Ranges(), seed), intake,
		session.WithLogger(logging.Component(logger, "session")),
		session.WithPolicy(policy),
		session.WithConsole(out),
		session.OnCycle(func(c session.Cycle) {
			logger.Debug().
				Uint64("seq", c.Seq).
				Float64("dominant_hz", c.Result.Frequency).
				Stringer("command", c.Result.Command).
				Bool("logged", c.Logged).
				AnErr("cycle_err", c.Err).
				Msg("cycle")
		}),
	)
	if err != nil {
		return err
	}

	if err := sess.Init(cfg.Session.EraseOnStart); err != nil {
		return err
	}

	err = sess.Run(ctx, src)
	st := sess.Stats()
	logger.Info().
		Int("cycles", st.Cycles).
		Int("logged", st.Logged).
		Int("no_action", st.NoAction).
		Int("rejected", st.Rejected).
		Uint64("dropped_windows", intake.Stats().Dropped).
		Msg("session finished")

	switch {
	case errors.Is(err, session.ErrHalted):
		// the session already printed the dump
		return err
	case errors.Is(err, context.Canceled):
		logger.Warn().Msg("interrupted")
	case err != nil:
		return err
	}

	if !dump {
		return nil
	}
	if only != nil {
		return out.WriteDump(channelFilter{log: log, only: *only})
	}
	return sess.Dump()
}

// channelFilter dumps one channel and leaves the others empty.
type channelFilter struct {
	log  *flashlog.Log
	only sensor.Channel
}

func (f channelFilter) Dump(c sensor.Channel) iter.Seq2[flashlog.Record, error] {
	if c != f.only {
		return func(func(flashlog.Record, error) bool) {}
	}
	return f.log.Dump(c)
}

func parseTones(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("tone %q: %w", part, err)
		}
		if f < 0 {
			return nil, fmt.Errorf("tone %q is negative", part)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty tone schedule")
	}
	return out, nil
}

// pace makes a simulated source either run in lockstep with the session or at the
// capture rate.
func pace(src audio.Source, cfg *config.Config, realtime bool) audio.Source {
	interval := time.Duration(float64(cfg.Audio.BufferSize) / cfg.Audio.SampleRate * float64(time.Second))
	switch s := src.(type) {
	case audio.Tone:
		s.Lockstep = !realtime
		if realtime {
			s.Interval = interval
		}
		return s
	case audio.Noise:
		s.Lockstep = !realtime
		if realtime {
			s.Interval = interval
		}
		return s
	default:
		return src
	}
}
