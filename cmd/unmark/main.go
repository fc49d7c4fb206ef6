package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/LdDl/unmark/config"
	"github.com/LdDl/unmark/engine"
	"github.com/LdDl/unmark/media"
	"github.com/LdDl/unmark/pipeline"
	"github.com/LdDl/unmark/region"
	"github.com/LdDl/unmark/trajectory"
)

var (
	input        = flag.String("in", "", "Source video or image")
	output       = flag.String("out", "", "Destination file")
	configPath   = flag.String("config", "", "YAML settings file")
	engineType   = flag.String("engine", "", "Inpainting model overriding the config: "+typeList())
	bbox         = flag.String("bbox", "", "Manual watermark regions 'x1,y1,x2,y2;...' skipping detection")
	ffmpegDir    = flag.String("ffmpeg-dir", "", "Directory searched for ffmpeg and ffprobe before PATH")
	debug        = flag.Bool("debug", false, "Verbose logging")
	quiet        = flag.Bool("quiet", false, "Hide the progress bar")
	versionCheck = flag.Bool("version-check", false, "Check ffmpeg setup and exit")
)

func typeList() string {
	types := engine.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func main() {
	flag.Parse()
	logger := logrus.New()
	if err := run(logger); err != nil {
		logger.WithError(err).Error("unmark failed")
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch pipeline.KindOf(err) {
	case pipeline.CancellationRequested:
		return 130
	case pipeline.InputError:
		return 2
	default:
		return 1
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return nil, err
		}
	}
	if *engineType != "" {
		t, err := engine.ParseType(*engineType)
		if err != nil {
			return nil, err
		}
		cfg.Engine.Type = t
	}
	if *ffmpegDir != "" {
		cfg.FFmpeg.Dir = *ffmpegDir
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func run(logger *logrus.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ConfigureLogger(logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bin, err := media.Locate(cfg.FFmpeg.Dir, logger)
	if err != nil {
		return err
	}
	if err := bin.Verify(ctx); err != nil {
		return err
	}
	version, err := bin.Version(ctx)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"ffmpeg": bin.FFmpeg, "ffprobe": bin.FFprobe}).Info(version)
	if *versionCheck {
		fmt.Println(version)
		return nil
	}

	if *input == "" || *output == "" {
		flag.Usage()
		return errors.New("both -in and -out are required")
	}
	manual, err := region.ParseRegions(*bbox)
	if err != nil {
		return errors.Wrap(err, "bad -bbox")
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return err
	}
	profile, err := cfg.Profile()
	if err != nil {
		return err
	}
	var detector pipeline.Detector
	if len(manual) == 0 {
		detector = engine.NewDetector(cfg.Detector.Socket, cfg.Detector.Timeout)
	}

	opts := pipeline.DefaultOptions()
	opts.Logger = logger
	opts.Dilate = profile.Dilate
	opts.OverlapRatio = profile.OverlapRatio
	opts.ChunkRatio = profile.ChunkRatio
	opts.MinChunk = profile.MinChunk
	opts.MaxCoreFrames = cfg.Planner.MaxCoreFrames
	opts.ProgressEvery = cfg.Progress.Every
	opts.Segmenter = &trajectory.Segmenter{Penalty: cfg.Segmenter.Penalty, MinSize: cfg.Segmenter.MinSize}
	opts.Association = cfg.Association
	opts.OnState = func(s pipeline.State) {
		logger.WithField("state", s.String()).Debug("State changed")
	}

	ff := media.NewFFmpeg(bin, cfg.FFmpeg.EncodeOptions, logger)
	remover, err := pipeline.New(detector, eng, pipeline.NewFFmpegMedia(ff), opts)
	if err != nil {
		return err
	}

	runOpts := pipeline.RunOptions{Manual: manual}
	if !*quiet {
		bar := newBar(*input)
		defer bar.Finish()
		runOpts.Progress = func(percent int) bool {
			bar.Set(percent)
			return true
		}
	}

	logger.WithFields(logrus.Fields{
		"in":     *input,
		"out":    *output,
		"engine": eng.Name(),
		"manual": len(manual) > 0,
	}).Info("Removing watermark")
	if media.IsImage(*input) {
		return remover.RunImage(ctx, *input, *output, runOpts)
	}
	return remover.RunVideo(ctx, *input, *output, runOpts)
}

func newBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}
