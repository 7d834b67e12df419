package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/banshee-data/motionlab/internal/autotrack/cvtracker"
	"github.com/banshee-data/motionlab/internal/config"
	"github.com/banshee-data/motionlab/internal/media"
	"github.com/banshee-data/motionlab/internal/media/framelog"
	"github.com/banshee-data/motionlab/internal/monitoring"
)

// trackerFactory builds the visual tracker used by the track command.
var trackerFactory = cvtracker.Factory

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("motionlab", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	cfgPath := fs.String("config", "", "Configuration file (.json, .yaml or .yml)")
	envPath := fs.String("env", ".env", "Environment file loaded before the configuration")
	quiet := fs.Bool("quiet", false, "Suppress diagnostic logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() < 1 {
		printUsage(stderr)
		return 1
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	command := fs.Arg(0)
	rest := fs.Args()[1:]

	var handler func(context.Context, *config.Config, []string, io.Writer) error
	switch command {
	case "probe":
		handler = handleProbe
	case "frame":
		handler = handleFrame
	case "record":
		handler = handleRecord
	case "track":
		handler = handleTrack
	case "export":
		handler = handleExport
	case "fit":
		handler = handleFit
	case "archive":
		handler = handleArchive
	case "version":
		printVersion(stdout)
		return 0
	case "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 1
	}

	cfg, err := loadConfig(*envPath, *cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := handler(ctx, cfg, rest, stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%s failed: %v\n", command, err)
		return 1
	}
	return 0
}

// loadConfig applies envPath, if it exists, to the process environment and
// then reads cfgPath. An empty cfgPath uses the built-in defaults.
func loadConfig(envPath, cfgPath string) (*config.Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg := config.Empty()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// newDecoder picks the decoder for path: frame logs are replayed, anything
// else goes through ffmpeg.
func newDecoder(cfg *config.Config, path string) media.Decoder {
	if strings.HasSuffix(strings.TrimRight(path, string(os.PathSeparator)), framelog.FileExtension) {
		return framelog.NewReplayer()
	}
	return media.NewFFmpegDecoder(cfg.GetFFmpegPath(), cfg.GetFFprobePath())
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `motionlab - frame-accurate motion analysis of video clips

Usage: motionlab [global flags] <command> [options] <input>

Commands:
  probe      Show the video stream of a clip or frame log
  frame      Seek to a time or frame and save it as PNG
  record     Decode a clip into a frame log for repeatable analysis
  track      Auto-track a selected region and save the samples as a project
  export     Export a project as CSV, Regressi, TSV, PNG plot or HTML chart
  fit        Print the best fit of each kinematic quantity of a project
  archive    Store, list, restore and delete sessions in a SQLite archive
             (schema shows the migration state, force <version> clears a dirty one)
  version    Show motionlab version
  help       Show this help message

Global Flags:
  --config <file>   Configuration file (.json, .yaml or .yml)
  --env <file>      Environment file (default: .env, ignored if missing)
  --quiet           Suppress diagnostic logging

Environment:
  MOTIONLAB_FFMPEG    Path to the ffmpeg binary
  MOTIONLAB_FFPROBE   Path to the ffprobe binary

Examples:
  # Grab frame 42 of a clip
  motionlab frame -n 42 -o frame42.png cart.mp4

  # Track a 40x40 region from t=1.2s and save cart.lab
  motionlab track -t 1.2 -x 300 -y 180 -w 40 -h 40 cart.mp4

  # Export every format next to the project
  motionlab export -format all cart.lab`)
}
