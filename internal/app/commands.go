package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"facedetect/internal/config"
	"facedetect/internal/logger"
	"facedetect/internal/service/pipeline"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConf    = "conf"
	flagOutput  = "output"
	flagBackend = "backend"
	flagModel   = "model"
	flagPreview = "preview"
	flagWindow  = "window"
	flagLimit   = "limit"

	// DefaultPreviewAddr is used by serve when PREVIEW_ADDR is not set.
	DefaultPreviewAddr = ":8080"
)

// NewCLI builds the command line interface. Flags override values loaded into cfg.
func NewCLI(cfg *config.Config, logger *logger.Logger, opts ...Option) *cli.App {
	withApp := func(action func(c *cli.Context, a *App) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			a, err := NewApp(cfg, logger, opts...)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("Error during shutdown: %v", err)
				}
			}()
			if err := a.StartPreview(c.Context); err != nil {
				logger.Warning("Live preview disabled: %v", err)
			}
			if err := action(c, a); err != nil {
				return cli.Exit(pipeline.UserMessage(err), 1)
			}
			return nil
		}
	}

	return &cli.App{
		Name:      "facedetect",
		Usage:     "detect faces and eyes in images, folders of images and video",
		UsageText: "facedetect [global options] [command [arguments]]\n\nWithout a command an interactive menu is shown.",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  flagConf,
				Usage: "minimum confidence of reported detections",
				Value: cfg.ConfidenceThreshold,
			},
			&cli.StringFlag{
				Name:  flagOutput,
				Usage: "directory for annotated results",
				Value: cfg.OutputDirectory,
			},
			&cli.StringFlag{
				Name:  flagBackend,
				Usage: fmt.Sprintf("detector backend, one of %v", Backends),
				Value: cfg.Backend,
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: "model file (ONNX/TensorFlow network, Haar cascade or pigo cascade)",
				Value: cfg.ModelPath,
			},
			&cli.StringFlag{
				Name:  flagPreview,
				Usage: "serve a live browser preview on this address, e.g. :8080",
				Value: cfg.PreviewAddr,
			},
			&cli.BoolFlag{
				Name:  flagWindow,
				Usage: "show video frames in a window",
				Value: cfg.PreviewWindow,
			},
		},
		Before: func(c *cli.Context) error {
			applyFlags(c, cfg)
			return nil
		},
		// The exit code is decided by main.
		ExitErrHandler: func(*cli.Context, error) {},
		Action: withApp(func(c *cli.Context, a *App) error {
			if c.Args().Present() {
				return fmt.Errorf("unknown command %q", c.Args().First())
			}
			return a.Menu(c.Context, HuhPrompter{})
		}),
		Commands: []*cli.Command{
			{
				Name:      "image",
				Usage:     "annotate a single image",
				ArgsUsage: "<path>",
				Action: withApp(func(c *cli.Context, a *App) error {
					return a.RunImage(c.Context, c.Args().First())
				}),
			},
			{
				Name:      "folder",
				Usage:     "annotate every .png/.jpg/.jpeg image in a folder",
				ArgsUsage: "<dir>",
				Action: withApp(func(c *cli.Context, a *App) error {
					return a.RunFolder(c.Context, c.Args().First())
				}),
			},
			{
				Name:      "video",
				Usage:     "annotate a video file, or the camera when no path is given",
				ArgsUsage: "[path]",
				Action: withApp(func(c *cli.Context, a *App) error {
					return a.RunVideo(c.Context, c.Args().First())
				}),
			},
			{
				Name:  "history",
				Usage: "list recent runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagLimit, Usage: "number of runs to show", Value: MenuHistoryLimit},
				},
				Action: withApp(func(c *cli.Context, a *App) error {
					return a.History(c.Int(flagLimit))
				}),
			},
			{
				Name:  "serve",
				Usage: "serve the run history and live preview without processing",
				Before: func(c *cli.Context) error {
					if cfg.PreviewAddr == "" {
						cfg.PreviewAddr = DefaultPreviewAddr
					}
					return nil
				},
				Action: withApp(func(c *cli.Context, a *App) error {
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
					defer stop()
					return a.Serve(ctx)
				}),
			},
		},
	}
}

// Serve blocks until ctx is done while the preview server runs.
func (a *App) Serve(ctx context.Context) error {
	if !a.previewRunning() {
		return fmt.Errorf("preview server is not running")
	}
	fmt.Fprintf(a.out, "Serving on %s, press Ctrl+C to stop.\n", a.config.PreviewAddr)
	<-ctx.Done()
	return nil
}

// applyFlags copies the global flags the user set into cfg.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet(flagConf) {
		cfg.ConfidenceThreshold = c.Float64(flagConf)
	}
	if c.IsSet(flagOutput) {
		cfg.OutputDirectory = c.String(flagOutput)
		if os.Getenv("DB_PATH") == "" {
			cfg.DatabasePath = filepath.Join(cfg.OutputDirectory, "history.db")
		}
	}
	if c.IsSet(flagBackend) {
		cfg.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagModel) {
		cfg.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagPreview) {
		cfg.PreviewAddr = c.String(flagPreview)
	}
	if c.IsSet(flagWindow) {
		cfg.PreviewWindow = c.Bool(flagWindow)
	}
}
