package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"facedetect/internal/model"
	"facedetect/internal/service/pipeline"

	"github.com/charmbracelet/huh"
)

// Menu choices besides the run modes.
const (
	ChoiceHistory = "history"
	ChoiceQuit    = "quit"
)

// MenuHistoryLimit is how many runs the menu shows.
const MenuHistoryLimit = 20

// Prompter asks the user what to do next.
type Prompter interface {
	// Choose returns one of the run modes, ChoiceHistory or ChoiceQuit.
	Choose() (string, error)
	// Path asks for the input of a run mode. An empty answer selects the camera for video.
	Path(mode string) (string, error)
}

// HuhPrompter prompts in the terminal.
type HuhPrompter struct{}

func (HuhPrompter) Choose() (string, error) {
	var choice string
	err := huh.NewSelect[string]().
		Title("What do you want to process?").
		Options(
			huh.NewOption("Single image", model.ModeImage),
			huh.NewOption("Folder of images", model.ModeFolder),
			huh.NewOption("Video file or camera", model.ModeVideo),
			huh.NewOption("Run history", ChoiceHistory),
			huh.NewOption("Quit", ChoiceQuit),
		).
		Value(&choice).
		Run()
	return choice, err
}

func (HuhPrompter) Path(mode string) (string, error) {
	var path string
	input := huh.NewInput().Value(&path)

	switch mode {
	case model.ModeImage:
		input.Title("Image path").Validate(required("an image path"))
	case model.ModeFolder:
		input.Title("Folder path").Validate(required("a folder path"))
	default:
		input.Title("Video path").Description("Leave empty to use the camera.")
	}

	err := input.Run()
	return strings.TrimSpace(path), err
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

// Menu loops over the prompter until the user quits. A failed run is reported and the menu continues.
func (a *App) Menu(ctx context.Context, prompter Prompter) error {
	for ctx.Err() == nil {
		choice, err := prompter.Choose()
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		if err != nil {
			return err
		}

		switch choice {
		case ChoiceQuit:
			return nil
		case ChoiceHistory:
			err = a.History(MenuHistoryLimit)
		case model.ModeImage, model.ModeFolder, model.ModeVideo:
			path, perr := prompter.Path(choice)
			if errors.Is(perr, huh.ErrUserAborted) {
				continue
			}
			if perr != nil {
				return perr
			}
			err = a.dispatch(ctx, choice, path)
		default:
			err = fmt.Errorf("unknown choice %q", choice)
		}

		if err != nil {
			a.logger.Warning("%s failed: %v", choice, err)
			fmt.Fprintln(a.out, pipeline.UserMessage(err))
		}
	}
	return nil
}

func (a *App) dispatch(ctx context.Context, mode, path string) error {
	switch mode {
	case model.ModeImage:
		return a.RunImage(ctx, path)
	case model.ModeFolder:
		return a.RunFolder(ctx, path)
	default:
		return a.RunVideo(ctx, path)
	}
}
