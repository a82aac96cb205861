package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"receipt-scan-service/internal/client"
	"receipt-scan-service/internal/entity"
	"receipt-scan-service/internal/service"
)

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <image>",
		Short: "Upload a receipt image and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runSubmit(ctx context.Context, path string, out, errOut io.Writer) error {
	content, contentType, err := readImage(path)
	if err != nil {
		return err
	}

	bar := newProgressBar(errOut)
	poller := newPoller(newAPI(), client.WithProgress(func(p client.Progress) {
		bar.Describe(p.Step)
		if err := bar.Set(p.Percent); err != nil {
			slog.Warn("update progress bar", "error", err)
		}
	}))

	res, err := poller.Scan(ctx, filepath.Base(path), contentType, content)
	_ = bar.Exit()
	fmt.Fprintln(errOut)

	switch {
	case err == nil:
		return printJSON(out, res)
	case errors.Is(err, context.Canceled):
		if id := poller.JobID(); id != "" {
			fmt.Fprintf(errOut, "stopped waiting; job %s keeps running, check it with: receipt-scan status %s\n", id, id)
			return nil
		}
		return err
	default:
		return scanError(err, poller.JobID())
	}
}

// scanError phrases a poller outcome for the terminal.
func scanError(err error, jobID string) error {
	var failed *client.JobFailedError
	switch {
	case errors.As(err, &failed):
		return fmt.Errorf("processing failed: %w", err)
	case errors.Is(err, client.ErrTimeout):
		return fmt.Errorf("%w (job %s)", err, jobID)
	default:
		return err
	}
}

// readImage applies the upload rules locally so an obviously bad file never leaves the machine.
func readImage(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, service.DefaultMaxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(content)) > service.DefaultMaxUploadBytes {
		return nil, "", service.ErrFileTooLarge
	}

	declared := mime.TypeByExtension(filepath.Ext(path))
	if declared == "" {
		declared = "application/octet-stream"
	}
	contentType, err := service.CheckImage(content, declared)
	if err != nil {
		return nil, "", err
	}
	return content, contentType, nil
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription(client.StepLabel(0)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func printJSON(w io.Writer, res *entity.ScanResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
