package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/valuedesk/backend/internal/client"
	"github.com/valuedesk/backend/internal/models"
	"github.com/valuedesk/backend/internal/upload"
	"golang.org/x/sync/errgroup"
)

var (
	statusColors = map[models.FileStatus]*color.Color{
		models.FileStatusUploading:  color.New(color.FgYellow),
		models.FileStatusProcessing: color.New(color.FgCyan),
		models.FileStatusCompleted:  color.New(color.FgGreen),
		models.FileStatusError:      color.New(color.FgRed),
	}
	rejectColor = color.New(color.FgRed, color.Bold)
)

type pushFlags struct {
	maxFiles    int
	maxSize     int64
	types       []string
	extract     bool
	concurrency int
	policy      string
}

func newPushCmd(root *rootFlags) *cobra.Command {
	flags := &pushFlags{}

	cmd := &cobra.Command{
		Use:   "push [files...]",
		Short: "Upload files as one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return push(ctx, cmd.OutOrStdout(), root.logger(cmd), root.client(), opts, flags.extract, args)
		},
	}

	bindPushFlags(cmd, flags)
	return cmd
}

func bindPushFlags(cmd *cobra.Command, flags *pushFlags) {
	defaults := upload.DefaultOptions()
	cmd.Flags().IntVar(&flags.maxFiles, "max-files", defaults.MaxFileCount, "maximum files in the batch (0 = unlimited)")
	cmd.Flags().Int64Var(&flags.maxSize, "max-size", defaults.MaxFileSizeBytes, "maximum file size in bytes (0 = unlimited)")
	cmd.Flags().StringSliceVar(&flags.types, "types", defaults.AllowedTypes, "accepted MIME types, wildcards and extensions")
	cmd.Flags().BoolVar(&flags.extract, "extract", false, "run text extraction on uploaded images and PDFs")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 4, "parallel uploads (0 = unbounded)")
	cmd.Flags().StringVar(&flags.policy, "policy", "", "YAML upload policy; explicit flags override it")
}

// options merges the policy file with flags the user set.
func (f *pushFlags) options(cmd *cobra.Command) (upload.Options, error) {
	opts := upload.DefaultOptions()
	opts.MaxConcurrentUploads = f.concurrency
	if f.policy != "" {
		var err error
		if opts, err = upload.LoadPolicy(f.policy); err != nil {
			return opts, err
		}
	}

	changed := cmd.Flags().Changed
	if f.policy == "" || changed("max-files") {
		opts.MaxFileCount = f.maxFiles
	}
	if f.policy == "" || changed("max-size") {
		opts.MaxFileSizeBytes = f.maxSize
	}
	if f.policy == "" || changed("types") {
		opts.AllowedTypes = f.types
	}
	if changed("concurrency") {
		opts.MaxConcurrentUploads = f.concurrency
	}
	if f.extract {
		opts.ExtractionEnabled = true
	}
	return opts, opts.Validate()
}

func push(ctx context.Context, out io.Writer, log *slog.Logger, c *client.Client, opts upload.Options, extract bool, paths []string) error {
	sources, err := localSources(paths)
	if err != nil {
		return err
	}

	printer := &statusPrinter{out: out, last: make(map[int]models.FileStatus)}
	coord := upload.NewCoordinator(opts, c, c, upload.Hooks{
		FilesChanged:  printer.filesChanged,
		ExtractedData: printer.extracted,
	}, log)
	defer coord.Close()

	g, gctx := errgroup.WithContext(ctx)
	finished := make(chan struct{})

	// Interrupts close the coordinator so in-flight work stops.
	g.Go(func() error {
		select {
		case <-gctx.Done():
			coord.Close()
			return gctx.Err()
		case <-finished:
			return nil
		}
	})

	g.Go(func() error {
		defer close(finished)

		_, rejected := coord.Intake(sources)
		for _, r := range rejected {
			rejectColor.Fprintf(out, "%-10s %s  %s\n", "rejected", r.Name, r.Reason)
		}
		coord.Wait()

		if extract {
			for _, f := range coord.Batch() {
				if f.Status() != models.FileStatusCompleted || !f.Extractable() {
					continue
				}
				if err := coord.RequestExtraction(f.ID); err != nil {
					log.Warn("extraction not started", slog.String("file", f.Name), slog.Any("error", err))
				}
			}
			coord.Wait()
		}

		failed := len(rejected)
		for _, f := range coord.Batch() {
			if f.Status() == models.FileStatusError {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d", errFilesFailed, failed, len(sources))
		}
		return nil
	})

	return g.Wait()
}

// statusPrinter prints a line whenever a file changes status.
type statusPrinter struct {
	out  io.Writer
	last map[int]models.FileStatus
}

func (p *statusPrinter) filesChanged(files []models.TrackedFile) {
	for i, f := range files {
		status := f.Status()
		if p.last[i] == status {
			continue
		}
		p.last[i] = status

		line := fmt.Sprintf("%-10s %s", status, f.Name)
		switch status {
		case models.FileStatusCompleted, models.FileStatusProcessing:
			line += "  " + f.ID
		case models.FileStatusError:
			line += "  " + f.ErrorMessage()
		}
		statusColors[status].Fprintln(p.out, line)
	}
}

func (p *statusPrinter) extracted(fileID string, result models.ExtractionResult) {
	data, err := json.MarshalIndent(map[string]any{"id": fileID, "confidence": result.Confidence, "data": result.ExtractedData}, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(p.out, string(data))
}

func localSources(paths []string) ([]models.SourceFile, error) {
	sources := make([]models.SourceFile, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", path)
		}
		p := path
		sources = append(sources, models.SourceFile{
			Name: filepath.Base(p),
			Size: info.Size(),
			Open: func() (io.ReadCloser, error) { return os.Open(p) },
		})
	}
	return sources, nil
}

var errFilesFailed = errors.New("files failed")
