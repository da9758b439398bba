package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"price-history-backfill/internal/checkpoint"
)

// Show prints a summary table of checkpoint files. opts.Path may be a single
// checkpoint or a directory; it defaults to backfill.checkpoint_dir.
func (a *App) Show(opts ShowOptions) error {
	return a.show(os.Stdout, opts)
}

func (a *App) show(out io.Writer, opts ShowOptions) error {
	path := opts.Path
	if path == "" {
		path = a.Config.Backfill.CheckpointDir
	}

	files, err := checkpointFiles(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "no checkpoints found")
		return nil
	}
	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[len(files)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Checkpoint\tProcessed\tFailed\tRows inserted\tRows failed\tSkipped\tLast updated (UTC)")

	for _, file := range files {
		rec, err := checkpoint.Load(file)
		if err != nil {
			a.Logger.Warn().Err(err).Str("path", file).Msg("unreadable checkpoint")
			fmt.Fprintf(writer, "%s\t-\t-\t-\t-\t-\t%s\n", filepath.Base(file), "unreadable")
			continue
		}
		updated := "-"
		if rec.LastUpdated != nil {
			updated = rec.LastUpdated.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			filepath.Base(file),
			len(rec.ProcessedProducts),
			len(rec.FailedProducts),
			rec.Stats.TotalInserted,
			rec.Stats.TotalFailed,
			rec.Stats.TotalSkipped,
			updated,
		)
	}

	return writer.Flush()
}

// checkpointFiles lists checkpoint files oldest first; run ids sort by time.
func checkpointFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	files, err := filepath.Glob(filepath.Join(path, "checkpoint_*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
