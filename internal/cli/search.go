package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/sourcefinder/internal/clock"
	"github.com/kiranshivaraju/sourcefinder/internal/config"
	"github.com/kiranshivaraju/sourcefinder/internal/gateway"
	"github.com/kiranshivaraju/sourcefinder/internal/logging"
	"github.com/kiranshivaraju/sourcefinder/internal/tracker"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
	"github.com/spf13/cobra"
)

// ErrSearchFailed is returned when the search ends in the failed phase.
var ErrSearchFailed = errors.New("search failed")

type searchOptions struct {
	sequence string
	file     string
	mode     string
	database string
	timeout  time.Duration
	asJSON   bool
}

func buildSearchCommand() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a similarity search and wait for the result",
		Long: "Submit a sequence to the search service, print each status change on stderr\n" +
			"and the result on stdout. Exits non-zero if the search fails or times out.",
		Example: `  sourcefinder search --sequence ACGTTGCA --mode blastn --database nt
  sourcefinder search --file query.fasta --mode blastp --database swissprot --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.query(cmd.InOrStdin())
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			cfg, err := config.LoadSearch()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			_, closer := logging.SetupTo(cfg.Log, cmd.ErrOrStderr())
			defer closer.Close()

			gw, err := gateway.NewHTTPClient(cfg.Search)
			if err != nil {
				return fmt.Errorf("create gateway: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			tcfg := tracker.Config{
				Policy:            cfg.Tracker.SubmitPolicy,
				Interval:          cfg.Poll.Interval,
				MaxStatusFailures: cfg.Poll.MaxStatusFailures,
			}
			return runSearch(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), gw, clock.Real{}, tcfg, q, opts.asJSON)
		},
	}

	cmd.Flags().StringVarP(&opts.sequence, "sequence", "s", "", "query sequence")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read the sequence from a file (- for stdin)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(models.SearchModeBlastn), "search mode: blastn, blastp, blastx, tblastn, tblastx")
	cmd.Flags().StringVarP(&opts.database, "database", "d", string(models.DatabaseNT), "database: nt, nr, refseq_rna, refseq_protein, swissprot, core_nt")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "give up waiting after this long (0 waits forever)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the final snapshot as JSON")
	cmd.MarkFlagsMutuallyExclusive("sequence", "file")

	return cmd
}

func (o searchOptions) query(stdin io.Reader) (models.Query, error) {
	seq := o.sequence
	if o.file != "" {
		var data []byte
		var err error
		if o.file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(o.file)
		}
		if err != nil {
			return models.Query{}, fmt.Errorf("read sequence: %w", err)
		}
		seq = string(data)
	}
	seq = strings.TrimSpace(seq)
	if seq == "" {
		return models.Query{}, errors.New("a sequence is required (use --sequence or --file)")
	}

	q := models.Query{
		Sequence:   seq,
		SearchMode: models.SearchMode(strings.ToLower(o.mode)),
		Database:   models.Database(strings.ToLower(o.database)),
	}
	if err := q.Validate(); err != nil {
		return models.Query{}, err
	}
	return q, nil
}

// runSearch tracks one search to a terminal phase. Progress lines go to
// stderr; the outcome goes to stdout.
func runSearch(ctx context.Context, stdout, stderr io.Writer, gw gateway.Client, c clock.Clock, cfg tracker.Config, q models.Query, asJSON bool) error {
	t := tracker.New(gw, c, cfg, tracker.WithListener(progressPrinter(stderr)))
	defer t.Close()

	if _, err := t.Submit(q); err != nil {
		return err
	}

	snap, err := t.Wait(ctx)
	if err != nil {
		return fmt.Errorf("search did not finish (last status %q after %d ticks): %w",
			snap.StatusLabel, snap.ElapsedTicks, err)
	}
	// flush progress before the result
	t.Close()

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else if snap.Phase == models.PhaseCompleted {
		printResult(stdout, snap)
	}

	if snap.Phase == models.PhaseFailed {
		return fmt.Errorf("%w: %s", ErrSearchFailed, snap.ErrorMessage)
	}
	return nil
}

func progressPrinter(w io.Writer) tracker.Listener {
	var last models.JobSnapshot
	return func(s models.JobSnapshot) {
		if s.Phase == last.Phase && s.StatusLabel == last.StatusLabel && s.Advisory == last.Advisory {
			return
		}
		last = s
		line := fmt.Sprintf("[%4d] %-11s %s", s.ElapsedTicks, s.Phase, s.StatusLabel)
		if s.Advisory != "" {
			line += " (" + s.Advisory + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func printResult(w io.Writer, s models.JobSnapshot) {
	r := s.Result
	fmt.Fprintf(w, "Search completed after %d ticks\n\n", s.ElapsedTicks)
	fmt.Fprintf(w, "Summary:      %s\n", r.Summary)
	fmt.Fprintf(w, "Tree image:   %s\n", r.TreeImageURL)
	fmt.Fprintf(w, "Full results: %s\n", r.FullResultURL)

	if len(r.TopHits) == 0 {
		fmt.Fprintln(w, "\nNo hits.")
		return
	}
	fmt.Fprintln(w, "\nTop hits:")
	for i, h := range r.TopHits {
		fmt.Fprintf(w, "%3d. %s\n", i+1, h.Title)
		if h.PublicationLink != "" {
			fmt.Fprintf(w, "     %s\n", h.PublicationLink)
		}
	}
}
