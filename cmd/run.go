package cmd

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"adforge/internal/clix"
	"adforge/internal/costtracker"
	"adforge/internal/fileingest"
	"adforge/internal/models"
	"adforge/internal/store"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <image|dir>...",
	Short: "Generate a full campaign from reference images",
	Long: `Loads the reference images (directories are scanned for image files),
asks the model for a scenario and renders every shot. Failed shots are retried
automatically for --retry-rounds rounds, then the scenario and all finished
images are written to --out.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return err
		}
		params, err := clix.ParseRunParams(cmd.Flags(), appInstance.Config.Output.Dir)
		if err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}
		if params.Verbose {
			log.SetLevel(log.DebugLevel)
		}

		images, err := fileingest.LoadImages(ctx, args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ctrl := appInstance.Controller
		appInstance.Store.AddObserver(newProgressPrinter(out).observe)

		fmt.Fprintf(out, "Analyzing %d reference image(s)...\n", len(images))
		if err := ctrl.Submit(ctx, images, params.Guidance); err != nil {
			return fmt.Errorf("campaign failed: %w", err)
		}
		st := ctrl.Status()
		printScenario(out, st.Scenario)

		if _, err := ctrl.Wait(ctx); err != nil {
			return fmt.Errorf("interrupted: %w", err)
		}
		for round := 1; round <= params.RetryRounds; round++ {
			n, err := ctrl.RetryFailed()
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			fmt.Fprintf(out, "%s %d failed shot(s), round %d/%d\n", color.YellowString("Retrying"), n, round, params.RetryRounds)
			if _, err := ctrl.Wait(ctx); err != nil {
				return fmt.Errorf("interrupted: %w", err)
			}
		}

		jobs := ctrl.Snapshot()
		renderJobTable(out, jobs)
		if events, err := appInstance.CostTracker.Events(ctx); err == nil && len(events) > 0 {
			renderCostTable(out, events)
		}

		res, err := appInstance.Exporter.WriteCampaign(params.OutDir, st.RunID, st.Scenario, jobs)
		if err != nil {
			return err
		}
		counts := ctrl.Status().Counts
		fmt.Fprintf(out, "\nWrote %d image(s) and scenario.json to %s\n", len(res.Files), res.Dir)
		if counts.Failed > 0 {
			fmt.Fprintf(out, "%s %d shot(s) failed; rerun or raise --retry-rounds.\n", color.RedString("Warning:"), counts.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("guidance", "g", "", "Campaign vision passed to the scenario model")
	runCmd.Flags().StringP("out", "o", "", "Output directory (default from output.dir)")
	runCmd.Flags().Int("retry-rounds", 1, "Automatic retry-all rounds for failed shots")
	runCmd.Flags().BoolP("verbose", "v", false, "Log every batch and job transition")
}

// progressPrinter prints one line per settled job. It only uses the
// transition it is given and never calls back into the controller.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

func (p *progressPrinter) observe(tr store.Transition) {
	if !tr.To.IsTerminal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c := tr.Counts
	shot := fmt.Sprintf("shot %02d/%02d", tr.Job.Index+1, c.Total)
	progress := fmt.Sprintf("[%d done, %d failed, %d left]", c.Completed, c.Failed, c.Pending+c.Generating)
	switch tr.To {
	case models.JobStatusCompleted:
		fmt.Fprintf(p.out, "  %s %s %s\n", color.GreenString("done  "), shot, progress)
	case models.JobStatusFailed:
		fmt.Fprintf(p.out, "  %s %s %s %s\n", color.RedString("failed"), shot, progress, tr.Job.Error)
	}
}

func printScenario(out io.Writer, sc *models.Scenario) {
	if sc == nil {
		return
	}
	bold := color.New(color.Bold)
	fmt.Fprintf(out, "\n%s\n", bold.Sprint(sc.Title))
	fmt.Fprintf(out, "  Concept:  %s\n", sc.Concept)
	fmt.Fprintf(out, "  Audience: %s\n", sc.TargetAudience)
	fmt.Fprintf(out, "  Hook:     %s\n\n", sc.MarketingHook)
	fmt.Fprintf(out, "Generating %d shots...\n", len(sc.ImagePrompts))
}

func renderJobTable(out io.Writer, jobs []models.Job) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "Status", "Attempts", "Prompt"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetColWidth(60)
	for _, j := range jobs {
		status := string(j.Status)
		if j.Status == models.JobStatusFailed && j.Error != "" {
			status += ": " + truncate(j.Error, 40)
		}
		table.Append([]string{strconv.Itoa(j.Index + 1), status, strconv.Itoa(j.Attempts), truncate(j.Prompt, 60)})
	}
	fmt.Fprintln(out)
	table.Render()
}

func renderCostTable(out io.Writer, events []costtracker.CostEvent) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Operation", "Calls", "Failed", "In Tokens", "Out Tokens", "Images", "Cost (USD)"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	var total float64
	for _, s := range costtracker.Summarize(events) {
		table.Append([]string{
			s.Operation,
			strconv.Itoa(s.Calls),
			strconv.Itoa(s.Failures),
			strconv.Itoa(s.InputTokens),
			strconv.Itoa(s.OutputTokens),
			strconv.Itoa(s.Images),
			fmt.Sprintf("%.4f", s.AmountUSD),
		})
		total += s.AmountUSD
	}
	table.SetFooter([]string{"", "", "", "", "", "Total", fmt.Sprintf("%.4f", total)})
	fmt.Fprintln(out)
	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
