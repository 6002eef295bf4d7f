package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/visualcue/engine/internal/config"
	"github.com/visualcue/engine/internal/ocr"
	"github.com/visualcue/engine/internal/rules"
	"github.com/visualcue/engine/internal/screen"
	"github.com/visualcue/engine/internal/trigger"
)

// NewCheckCommand creates the check command: one evaluation pass with the
// results printed. Rules may fire, but with no reader, speech, or history
// wired the fired targets have nothing to act on.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate every rule once and print the match results",
		Long: `Run a single detection pass against the live screen and print each
rule's match percentage. Fired rules have no reader, speech, or history
to act on, so nothing observable happens; useful for tuning thresholds
and verifying regions.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, rulesPath)
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "path to the YAML rule file (overrides RULES_PATH)")
	return cmd
}

func runCheck(cmd *cobra.Command, rulesPath string) error {
	cfg := config.Load()
	if rulesPath != "" {
		cfg.RulesPath = rulesPath
	}

	capture := screen.New()
	defer capture.Close()

	// No reader, no speech, no recorder: fired rules go nowhere.
	mgr := trigger.New(trigger.Deps{
		Store:   rules.NewStore(),
		Capture: capture,
		Oracle:  ocr.New(cfg.OCRAddr),
	})
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := loadRules(ctx, cfg.RulesPath, mgr); err != nil {
		return err
	}
	if len(mgr.Store().Rules()) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no automations configured")
		return nil
	}

	mgr.RunPassOnce(ctx)

	out := cmd.OutOrStdout()
	for {
		select {
		case u := <-mgr.RuleUpdates():
			switch {
			case u.Err != nil:
				fmt.Fprintf(out, "%-20s error: %v\n", u.Name, u.Err)
			case !u.Result.Armed:
				fmt.Fprintf(out, "%-20s disarmed\n", u.Name)
			default:
				state := "no match"
				if u.Result.Matching {
					state = "MATCH"
				}
				fmt.Fprintf(out, "%-20s %6.2f%%  %s\n", u.Name, u.Result.Percent, state)
			}
		default:
			return nil
		}
	}
}
