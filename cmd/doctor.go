package cmd

import (
	"fmt"

	"adforge/internal/app"
	"adforge/internal/config"
	"adforge/internal/services"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and provider setup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ok := color.GreenString("OK")
		fail := color.RedString("FAIL")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(out, "Loading configuration... %s\n", fail)
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Fprintf(out, "Loading configuration... %s\n", ok)

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(out, "Validating configuration... %s\n  %v\n", fail, err)
			return err
		}
		fmt.Fprintf(out, "Validating configuration... %s\n", ok)

		if cfg.Generation.PromptTemplate != "" {
			if _, err := config.LoadPromptContent(cfg.Generation.PromptTemplate); err != nil {
				fmt.Fprintf(out, "Scenario prompt %s... %s\n  %v\n", cfg.Generation.PromptTemplate, color.YellowString("WARN"), err)
			} else {
				fmt.Fprintf(out, "Scenario prompt %s... %s\n", cfg.Generation.PromptTemplate, ok)
			}
		}

		appInstance, err := app.NewApp(cmd.Context(), cfg)
		if err != nil {
			fmt.Fprintf(out, "Initializing provider %q... %s\n", cfg.Generation.Provider, fail)
			return err
		}
		defer appInstance.Close()

		if appInstance.Client.Status() != services.ProviderStatusActive {
			fmt.Fprintf(out, "Provider %s... %s (disabled)\n", appInstance.Client.Name(), fail)
			return fmt.Errorf("provider %s is not active", appInstance.Client.Name())
		}
		fmt.Fprintf(out, "Provider %s... %s\n", appInstance.Client.Name(), ok)
		fmt.Fprintf(out, "Campaign: %d shots, %d at a time\n", cfg.Campaign.ShotCount, cfg.Campaign.Concurrency)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
