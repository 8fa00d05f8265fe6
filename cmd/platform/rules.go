package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinassist/platform/internal/claims"
	"github.com/clinassist/platform/internal/verification"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule configuration",
	}
	cmd.AddCommand(rulesCheckCmd())
	return cmd
}

func rulesCheckCmd() *cobra.Command {
	var claimRulesPath string
	cmd := &cobra.Command{
		Use:   "check [verification-rules.yaml]",
		Short: "Validate verification and claim rule files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			out := cmd.OutOrStdout()

			cfg, err := verification.LoadConfig(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "verification rules %s: ok (version %d, %d disclosure keywords, %d guarded prefixes, %d aliases)\n",
				sourceName(path), cfg.Version, len(cfg.DisclosureKeywords), len(cfg.WarningPhraseGuards), len(cfg.WarningPrefixAliases))

			rules, err := claims.LoadRules(claimRulesPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "claim rules %s: ok (%d required demographics, %d diagnosis and %d procedure code types)\n",
				sourceName(claimRulesPath), len(rules.RequiredDemographics),
				len(rules.AcceptedDiagnosisCodeTypes), len(rules.AcceptedProcedureCodeTypes))
			return nil
		},
	}
	cmd.Flags().StringVar(&claimRulesPath, "claims", "", "Claim rules YAML (defaults to the embedded rules)")
	return cmd
}

func sourceName(path string) string {
	if path == "" {
		return "(embedded)"
	}
	return path
}
