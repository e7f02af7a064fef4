package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gf-menu-scanner/internal/restaurant"
	"github.com/JakeFAU/gf-menu-scanner/internal/server"
)

// newScanCmd scans one website or Places id and prints the outcome.
func newScanCmd() *cobra.Command {
	var placeID string
	cmd := &cobra.Command{
		Use:   "scan [website]",
		Short: "Scans a single restaurant website for gluten-free evidence",
		Example: `  gf-menu-scanner scan https://example-bistro.com
  gf-menu-scanner scan --place-id ChIJN1t_tDeuEmsRUsoyG83frY4`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			website := ""
			if len(args) == 1 {
				website = strings.TrimSpace(args[0])
			}
			if (website == "") == (placeID == "") {
				return errors.New("pass exactly one of a website argument or --place-id")
			}

			pipeline, err := server.NewPipeline(rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			var outcome restaurant.ScanOutcome
			if website != "" {
				outcome = pipeline.Scanner.ScanWebsite(cmd.Context(), website)
			} else {
				outcome = pipeline.Scanner.Scan(cmd.Context(), restaurant.Restaurant{PlaceID: placeID})
			}
			rt.logger.Debug("scan finished", zap.String("status", string(outcome.Status)))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcome); err != nil {
				return fmt.Errorf("write outcome: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&placeID, "place-id", "", "Places id to resolve to a website before scanning")
	return cmd
}
