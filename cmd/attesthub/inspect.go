package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/scrtlabs/attest-hub/internal/attest"
	"github.com/scrtlabs/attest-hub/internal/parser"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var baselinePath string

	cmd := &cobra.Command{
		Use:   "inspect <quote.hex>",
		Short: "Parse a raw quote file offline using fixed byte offsets",
		Long: `Parse a hex-encoded TDX quote from a local file without contacting any
server, extracting MRTD, RTMR0-3 and report_data at their fixed offsets.
With --baseline, compares the extracted measurements against expected
values from a JSON file and exits non-zero on mismatch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectQuote(args[0], baselinePath)
		},
	}

	cmd.Flags().StringVar(&baselinePath, "baseline", "", "JSON file with expected measurement values")

	return cmd
}

func inspectQuote(quotePath, baselinePath string) error {
	raw, err := os.ReadFile(quotePath)
	if err != nil {
		return fmt.Errorf("read quote file: %w", err)
	}
	quote := strings.TrimSpace(string(raw))
	quote = strings.TrimPrefix(quote, "0x")

	p := parser.NewHardcodedParser()
	data, err := p.Parse(context.Background(), quote, "local", attest.VMConfig{}, "")
	if err != nil {
		return fmt.Errorf("parse quote: %w", err)
	}

	fmt.Printf("mrtd=%s\n", data.MRTD)
	fmt.Printf("rtmr0=%s\n", data.RTMR0)
	fmt.Printf("rtmr1=%s\n", data.RTMR1)
	fmt.Printf("rtmr2=%s\n", data.RTMR2)
	fmt.Printf("rtmr3=%s\n", data.RTMR3)
	fmt.Printf("report_data=%s\n", data.ReportData)

	if baselinePath == "" {
		return nil
	}

	baselineRaw, err := os.ReadFile(baselinePath)
	if err != nil {
		return fmt.Errorf("read baseline file: %w", err)
	}
	var baseline map[string]string
	if err := json.Unmarshal(baselineRaw, &baseline); err != nil {
		return fmt.Errorf("parse baseline file: %w", err)
	}

	if !data.MatchesBaseline(baseline) {
		return fmt.Errorf("measurements do not match baseline %s", baselinePath)
	}
	fmt.Println("baseline=match")
	return nil
}
