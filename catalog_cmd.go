package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BatmanBruc/gpt-bot/internal/catalog"
	"github.com/BatmanBruc/gpt-bot/internal/messages"
	"github.com/BatmanBruc/gpt-bot/types"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print and validate plans and products",
	Long: `Print the compiled-in plans and products and check them for
configuration errors. Exits non-zero when the catalog is invalid.

Examples:
  gpt-bot catalog`,
	Args: cobra.NoArgs,
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}

func describeLimit(l types.Limit) string {
	switch l.Kind() {
	case types.LimitFlat:
		n, _ := l.Flat()
		return messages.Points(n) + " total"
	case types.LimitInterval:
		parts := make([]string, 0, 3)
		for _, c := range l.Caps() {
			parts = append(parts, fmt.Sprintf("%s/%s", messages.Points(c.Cap), c.Interval))
		}
		return strings.Join(parts, ", ")
	default:
		return "unlimited"
	}
}

func describeTerm(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAN\tMODEL\tLIMIT\tDISABLED")
	fmt.Fprintln(w, "----\t-----\t-----\t--------")
	for _, p := range catalog.Plans() {
		for _, code := range catalog.LimitedModels(p) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", p.Code, code, describeLimit(p.Limits[code]), p.Disabled)
		}
	}
	w.Flush()
	fmt.Println()

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tNAME\tPLAN\tTERM\tPRICE")
	fmt.Fprintln(w, "-------\t----\t----\t----\t-----")
	for _, p := range catalog.Products() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Code, p.Name, p.Plan, describeTerm(p.Term), messages.Price(p.Price, p.Currency))
	}
	w.Flush()

	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("catalog is invalid: %w", err)
	}
	fmt.Println("\ncatalog ok")
	return nil
}
