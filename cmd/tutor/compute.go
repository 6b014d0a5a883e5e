package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bull/course-tutor/internal/symbolic"
)

var (
	computeVariable string
	computeOrder    int
	computeLower    string
	computeUpper    string
	computeLaTeX    bool
)

var computeCmd = &cobra.Command{
	Use:   "compute <operation> <expression>",
	Short: "Compute an exact symbolic result",
	Long: `Operations: simplify, solve, derivative, integral, expand, factor.

Expressions use x**2 or x^2 for powers and may call sqrt, exp, log, sin, cos
and tan. solve accepts an equation "lhs = rhs"; a bare expression is solved
for zero.

Examples:
  tutor compute solve "x**2 - 5*x + 6"
  tutor compute derivative "sin(x)*x" --order 2
  tutor compute integral "x**2" --lower 0 --upper 1`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op, err := symbolic.ParseOperation(args[0])
		if err != nil {
			return err
		}
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.Compute(cmd.Context(), symbolic.Request{
			Operation:  op,
			Expression: strings.Join(args[1:], " "),
			Variable:   computeVariable,
			Order:      computeOrder,
			Lower:      computeLower,
			Upper:      computeUpper,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprint(out, res.Format())
		if computeLaTeX {
			color.New(color.Faint).Fprintf(out, "LaTeX: %s\n", res.LaTeX)
		}
		return nil
	},
}

func init() {
	computeCmd.Flags().StringVar(&computeVariable, "var", "", "variable to solve for or differentiate by")
	computeCmd.Flags().IntVar(&computeOrder, "order", 0, "derivative order (default 1)")
	computeCmd.Flags().StringVar(&computeLower, "lower", "", "lower bound of a definite integral")
	computeCmd.Flags().StringVar(&computeUpper, "upper", "", "upper bound of a definite integral")
	computeCmd.Flags().BoolVar(&computeLaTeX, "latex", false, "also print the result as LaTeX")
	rootCmd.AddCommand(computeCmd)
}
