package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zflow-io/zflow/pkg/circuit"
	"github.com/zflow-io/zflow/pkg/plan"
)

var showPlanFile string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Compile a plan and print the resulting circuit",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.LoadFile(showPlanFile)
		if err != nil {
			return err
		}
		c, _, err := p.Compile(circuit.Options{Logger: logger.WithName("circuit")})
		if err != nil {
			return fmt.Errorf("failed to compile plan: %w", err)
		}
		fmt.Print(c.Plan())
		return nil
	},
}

func init() {
	showCmd.Flags().StringVarP(&showPlanFile, "plan", "p", "", "path to the YAML plan file")
	_ = showCmd.MarkFlagRequired("plan")
}
