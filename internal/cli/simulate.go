package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateChain  string
	simulatePrice  float64
	simulateChange float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Dispatch a synthetic movement alert email",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateChain == "" {
			return errors.New("--chain must be provided")
		}
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		change := decimal.NewFromFloat(simulateChange)
		return getApp().SimulateAlert(cmd.Context(), simulateChain, price, change)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateChain, "chain", "ethereum", "Chain identifier for the synthetic alert")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Current price to report")
	simulateCmd.Flags().Float64Var(&simulateChange, "change", 4.0, "Percentage change to report")
}
