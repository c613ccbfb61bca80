package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/medidispatch/dispatch-core/app"
	"github.com/medidispatch/dispatch-core/core/model"
)

var alertLat, alertLng float64

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Inject a test emergency against the configured store",
	RunE:  runAlert,
}

func init() {
	alertCmd.Flags().Float64Var(&alertLat, "lat", 0, "emergency latitude")
	alertCmd.Flags().Float64Var(&alertLng, "lng", 0, "emergency longitude")
	_ = alertCmd.MarkFlagRequired("lat")
	_ = alertCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(alertCmd)
}

func runAlert(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	core, err := app.NewCore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = core.Close() }()

	d, err := core.Coordinator.CreateAlert(cmd.Context(), model.Coordinate{Lat: alertLat, Lng: alertLng})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
