package cmd

import (
	"github.com/spf13/cobra"

	"loadpilot/internal/dummy"
)

var dummyAddr string

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Serve a local target with fast, slow and failing endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return dummy.Start(cmd.Context(), dummy.ServerConfig{Addr: dummyAddr}, a.log)
	},
}

func init() {
	dummyCmd.Flags().StringVar(&dummyAddr, "addr", ":8080", "listen address")
}
