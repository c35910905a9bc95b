package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orneryd/vecrank/pkg/gpu"
)

func (a *app) devicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List accelerator drivers and devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gcfg, err := a.cfg.Accelerator()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tAVAILABLE\tDEVICES\tDEVICE 0")
			for _, drv := range gpu.Drivers() {
				name := "-"
				if drv.Available() {
					name = probe(drv, gcfg)
				}
				fmt.Fprintf(w, "%s\t%v\t%d\t%s\n", drv.Backend(), drv.Available(), drv.DeviceCount(), name)
			}
			return w.Flush()
		},
	}
}

// probe opens device 0 of drv and describes it.
func probe(drv gpu.Driver, base *gpu.Config) string {
	cfg := *base
	cfg.DeviceID = 0
	dev, err := drv.Open(&cfg)
	if err != nil {
		return "error: " + err.Error()
	}
	defer dev.Release()
	return fmt.Sprintf("%s (%d MB)", dev.Name(), dev.MemoryBytes()>>20)
}
