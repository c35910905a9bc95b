package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orneryd/vecrank/pkg/vector"
)

var errParity = errors.New("device results differ from CPU beyond tolerance")

func (a *app) parityCommand() *cobra.Command {
	var (
		lengths   []int
		seed      uint64
		tolerance float64
		normalize bool
	)

	cmd := &cobra.Command{
		Use:   "parity",
		Short: "Compare device and CPU cosine similarity on random vectors",
		Long: `Generate random vector pairs of each length, score them on the CPU and on
the configured accelerator, and report the difference. Exits non-zero when
any difference exceeds the tolerance or the accelerator fails.

Use --gpu emulator to check the pipeline on a machine without a GPU.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accel, err := a.newAccelerator()
			if err != nil {
				return err
			}
			defer accel.Release()
			if err := accel.Init(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Device: %s (%s, %d MB)\n", accel.DeviceName(), accel.Backend(), accel.DeviceMemoryMB())

			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LENGTH\tCPU\tDEVICE\tDIFF\tOK")
			failed := false
			for _, n := range lengths {
				x, y := randomVector(rng, n), randomVector(rng, n)
				if normalize {
					x, y = vector.Normalize(x), vector.Normalize(y)
				}

				want, err := vector.CosineSimilarity(x, y)
				if err != nil {
					return err
				}
				got, err := accel.CosineSimilarity(x, y)
				if err != nil {
					w.Flush()
					return fmt.Errorf("length %d: %w", n, err)
				}

				diff := math.Abs(float64(got) - float64(want))
				ok := diff <= tolerance || (isNaN(got) && isNaN(want))
				failed = failed || !ok
				fmt.Fprintf(w, "%d\t%.7f\t%.7f\t%.2e\t%v\n", n, want, got, diff, ok)
			}
			w.Flush()

			st := accel.Stats()
			fmt.Fprintf(out, "%d launches, %d bytes up, %d bytes down\n", st.KernelExecutions, st.BytesUploaded, st.BytesDownloaded)
			if failed {
				return errParity
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&lengths, "lengths", []int{4, 255, 256, 257, 10000}, "vector lengths to compare")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 1e-4, "maximum absolute difference")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "normalize vectors to unit length first")
	return cmd
}

func randomVector(rng *rand.Rand, n int) vector.Vector {
	v := make(vector.Vector, n)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func isNaN(f float32) bool { return math.IsNaN(float64(f)) }
