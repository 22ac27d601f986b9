package cache

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cheggaaa/pb"
	"github.com/nspcc-dev/js5cache/cmd/internal/cmderr"
	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/nspcc-dev/js5cache/misc"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/cache"
	storagecommon "github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/nspcc-dev/js5cache/pkg/metrics"
	"github.com/nspcc-dev/js5cache/pkg/util"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const noProgressFlag = "no-progress"

var (
	vDeep        bool
	vShowMetrics bool
)

var verifyCMD = &cobra.Command{
	Use:   "verify",
	Short: "Verify cache",
	Long: `Verify manifests against the master index and stored groups against
manifests. With --deep every group is also decoded.`,
	Args: cobra.NoArgs,
	RunE: verifyFunc,
}

func init() {
	verifyCMD.Flags().Bool(noProgressFlag, false, "Do not show progress bar")
	verifyCMD.Flags().BoolVar(&vDeep, "deep", false, "Decrypt and decompress every group")
	verifyCMD.Flags().BoolVar(&vShowMetrics, "metrics", false, "Print collected metrics")
}

func verifyFunc(cmd *cobra.Command, _ []string) error {
	var opts []cache.Option
	if vShowMetrics {
		opts = append(opts, cache.WithMetrics(metrics.NewCacheMetrics(misc.Version)))
	}

	c, err := common.OpenCache(true, false, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	workers, err := common.Workers()
	if err != nil {
		return err
	}

	pool, err := util.NewWorkerPool(workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	var failed []uint8

	noProgress, _ := cmd.Flags().GetBool(noProgressFlag)
	if noProgress && !vDeep {
		failed, err = c.VerifyAll(pool)
	} else {
		failed, err = verifyArchives(cmd, c.Cache, pool, !noProgress)
	}
	if err != nil {
		return common.Errf("verification failure: %w", err)
	}

	if vShowMetrics {
		if err := printMetrics(cmd); err != nil {
			return err
		}
	}

	if len(failed) != 0 {
		return cmderr.WithCode(2, fmt.Errorf("%d archive(s) failed verification: %v", len(failed), failed))
	}

	cmd.Printf("%d archive(s) verified\n", len(c.Archives()))
	return nil
}

func verifyArchives(cmd *cobra.Command, c *cache.Cache, pool util.WorkerPool, progress bool) ([]uint8, error) {
	archives := c.Archives()

	var p *pb.ProgressBar
	if progress {
		p = pb.New(len(archives))
		p.Output = cmd.OutOrStdout()
		p.Start()
		defer p.Finish()
	}

	var (
		wg       sync.WaitGroup
		mtx      sync.Mutex
		failed   []uint8
		firstErr error
	)

	for _, a := range archives {
		wg.Add(1)

		err := pool.Submit(func() {
			defer wg.Done()
			if p != nil {
				defer p.Increment()
			}

			ok, err := verifyArchive(c, a)

			mtx.Lock()
			defer mtx.Unlock()

			switch {
			case err != nil:
				if firstErr == nil {
					firstErr = fmt.Errorf("archive %d: %w", a, err)
				}
			case !ok:
				failed = append(failed, a)
			}
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, err
		}
	}

	wg.Wait()

	slices.Sort(failed)
	return failed, firstErr
}

func verifyArchive(c *cache.Cache, archive uint8) (bool, error) {
	ok, err := c.Verify(archive)
	if err != nil || !ok || !vDeep {
		return ok, err
	}

	groups, err := c.List(archive)
	if err != nil {
		return false, err
	}

	for _, g := range groups {
		_, err := c.ReadGroup(archive, g)
		if err == nil {
			continue
		}

		for _, kind := range []error{
			storagecommon.ErrChecksumMismatch,
			storagecommon.ErrDecompression,
			storagecommon.ErrInvalidKeyOrCorruptData,
			storagecommon.ErrInvalidGroupFraming,
		} {
			if errors.Is(err, kind) {
				return false, nil
			}
		}
		return false, err
	}

	return true, nil
}

func printMetrics(cmd *cobra.Command) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("could not gather metrics: %w", err)
	}

	out := tablewriter.NewWriter(cmd.OutOrStdout())
	out.SetHeader([]string{"Metric", "Labels", "Value"})
	out.SetAutoWrapText(false)

	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "js5cache_") {
			continue
		}

		for _, m := range f.GetMetric() {
			var labels string
			for _, l := range m.GetLabel() {
				labels += l.GetName() + "=" + l.GetValue() + " "
			}

			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}

			out.Append([]string{f.GetName(), labels, strconv.FormatFloat(value, 'g', -1, 64)})
		}
	}

	out.Render()
	return nil
}
