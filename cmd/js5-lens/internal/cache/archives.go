package cache

import (
	"encoding/hex"
	"strconv"

	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var archivesCMD = &cobra.Command{
	Use:   "archives",
	Short: "Archive listing",
	Long:  `List archives recorded in the master index of a cache.`,
	Args:  cobra.NoArgs,
	RunE:  archivesFunc,
}

func archivesFunc(cmd *cobra.Command, _ []string) error {
	c, err := common.OpenCache(true, false)
	if err != nil {
		return err
	}
	defer c.Close()

	m := c.MasterIndex()

	out := tablewriter.NewWriter(cmd.OutOrStdout())
	out.SetHeader([]string{"Archive", "Version", "Checksum", "Groups", "Digest"})
	out.SetAlignment(tablewriter.ALIGN_RIGHT)
	out.SetAutoWrapText(false)

	for _, a := range c.Archives() {
		e, _ := m.Entry(a)

		groups := "-"
		if len(e.Groups) != 0 {
			groups = strconv.Itoa(len(e.Groups))
		}

		digest := "-"
		if len(e.Digest) != 0 {
			digest = hex.EncodeToString(e.Digest[:8])
		}

		out.Append([]string{
			strconv.Itoa(int(a)),
			strconv.FormatUint(uint64(e.Version), 10),
			strconv.FormatUint(uint64(e.Checksum), 16),
			groups,
			digest,
		})
	}

	out.Render()
	return nil
}
