package cache

import (
	"strconv"

	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var groupsCMD = &cobra.Command{
	Use:   "groups",
	Short: "Group listing",
	Long:  `List groups of an archive as described by its manifest.`,
	Args:  cobra.NoArgs,
	RunE:  groupsFunc,
}

func init() {
	common.AddArchiveFlag(groupsCMD, &vArchive)
}

func groupsFunc(cmd *cobra.Command, _ []string) error {
	c, err := common.OpenCache(true, false)
	if err != nil {
		return err
	}
	defer c.Close()

	m, err := c.Manifest(vArchive)
	if err != nil {
		return common.Errf("could not read manifest: %w", err)
	}

	cmd.Printf("Protocol: %s, version: %d, groups: %d\n", m.Protocol, m.Version, len(m.Groups))

	out := tablewriter.NewWriter(cmd.OutOrStdout())
	out.SetHeader([]string{"Group", "Version", "Checksum", "Length", "Uncompressed", "Files"})
	out.SetAlignment(tablewriter.ALIGN_RIGHT)
	out.SetAutoWrapText(false)

	for _, g := range m.Groups {
		out.Append([]string{
			strconv.FormatUint(uint64(g.ID), 10),
			strconv.FormatUint(uint64(g.Version), 10),
			strconv.FormatUint(uint64(g.Checksum), 16),
			strconv.FormatUint(uint64(g.Length), 10),
			strconv.FormatUint(uint64(g.UncompressedLength), 10),
			strconv.Itoa(len(g.Files)),
		})
	}

	out.Render()
	return nil
}
