package cache

import (
	"errors"

	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/spf13/cobra"
)

var vWholeArchive bool

var removeCMD = &cobra.Command{
	Use:   "remove",
	Short: "Remove group",
	Long:  `Remove a group, or a whole archive with --all.`,
	Args:  cobra.NoArgs,
	RunE:  removeFunc,
}

func init() {
	common.AddArchiveFlag(removeCMD, &vArchive)
	removeCMD.Flags().Uint32Var(&vGroup, "group", 0, "Group id")
	removeCMD.Flags().BoolVar(&vWholeArchive, "all", false, "Remove all groups and the manifest of the archive")
	removeCMD.MarkFlagsMutuallyExclusive("group", "all")
}

func removeFunc(cmd *cobra.Command, _ []string) error {
	if !vWholeArchive && !cmd.Flags().Changed("group") {
		return errors.New("either --group or --all must be set")
	}

	c, err := common.OpenCache(false, false)
	if err != nil {
		return err
	}
	defer c.Close()

	if vWholeArchive {
		if err := c.RemoveArchive(vArchive); err != nil {
			return common.Errf("could not remove archive: %w", err)
		}
		cmd.Printf("Archive %d removed\n", vArchive)
		return nil
	}

	if err := c.Remove(vArchive, vGroup); err != nil {
		return common.Errf("could not remove group: %w", err)
	}

	cmd.Printf("Group %d/%d removed\n", vArchive, vGroup)
	return nil
}
