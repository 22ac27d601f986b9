package cache

import (
	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/cache"
	"github.com/spf13/cobra"
)

var vGroupName string

var putCMD = &cobra.Command{
	Use:   "put <file>...",
	Short: "Put group",
	Long: `Put files into a group replacing its previous content. Files get ids
in the order they are passed, "-" reads a file from stdin. A missing cache is
created.`,
	Args: cobra.MinimumNArgs(1),
	RunE: putFunc,
}

func init() {
	common.AddArchiveFlag(putCMD, &vArchive)
	common.AddGroupFlag(putCMD, &vGroup)
	putCMD.Flags().StringVar(&vGroupName, "name", "", "Group name")
}

func putFunc(cmd *cobra.Command, args []string) error {
	g := cache.Group{
		ID:    vGroup,
		Name:  vGroupName,
		Files: make([]cache.File, len(args)),
	}

	for i := range args {
		data, err := common.ReadFile(cmd, args[i])
		if err != nil {
			return err
		}
		g.Files[i] = cache.File{ID: uint32(i), Data: data}
	}

	c, err := common.OpenCache(false, true)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.WriteGroup(vArchive, g); err != nil {
		return common.Errf("could not write group: %w", err)
	}

	cmd.Printf("Group %d/%d saved, %d file(s)\n", vArchive, vGroup, len(g.Files))
	return nil
}
