package cache

import (
	"errors"

	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	storagecommon "github.com/nspcc-dev/js5cache/pkg/local_cache_storage/common"
	"github.com/spf13/cobra"
)

var vRaw bool

var getCMD = &cobra.Command{
	Use:   "get",
	Short: "Get file",
	Long:  `Get a file of a group, or the stored group bytes with --raw.`,
	Args:  cobra.NoArgs,
	RunE:  getFunc,
}

func init() {
	common.AddArchiveFlag(getCMD, &vArchive)
	common.AddGroupFlag(getCMD, &vGroup)
	common.AddFileFlag(getCMD, &vFile)
	common.AddOutputFileFlag(getCMD, &vOut)
	getCMD.Flags().BoolVar(&vRaw, "raw", false, "Get the stored group as is, the meta archive 255 is allowed")
}

func getFunc(cmd *cobra.Command, _ []string) error {
	c, err := common.OpenCache(true, false)
	if err != nil {
		return err
	}
	defer c.Close()

	var data []byte
	if vRaw {
		data, err = c.RawGroup(vArchive, vGroup)
	} else {
		data, err = c.Read(vArchive, vGroup, vFile)
	}

	switch {
	case errors.Is(err, storagecommon.ErrChecksumMismatch) && data != nil:
		cmd.PrintErrf("Warning: %v\n", err)
	case err != nil:
		return common.Errf("could not read file: %w", err)
	}

	return common.WriteToFile(cmd, vOut, data)
}
