package keys

import (
	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/spf13/cobra"
)

var getCMD = &cobra.Command{
	Use:   "get",
	Short: "Get key",
	Long:  `Print the XTEA key of a group, zero key if the group is not encrypted.`,
	Args:  cobra.NoArgs,
	RunE:  getFunc,
}

func init() {
	common.AddArchiveFlag(getCMD, &vArchive)
	common.AddGroupFlag(getCMD, &vGroup)
}

func getFunc(cmd *cobra.Command, _ []string) error {
	ks, err := openKeys(true)
	if err != nil {
		return err
	}
	defer ks.Close()

	key, err := ks.Key(vArchive, vGroup)
	if err != nil {
		return common.Errf("could not get key: %w", err)
	}

	cmd.Println(key)
	return nil
}
