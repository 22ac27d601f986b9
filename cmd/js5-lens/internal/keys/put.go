package keys

import (
	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
	"github.com/spf13/cobra"
)

var putCMD = &cobra.Command{
	Use:   "put",
	Short: "Put key",
	Long:  `Set the XTEA key of a group, the zero key removes it.`,
	Args:  cobra.NoArgs,
	RunE:  putFunc,
}

func init() {
	common.AddArchiveFlag(putCMD, &vArchive)
	common.AddGroupFlag(putCMD, &vGroup)
	common.AddKeyFlag(putCMD, &vKey)
}

func putFunc(cmd *cobra.Command, _ []string) error {
	key, err := xtea.ParseKey(vKey)
	if err != nil {
		return common.Errf("invalid key: %w", err)
	}

	ks, err := openKeys(false)
	if err != nil {
		return err
	}
	defer ks.Close()

	if err := ks.Put(vArchive, vGroup, key); err != nil {
		return common.Errf("could not put key: %w", err)
	}

	cmd.Printf("Key of group %d/%d saved\n", vArchive, vGroup)
	return nil
}
