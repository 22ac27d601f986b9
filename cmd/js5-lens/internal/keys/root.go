package keys

import (
	"errors"

	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/nspcc-dev/js5cache/pkg/local_cache_storage/keystore"
	"github.com/spf13/cobra"
)

var (
	vArchive uint8
	vGroup   uint32
	vKey     string
)

// Root contains `keys` command definition.
var Root = &cobra.Command{
	Use:   "keys",
	Short: "Operations with the XTEA key store",
}

func init() {
	Root.AddCommand(
		getCMD,
		putCMD,
		listCMD,
	)
}

func openKeys(readOnly bool) (*keystore.Bolt, error) {
	ks, err := common.OpenKeys(readOnly)
	if err != nil {
		return nil, err
	}
	if ks == nil {
		return nil, errors.New("key store path is not set, use --keys or the \"keys\" setting")
	}
	return ks, nil
}
