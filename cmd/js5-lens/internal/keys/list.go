package keys

import (
	"strconv"

	"github.com/nspcc-dev/js5cache/pkg/crypto/xtea"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var listCMD = &cobra.Command{
	Use:   "list",
	Short: "Key listing",
	Long:  `List all keys of the key store.`,
	Args:  cobra.NoArgs,
	RunE:  listFunc,
}

func listFunc(cmd *cobra.Command, _ []string) error {
	ks, err := openKeys(true)
	if err != nil {
		return err
	}
	defer ks.Close()

	out := tablewriter.NewWriter(cmd.OutOrStdout())
	out.SetHeader([]string{"Archive", "Group", "Key"})
	out.SetAutoWrapText(false)

	err = ks.Iterate(func(archive uint8, group uint32, key xtea.Key) error {
		out.Append([]string{
			strconv.Itoa(int(archive)),
			strconv.FormatUint(uint64(group), 10),
			key.String(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	out.Render()
	return nil
}
