package main

import (
	"os"
	"strings"

	"github.com/nspcc-dev/js5cache/cmd/internal/cmderr"
	common "github.com/nspcc-dev/js5cache/cmd/js5-lens/internal"
	"github.com/nspcc-dev/js5cache/cmd/js5-lens/internal/cache"
	"github.com/nspcc-dev/js5cache/cmd/js5-lens/internal/keys"
	"github.com/nspcc-dev/js5cache/misc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var command = &cobra.Command{
	Use:           "js5-lens",
	Short:         "JS5 Cache Lens",
	Long:          `JS5 Cache Lens provides tools to browse, modify and verify the contents of a JS5 cache.`,
	RunE:          entryPoint,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func entryPoint(cmd *cobra.Command, _ []string) error {
	printVersion, _ := cmd.Flags().GetBool("version")
	if printVersion {
		cmd.Print(misc.BuildInfo("JS5 Cache Lens"))

		return nil
	}

	return cmd.Usage()
}

func init() {
	cobra.OnInitialize(common.InitConfig)

	// use stdout as default output for cmd.Print()
	command.SetOut(os.Stdout)
	command.Flags().Bool("version", false, "Application version")

	ff := command.PersistentFlags()
	ff.StringVarP(&common.ConfigFile, "config", "c", "", "Config file (default is $HOME/.config/js5-lens.yaml)")
	ff.String(flagName(common.PathKey), "", "Path to the cache directory")
	ff.String(flagName(common.KeysKey), "", "Path to the XTEA key store")
	ff.String(flagName(common.CompressionKey), "", "Compression of written groups (none, bzip2, gzip, lzma)")
	ff.String(flagName(common.SectorFormatKey), "", "Sector format of created caches (native, legacy, extended)")
	ff.String(flagName(common.MasterIndexFormatKey), "", "Master index format (legacy, versioned)")
	ff.Int(flagName(common.WorkersKey), 4, "Number of verification workers, 0 to verify sequentially")
	ff.Bool(flagName(common.DebugKey), false, "Enable debug logging")

	for _, key := range []string{
		common.PathKey,
		common.KeysKey,
		common.CompressionKey,
		common.SectorFormatKey,
		common.MasterIndexFormatKey,
		common.WorkersKey,
		common.DebugKey,
	} {
		_ = viper.BindPFlag(key, ff.Lookup(flagName(key)))
	}

	command.AddCommand(
		cache.Root,
		keys.Root,
	)
}

// flagName returns the flag a config key is bound to.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func main() {
	err := command.Execute()
	cmderr.ExitOnErr(err)
}
