package cache

import (
	"github.com/spf13/cobra"
)

var (
	vArchive uint8
	vGroup   uint32
	vFile    uint32
	vOut     string
)

// Root contains `cache` command definition.
var Root = &cobra.Command{
	Use:   "cache",
	Short: "Operations with a JS5 cache",
}

func init() {
	Root.AddCommand(
		archivesCMD,
		groupsCMD,
		getCMD,
		putCMD,
		removeCMD,
		verifyCMD,
	)
}
