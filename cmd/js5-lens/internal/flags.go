package common

import (
	"github.com/spf13/cobra"
)

const (
	flagArchive      = "archive"
	flagArchiveUsage = "Archive id"

	flagGroup      = "group"
	flagGroupUsage = "Group id"

	flagFile      = "file"
	flagFileUsage = "File id inside the group"

	flagOutFile      = "out"
	flagOutFileUsage = "File to save the data to, stdout if omitted"

	flagKey      = "key"
	flagKeyUsage = "XTEA key as 32 hex characters"
)

// AddArchiveFlag adds the archive flag to the passed cobra command.
func AddArchiveFlag(cmd *cobra.Command, v *uint8) {
	cmd.Flags().Uint8Var(v, flagArchive, 0, flagArchiveUsage)
	_ = cmd.MarkFlagRequired(flagArchive)
}

// AddGroupFlag adds the group flag to the passed cobra command.
func AddGroupFlag(cmd *cobra.Command, v *uint32) {
	cmd.Flags().Uint32Var(v, flagGroup, 0, flagGroupUsage)
	_ = cmd.MarkFlagRequired(flagGroup)
}

// AddFileFlag adds the file flag to the passed cobra command.
func AddFileFlag(cmd *cobra.Command, v *uint32) {
	cmd.Flags().Uint32Var(v, flagFile, 0, flagFileUsage)
}

// AddOutputFileFlag adds the output file flag to the passed cobra command.
func AddOutputFileFlag(cmd *cobra.Command, v *string) {
	cmd.Flags().StringVar(v, flagOutFile, "", flagOutFileUsage)
	_ = cmd.MarkFlagFilename(flagOutFile)
}

// AddKeyFlag adds the XTEA key flag to the passed cobra command.
func AddKeyFlag(cmd *cobra.Command, v *string) {
	cmd.Flags().StringVar(v, flagKey, "", flagKeyUsage)
	_ = cmd.MarkFlagRequired(flagKey)
}
