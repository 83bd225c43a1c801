package display

import (
	"github.com/spf13/cobra"
)

// ShouldOutputJSON reports whether a command should emit JSON instead of its
// human-readable table: the command's own --json flag wins, then the root
// persistent flag.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}

	if cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}

	globalFlag, _ := cmd.Root().PersistentFlags().GetBool("json")
	return globalFlag
}
