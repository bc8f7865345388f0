package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/keepsake/internal/memory"
)

func addOwnerFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("user", "", "owner user id")
	cmd.PersistentFlags().String("project", "", "owner project id (empty for global facts)")
}

func ownerFlags(cmd *cobra.Command) (memory.Owner, error) {
	user, _ := cmd.Flags().GetString("user")
	project, _ := cmd.Flags().GetString("project")
	owner := memory.Owner{UserID: strings.TrimSpace(user), ProjectID: strings.TrimSpace(project)}
	if owner.UserID == "" {
		return owner, fmt.Errorf("--user is required")
	}
	return owner, nil
}
