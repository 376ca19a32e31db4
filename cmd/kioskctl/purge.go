package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/attend/internal/models"
)

var purgeCmd = &cobra.Command{
	Use:   "purge <identity_id>",
	Short: "Delete the stored face crops of a disabled identity",
	Long: `Delete every face crop kept in object storage for an identity.
Only disabled identities can be purged; their signatures and attendance
history stay in the database.`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.faces == nil {
		return errors.New("object storage is not configured")
	}

	id := args[0]
	ident, err := b.db.FindIdentity(ctx, id)
	if err != nil {
		return fmt.Errorf("find identity %s: %w", id, err)
	}
	if ident.Status != models.IdentityStatusDisabled {
		return fmt.Errorf("identity %s is %s; disable it first", id, ident.Status)
	}

	n, err := b.faces.DeleteFaces(ctx, id)
	fmt.Printf("Deleted %d face crops of %s\n", n, id)
	return err
}
