package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/your-org/attend/internal/models"
)

var disableCmd = &cobra.Command{
	Use:   "disable <identity_id>",
	Short: "Disable an identity so it is no longer recognized",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisable,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("status", "", "Only identities with this status (pending, active, disabled)")
}

func runDisable(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	b, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer b.Close()

	id := args[0]
	if err := b.gallery.Disable(ctx, id); err != nil {
		return err
	}
	b.notify(ctx, id)
	fmt.Printf("Disabled %s\n", id)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	if status != "" && !models.IdentityStatus(status).Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	ctx := context.Background()
	b, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer b.Close()

	identities, err := b.db.ListIdentities(ctx, models.IdentityStatus(status))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tSTATUS\tSIGNATURES")
	for _, ident := range identities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", ident.ID, ident.DisplayName, ident.Role, ident.Status, len(ident.Signatures))
	}
	return w.Flush()
}
