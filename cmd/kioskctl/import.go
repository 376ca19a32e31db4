package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Enroll every photo in a directory",
	Long: `Enroll identities from a directory of photos. Each file is named
<identity_id>_<Display_Name>.<ext>; underscores in the name become spaces.
Several photos of one identity become extra signatures.

Examples:
  # S001_Alice_Smith.jpg, S001_Alice_Smith_2.jpg, E042_Bob_Jones.png
  kioskctl import ./photos --role student`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("role", string(models.RoleStudent), "Role for new identities")
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// parseFaceFilename splits "S001_Alice_Smith.jpg" into ("S001", "Alice Smith").
// A trailing numeric part such as "_2" is dropped from the name.
func parseFaceFilename(name string) (id, displayName string, ok bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if !imageExts[ext] {
		return "", "", false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	id, rest, found := strings.Cut(stem, "_")
	if !found || id == "" || rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "_")
	if len(parts) > 1 && isDigits(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}
	return id, strings.Join(parts, " "), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func runImport(cmd *cobra.Command, args []string) error {
	role, _ := cmd.Flags().GetString("role")
	dir := args[0]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	type photo struct {
		path, id, name string
	}
	var photos []photo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, name, ok := parseFaceFilename(e.Name())
		if !ok {
			fmt.Fprintf(os.Stderr, "skipping %s: want <id>_<Name>.jpg\n", e.Name())
			continue
		}
		photos = append(photos, photo{path: filepath.Join(dir, e.Name()), id: id, name: name})
	}
	if len(photos) == 0 {
		fmt.Println("No photos to import.")
		return nil
	}

	ctx := context.Background()
	b, err := connect(ctx, true)
	if err != nil {
		return err
	}
	defer b.Close()

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var enrolled, added int
	var failures []string
	for _, p := range photos {
		data, err := os.ReadFile(p.path)
		if err == nil {
			var extra bool
			extra, err = b.enrollPhoto(ctx, gallery.EnrollRequest{
				IdentityID:  p.id,
				DisplayName: p.name,
				Role:        models.Role(role),
			}, data)
			if extra {
				added++
			} else if err == nil {
				enrolled++
			}
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(p.path), err))
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Printf("\nEnrolled %d identities, added %d signatures, %d failed\n", enrolled, added, len(failures))
	for _, f := range failures {
		fmt.Fprintln(os.Stderr, "  "+f)
	}
	if enrolled+added > 0 {
		b.notify(ctx, "")
	}
	return nil
}
