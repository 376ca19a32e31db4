package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/your-org/attend/internal/enrollment"
	"github.com/your-org/attend/internal/gallery"
	"github.com/your-org/attend/internal/models"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll an identity from a photo",
	Long: `Enroll a new identity from a photo of their face. When the identity
already exists the face is added as another signature instead.

Examples:
  kioskctl enroll --id S001 --name "Alice Smith" --image alice.jpg
  kioskctl enroll --id E042 --name "Bob Jones" --role employee --department IT --image bob.png`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "External identity id (required)")
	enrollCmd.Flags().String("name", "", "Display name (required for new identities)")
	enrollCmd.Flags().String("role", string(models.RoleStudent), "Role: student or employee")
	enrollCmd.Flags().String("department", "", "Department")
	enrollCmd.Flags().String("class-section", "", "Class section")
	enrollCmd.Flags().String("image", "", "Path to a photo with one face (required)")
	_ = enrollCmd.MarkFlagRequired("id")
	_ = enrollCmd.MarkFlagRequired("image")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	role, _ := cmd.Flags().GetString("role")
	department, _ := cmd.Flags().GetString("department")
	classSection, _ := cmd.Flags().GetString("class-section")
	imagePath, _ := cmd.Flags().GetString("image")

	if role != string(models.RoleStudent) && role != string(models.RoleEmployee) {
		return fmt.Errorf("invalid role %q: want student or employee", role)
	}
	meta, err := json.Marshal(models.IdentityMetadata{Department: department, ClassSection: classSection})
	if err != nil {
		return err
	}

	ctx := context.Background()
	b, err := connect(ctx, true)
	if err != nil {
		return err
	}
	defer b.Close()

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	added, err := b.enrollPhoto(ctx, gallery.EnrollRequest{
		IdentityID:  id,
		DisplayName: name,
		Role:        models.Role(role),
		Metadata:    meta,
	}, data)
	if err != nil {
		return err
	}
	if added {
		fmt.Printf("Added signature to %s\n", id)
	} else {
		fmt.Printf("Enrolled %s (%s)\n", id, name)
	}
	b.notify(ctx, id)
	return nil
}

// enrollPhoto extracts the face in data and enrolls req with it. An existing
// identity gets the face as an extra signature and added is true.
func (b *backend) enrollPhoto(ctx context.Context, req gallery.EnrollRequest, data []byte) (added bool, err error) {
	face, err := b.extractor.ExtractBytes(data)
	if err != nil {
		return false, fmt.Errorf("extract face: %w", err)
	}

	_, err = b.db.FindIdentity(ctx, req.IdentityID)
	switch {
	case err == nil:
		added = true
	case !errors.Is(err, models.ErrNotFound):
		return false, fmt.Errorf("find identity: %w", err)
	case req.DisplayName == "":
		return false, fmt.Errorf("identity %s does not exist and no name was given", req.IdentityID)
	}

	crops := b.crops()
	sourceKey := enrollment.SaveCrop(ctx, crops, req.IdentityID, face.Crop)
	if added {
		_, err = b.gallery.AddSignature(ctx, req.IdentityID, face.Signature, sourceKey)
		err = wrapIf(err, "add signature")
	} else {
		req.Signature = face.Signature
		req.SourceKey = sourceKey
		_, err = b.gallery.Enroll(ctx, req)
		err = wrapIf(err, "enroll")
	}
	if err != nil {
		enrollment.DiscardCrop(ctx, crops, sourceKey)
		return false, err
	}
	return added, nil
}

func wrapIf(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// crops returns the face store as an interface that is nil when MinIO is
// not configured.
func (b *backend) crops() enrollment.SnapshotStore {
	if b.faces == nil {
		return nil
	}
	return b.faces
}
