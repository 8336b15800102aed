package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Archive writes the case directory to outputPath as a tar archive using the
// system tar, gzip-compressed unless compression is "none". Decomposed
// processor directories are left out; they duplicate the reconstructed case.
func (w *Workspace) Archive(ctx context.Context, outputPath, compression string) error {
	if err := w.checkOpen(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tarFlags := "-czf"
	if compression == "none" {
		tarFlags = "-cf"
	}

	parent := filepath.Dir(w.dir)
	dirname := filepath.Base(w.dir)
	args := []string{
		tarFlags, outputPath,
		"--exclude", dirname + "/processor*",
		"-C", parent, dirname,
	}

	cmd := exec.CommandContext(ctx, "tar", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tar command failed: %w: %s", err, string(output))
	}

	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("tar output file not created: %w", err)
	}

	w.logger.Info().Str("archive", outputPath).Msg("Case archived")
	return nil
}
