package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rescale/ventsim/internal/casefile"
	"github.com/rescale/ventsim/internal/casetemplate"
	"github.com/rescale/ventsim/internal/foam"
	"github.com/rescale/ventsim/internal/models"
	"github.com/rescale/ventsim/internal/pipeline"
)

func newRenderCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "render <case.yaml>",
		Short: "Write the case dictionaries for a case file without running any tool",
		Long: `Render every dictionary the two stages write (surfaceFeaturesDict,
blockMeshDict, the initial fields, snappyHexMeshDict, decomposeParDict,
ABLConditions and controlDict) into a directory, laid out as in the case.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := casefile.Load(args[0])
			if err != nil {
				return err
			}
			files, err := c.LoadGeometry()
			if err != nil {
				return err
			}
			geometry, err := models.NewGeometrySet(files)
			if err != nil {
				return err
			}

			engine, err := foam.Load(casetemplate.Open(cfg.Case.TemplateDir))
			if err != nil {
				return err
			}
			arts, err := pipeline.RenderAll(engine, c.Parameters, geometry, pipeline.Decomposition{
				Processors: cfg.Solver.Processors,
				Method:     cfg.Solver.DecompositionMethod,
			})
			if err != nil {
				return err
			}

			for _, a := range arts {
				path := filepath.Join(outDir, filepath.FromSlash(a.Path))
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					return fmt.Errorf("failed to create directory: %w", err)
				}
				if err := os.WriteFile(path, a.Content, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", a.Path, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "rendered", "Output directory")
	return cmd
}

func newInitCaseCmd() *cobra.Command {
	var (
		geometry []string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init-case [case.yaml]",
		Short: "Write an example case file",
		Long: `Write a commented case file with the default parameters. Without a
file argument the document is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := casefile.Example(geometry...)
			if len(args) == 0 {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			path := args[0]
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("failed to write case file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Case file written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&geometry, "geometry", "g", nil, "Geometry file paths, relative to the case file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
