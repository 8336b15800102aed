package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/ventsim/internal/config"
	"github.com/rescale/ventsim/internal/export"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ventsim configuration",
		Long: `Configuration management commands for ventsim.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultPath()
}

// prompter reads answers from in, offering a default for empty input.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p prompter) ask(label, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	input, _ := p.in.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

func (p prompter) askInt(label string, def int) int {
	for {
		answer := p.ask(label, strconv.Itoa(def))
		n, err := strconv.Atoi(answer)
		if err == nil {
			return n
		}
		fmt.Fprintf(p.out, "  Invalid number: %s\n", answer)
	}
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for ventsim.

The configuration is saved to the --config path, or the default path shown by
'ventsim config path'. Use --force to overwrite an existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			fmt.Fprintln(out, "ventsim Configuration Setup")
			fmt.Fprintln(out, "===========================")
			fmt.Fprintln(out)

			p := prompter{in: bufio.NewReader(cmd.InOrStdin()), out: out}
			cfg := config.New()

			fmt.Fprintln(out, "Case Settings (press Enter for defaults)")
			cfg.Case.WorkRoot = p.ask("Work root (empty for system temp)", cfg.Case.WorkRoot)
			cfg.Case.TemplateDir = p.ask("Case template directory (empty for built-in)", cfg.Case.TemplateDir)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Solver Settings")
			cfg.Solver.Launcher = p.ask("MPI launcher", cfg.Solver.Launcher)
			cfg.Solver.Processors = p.askInt("Processors", cfg.Solver.Processors)
			cfg.Solver.DecompositionMethod = p.ask("Decomposition method", cfg.Solver.DecompositionMethod)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Server Settings")
			cfg.Server.Bind = p.ask("Bind address", cfg.Server.Bind)
			cfg.Server.Port = p.askInt("Port", cfg.Server.Port)
			cfg.Notify.WebhookURL = p.ask("Completion webhook URL (empty to disable)", "")
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Export Settings")
			cfg.Export.Backend = p.ask("Backend (s3, azure, minio; empty to disable)", "")
			switch cfg.Export.Backend {
			case export.BackendS3:
				cfg.Export.Bucket = p.ask("Bucket", "")
				cfg.Export.Region = p.ask("Region", "us-east-1")
			case export.BackendAzure:
				cfg.Export.Bucket = p.ask("Container", "")
				cfg.Export.ConnectionString = p.ask("Connection string", "")
			case export.BackendMinIO:
				cfg.Export.Endpoint = p.ask("Endpoint (host:port)", "")
				cfg.Export.Bucket = p.ask("Bucket", "")
				cfg.Export.AccessKey = p.ask("Access key", "")
				cfg.Export.SecretKey = p.ask("Secret key", "")
			}
			if cfg.Export.Backend != "" {
				cfg.Export.Prefix = p.ask("Key prefix", "ventsim")
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration: file values with environment
overrides applied. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "Current Configuration")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Case:")
			fmt.Fprintf(out, "  Work Root:      %s\n", orDefault(cfg.Case.WorkRoot, "<system temp>"))
			fmt.Fprintf(out, "  Template Dir:   %s\n", orDefault(cfg.Case.TemplateDir, "<built-in>"))
			fmt.Fprintf(out, "  Keep Workspace: %v\n", cfg.Case.KeepWorkspace)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Solver:")
			fmt.Fprintf(out, "  Launcher:       %s\n", cfg.Solver.Launcher)
			fmt.Fprintf(out, "  Processors:     %d\n", cfg.Solver.Processors)
			fmt.Fprintf(out, "  Decomposition:  %s\n", cfg.Solver.DecompositionMethod)
			fmt.Fprintf(out, "  Solver:         %s\n", cfg.Solver.Solver)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Server:")
			fmt.Fprintf(out, "  Address:        %s:%d\n", cfg.Server.Bind, cfg.Server.Port)
			fmt.Fprintf(out, "  Watch Dir:      %s\n", orDefault(cfg.Server.WatchDir, "<none>"))
			fmt.Fprintf(out, "  Webhook:        %s\n", orDefault(cfg.Notify.WebhookURL, "<none>"))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Export:")
			fmt.Fprintf(out, "  Backend:        %s\n", orDefault(cfg.Export.Backend, "<none>"))
			if cfg.Export.Backend != "" {
				fmt.Fprintf(out, "  Bucket:         %s\n", cfg.Export.Bucket)
				fmt.Fprintf(out, "  Prefix:         %s\n", cfg.Export.Prefix)
				fmt.Fprintf(out, "  Secret Key:     %s\n", mask(cfg.Export.SecretKey))
				fmt.Fprintf(out, "  Connection:     %s\n", mask(cfg.Export.ConnectionString))
			}

			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Warning: %v\n", err)
			}
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(cmd.ErrOrStderr(), "(file does not exist; run 'ventsim config init')")
			}
			return nil
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func mask(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	return fmt.Sprintf("<set (%d chars)>", len(secret))
}
