// Package config provides configuration management for ventsim.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"

	"github.com/rescale/ventsim/internal/constants"
	"github.com/rescale/ventsim/internal/export"
	"github.com/rescale/ventsim/internal/pathutil"
	"github.com/rescale/ventsim/internal/runner"
)

// Config is the ventsim configuration file.
//
// Config file location:
//   - Windows: %APPDATA%\ventsim\ventsim.conf
//   - Unix: $XDG_CONFIG_HOME/ventsim/ventsim.conf
//
// INI format:
//
//	[case]
//	template_dir =
//	work_root = /scratch/ventsim
//	keep_workspace = false
//	min_free_mb = 2048
//
//	[solver]
//	launcher = mpirun
//	processors = 12
//	decomposition_method = scotch
//
//	[server]
//	bind = 127.0.0.1
//	port = 8765
//	watch_dir =
//
//	[export]
//	backend = s3
//	bucket = cases
//
//	[notify]
//	webhook_url = https://hooks.example.com/ventsim
//	timeout_seconds = 10
type Config struct {
	Case   CaseConfig
	Solver SolverConfig
	Server ServerConfig
	Export export.Config
	Notify NotifyConfig
}

// CaseConfig controls where case workspaces come from and live.
type CaseConfig struct {
	// TemplateDir replaces the embedded case template. Empty uses the embedded one.
	TemplateDir string `ini:"template_dir"`

	// WorkRoot is the parent of per-session case directories. Empty uses the
	// system temp directory.
	WorkRoot string `ini:"work_root"`

	// KeepWorkspace leaves case directories on disk after the session ends.
	KeepWorkspace bool `ini:"keep_workspace"`

	// MinFreeMB is the free space an environment run needs under WorkRoot.
	// Zero disables the check.
	MinFreeMB int `ini:"min_free_mb"`
}

// SolverConfig names the OpenFOAM tools and how parallel tools are launched.
type SolverConfig struct {
	Launcher            string `ini:"launcher"`
	Processors          int    `ini:"processors"`
	DecompositionMethod string `ini:"decomposition_method"`
	SurfaceFeatures     string `ini:"surface_features"`
	BlockMesh           string `ini:"block_mesh"`
	DecomposePar        string `ini:"decompose_par"`
	SnappyHexMesh       string `ini:"snappy_hex_mesh"`
	ReconstructParMesh  string `ini:"reconstruct_par_mesh"`
	Solver              string `ini:"solver"`
	ReconstructPar      string `ini:"reconstruct_par"`
	ParaFoam            string `ini:"para_foam"`
}

// ServerConfig controls `ventsim serve`.
type ServerConfig struct {
	Bind string `ini:"bind"`
	Port int    `ini:"port"`
	// WatchDir is a drop folder whose surface files replace the case geometry.
	WatchDir string `ini:"watch_dir"`
}

// NotifyConfig controls completion webhooks.
type NotifyConfig struct {
	WebhookURL     string `ini:"webhook_url"`
	TimeoutSeconds int    `ini:"timeout_seconds"`
}

// Environment variables that override file values.
const (
	EnvWorkRoot   = "VENTSIM_WORK_ROOT"
	EnvProcessors = "VENTSIM_PROCESSORS"
	EnvWebhookURL = "VENTSIM_WEBHOOK_URL"
)

// Validation errors
var (
	ErrInvalidProcessors = errors.New("processors must be between 1 and 4096")
	ErrMissingTool       = errors.New("tool name must not be empty")
	ErrInvalidPort       = errors.New("port must be between 1 and 65535")
	ErrInvalidTimeout    = errors.New("timeout_seconds must be between 1 and 300")
	ErrInvalidMinFree    = errors.New("min_free_mb must not be negative")
)

// DefaultPath returns the default path of ventsim.conf.
//   - Windows: %APPDATA%\ventsim\ventsim.conf
//   - Unix: $XDG_CONFIG_HOME/ventsim/ventsim.conf (usually ~/.config)
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ventsim.conf"), nil
}

func configDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, "ventsim"), nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ventsim"), nil
}

// New returns a Config with default values.
func New() *Config {
	tools := runner.DefaultToolset()
	return &Config{
		Case: CaseConfig{MinFreeMB: constants.DefaultMinFreeMB},
		Solver: SolverConfig{
			Launcher:            tools.Launcher,
			Processors:          tools.Processors,
			DecompositionMethod: constants.DefaultDecompositionMethod,
			SurfaceFeatures:     tools.SurfaceFeatures,
			BlockMesh:           tools.BlockMesh,
			DecomposePar:        tools.DecomposePar,
			SnappyHexMesh:       tools.SnappyHexMesh,
			ReconstructParMesh:  tools.ReconstructParMesh,
			Solver:              tools.Solver,
			ReconstructPar:      tools.ReconstructPar,
			ParaFoam:            tools.ParaFoam,
		},
		Server: ServerConfig{
			Bind: constants.DefaultBindAddress,
			Port: constants.DefaultPort,
		},
		Export: export.Config{UseSSL: true},
		Notify: NotifyConfig{
			TimeoutSeconds: int(constants.WebhookTimeout.Seconds()),
		},
	}
}

var sections = []string{"case", "solver", "server", "export", "notify"}

func (cfg *Config) section(name string) any {
	switch name {
	case "case":
		return &cfg.Case
	case "solver":
		return &cfg.Solver
	case "server":
		return &cfg.Server
	case "export":
		return &cfg.Export
	default:
		return &cfg.Notify
	}
}

// Load reads the configuration file at path and applies environment
// overrides. If path is empty the default path is used. A missing file
// yields the defaults; a file that exists but cannot be parsed is an error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			cfg.ApplyEnv()
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.ApplyEnv()
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}
	for _, name := range sections {
		if err := iniFile.Section(name).MapTo(cfg.section(name)); err != nil {
			return nil, fmt.Errorf("failed to parse [%s]: %w", name, err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides file values with VENTSIM_* environment variables.
// Unparseable numbers are ignored.
func (cfg *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvWorkRoot)); v != "" {
		cfg.Case.WorkRoot = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvProcessors)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Solver.Processors = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvWebhookURL)); v != "" {
		cfg.Notify.WebhookURL = v
	}
}

// Save writes cfg to path, or the default path when empty. The file holds
// storage credentials and is written with owner-only permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()
	for _, name := range sections {
		section, err := iniFile.NewSection(name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", name, err)
		}
		if err := section.ReflectFrom(cfg.section(name)); err != nil {
			return fmt.Errorf("failed to write [%s]: %w", name, err)
		}
	}

	// temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// Validate checks ranges and required names. The export section is only
// checked when a backend is selected.
func (cfg *Config) Validate() error {
	var errs []error

	if cfg.Solver.Processors < 1 || cfg.Solver.Processors > 4096 {
		errs = append(errs, ErrInvalidProcessors)
	}
	tools := map[string]string{
		"launcher":             cfg.Solver.Launcher,
		"decomposition_method": cfg.Solver.DecompositionMethod,
		"surface_features":     cfg.Solver.SurfaceFeatures,
		"block_mesh":           cfg.Solver.BlockMesh,
		"decompose_par":        cfg.Solver.DecomposePar,
		"snappy_hex_mesh":      cfg.Solver.SnappyHexMesh,
		"reconstruct_par_mesh": cfg.Solver.ReconstructParMesh,
		"solver":               cfg.Solver.Solver,
		"reconstruct_par":      cfg.Solver.ReconstructPar,
		"para_foam":            cfg.Solver.ParaFoam,
	}
	for _, key := range sortedKeys(tools) {
		if strings.TrimSpace(tools[key]) == "" {
			errs = append(errs, fmt.Errorf("[solver] %s: %w", key, ErrMissingTool))
		}
	}

	if cfg.Case.MinFreeMB < 0 {
		errs = append(errs, ErrInvalidMinFree)
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if cfg.Notify.WebhookURL != "" && (cfg.Notify.TimeoutSeconds < 1 || cfg.Notify.TimeoutSeconds > 300) {
		errs = append(errs, ErrInvalidTimeout)
	}
	if cfg.Export.Backend != "" {
		if err := cfg.Export.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("[export] %w", err))
		}
	}
	return errors.Join(errs...)
}

// ResolvePaths makes the directory settings absolute, expanding ~.
func (cfg *Config) ResolvePaths() error {
	for _, p := range []*string{&cfg.Case.TemplateDir, &cfg.Case.WorkRoot, &cfg.Server.WatchDir} {
		resolved, err := pathutil.Resolve(*p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *p, err)
		}
		*p = resolved
	}
	return nil
}

// Toolset returns the runner toolset the solver section describes.
func (cfg *Config) Toolset() runner.Toolset {
	s := cfg.Solver
	return runner.Toolset{
		Launcher:           s.Launcher,
		Processors:         s.Processors,
		SurfaceFeatures:    s.SurfaceFeatures,
		BlockMesh:          s.BlockMesh,
		DecomposePar:       s.DecomposePar,
		SnappyHexMesh:      s.SnappyHexMesh,
		ReconstructParMesh: s.ReconstructParMesh,
		Solver:             s.Solver,
		ReconstructPar:     s.ReconstructPar,
		ParaFoam:           s.ParaFoam,
	}
}
