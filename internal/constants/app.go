package constants

import (
	"time"
)

// Event bus configuration
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// Solver defaults
const (
	// DefaultProcessors - MPI ranks for snappyHexMesh and simpleFoam
	DefaultProcessors = 12

	// DefaultDecompositionMethod - decomposePar method written to decomposeParDict
	DefaultDecompositionMethod = "scotch"

	// DefaultLauncher - MPI launcher used for the parallel tools
	DefaultLauncher = "mpirun"
)

// Case workspace
const (
	// GeometryDir - where uploaded surface files live inside a case
	GeometryDir = "constant/triSurface"

	// ToolLogPrefix - tool output is captured in <case>/log.<tool>, the
	// convention of the OpenFOAM tutorial run scripts
	ToolLogPrefix = "log."

	// WorkspacePrefix - prefix of per-session case directories
	WorkspacePrefix = "ventsim-case-"

	// DefaultMinFreeMB - free space the work root must have before an
	// environment run starts
	DefaultMinFreeMB = 2048
)

// Server defaults
const (
	DefaultBindAddress = "127.0.0.1"
	DefaultPort        = 8765

	// MaxUploadSize - maximum multipart geometry upload (512 MB)
	MaxUploadSize = 512 * 1024 * 1024

	// ServerShutdownTimeout - graceful HTTP shutdown window
	ServerShutdownTimeout = 10 * time.Second

	// SSEKeepAlive - interval of comment frames on idle event streams
	SSEKeepAlive = 15 * time.Second

	// RunRequestRate - stage run requests accepted per second per server
	RunRequestRate = 2
)

// Retry configuration for outbound webhooks
const (
	// MaxRetries - maximum number of retries for transient errors
	MaxRetries = 4

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	RetryMaxDelay = 15 * time.Second

	// WebhookTimeout - default per-attempt webhook timeout
	WebhookTimeout = 10 * time.Second
)

// Ingest
const (
	// IngestDebounce - quiet period after the last file event before the
	// watched folder is read as a new geometry set
	IngestDebounce = 750 * time.Millisecond
)
