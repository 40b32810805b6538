package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"media-catalog/internal/hashing"
	"media-catalog/internal/logging"
)

// ErrInvalidFormat indicates the persisted configuration exists but
// cannot be parsed. A missing file is not an error; it is replaced by
// defaults. A corrupt file must never be, since silently discarding it
// would destroy user-configured roots.
var ErrInvalidFormat = errors.New("invalid configuration format")

// Config is the full persisted configuration document.
type Config struct {
	Database          DatabaseConfig    `json:"database"`
	Scanning          ScanningConfig    `json:"scanning"`
	VirtualFileSystem VFSConfig         `json:"virtualFileSystem"`
	Monitoring        MonitoringConfig  `json:"monitoring"`
	Performance       PerformanceConfig `json:"performance"`
	SmbRoots          []SmbRoot         `json:"smbRoots"`
}

// DatabaseConfig configures the catalog database.
type DatabaseConfig struct {
	Path                string `json:"path"`
	Password            string `json:"password"`
	MaxPoolSize         int    `json:"maxPoolSize"`
	VacuumIntervalHours int    `json:"vacuumIntervalHours"`
}

// ScanningConfig configures scan scheduling and the hashing engine.
type ScanningConfig struct {
	MaxConcurrentScans int `json:"maxConcurrentScans"`
	HashingThreads     int `json:"hashingThreads"`
	BatchSize          int `json:"batchSize"`
	ScanTimeoutMinutes int `json:"scanTimeoutMinutes"`

	// TombstoneRetentionDays is how long entries missing from scans are
	// kept soft-deleted before being purged.
	TombstoneRetentionDays int `json:"tombstoneRetentionDays"`

	BufferSizeBytes                int   `json:"bufferSizeBytes"`
	QuickHashBlockSizeBytes        int   `json:"quickHashBlockSizeBytes"`
	QuickHashThresholdBytes        int64 `json:"quickHashThresholdBytes"`
	MaxFileSizeForFullHashingBytes int64 `json:"maxFileSizeForFullHashingBytes"`
}

// VFSConfig configures the virtual filesystem projection.
type VFSConfig struct {
	MountPath            string `json:"mountPath"`
	DuplicatesPath       string `json:"duplicatesPath"`
	CategoriesPath       string `json:"categoriesPath"`
	BySizePath           string `json:"bySizePath"`
	ByDatePath           string `json:"byDatePath"`
	MaxLinksPerDirectory int    `json:"maxLinksPerDirectory"`
	EnableSymlinks       bool   `json:"enableSymlinks"`
	EnableHardlinks      bool   `json:"enableHardlinks"`
}

// MonitoringConfig configures the metrics/health HTTP surface.
type MonitoringConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listenAddress"`
	LogLevel      string `json:"logLevel"`
}

// PerformanceConfig configures protocol client timeouts and the
// orchestrator's retry policy.
type PerformanceConfig struct {
	ConnectionTimeoutSeconds int `json:"connectionTimeoutSeconds"`
	ReadTimeoutSeconds       int `json:"readTimeoutSeconds"`
	MaxRetries               int `json:"maxRetries"`
	RetryBackoffSeconds      int `json:"retryBackoffSeconds"`
}

// Credentials authenticates one SMB root.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain"`
}

// SmbRoot describes one storage root to scan.
type SmbRoot struct {
	Name        string      `json:"name"`
	Host        string      `json:"host"`
	Port        int         `json:"port"`
	Share       string      `json:"share"`
	Credentials Credentials `json:"credentials"`

	Enabled             bool     `json:"enabled"`
	ScanIntervalMinutes int      `json:"scanIntervalMinutes"`
	Priority            int      `json:"priority"`
	IncludePatterns     []string `json:"includePatterns"`
	ExcludePatterns     []string `json:"excludePatterns"`

	// MaxDepth limits directory recursion; -1 means unlimited. A zero
	// value from an older config file is normalized to -1.
	MaxDepth int `json:"maxDepth"`

	EnableDeepScan           bool `json:"enableDeepScan"`
	EnableMetadataExtraction bool `json:"enableMetadataExtraction"`
	EnableDuplicateDetection bool `json:"enableDuplicateDetection"`

	// VirtualPath is the root's mount point inside the projection;
	// empty derives "/<name>".
	VirtualPath string `json:"virtualPath"`
}

// EffectiveVirtualPath returns the configured virtual path or the
// default derived from the root name.
func (r SmbRoot) EffectiveVirtualPath() string {
	if r.VirtualPath != "" {
		return r.VirtualPath
	}
	return "/" + r.Name
}

// Default returns the default configuration document: usable policy
// everywhere, empty root list.
func Default() *Config {
	hashDefaults := hashing.DefaultOptions()
	return &Config{
		Database: DatabaseConfig{
			Path:                "data/catalog.db",
			Password:            "",
			MaxPoolSize:         10,
			VacuumIntervalHours: 24,
		},
		Scanning: ScanningConfig{
			MaxConcurrentScans:             2,
			HashingThreads:                 0, // 0 = size to available CPUs
			BatchSize:                      500,
			ScanTimeoutMinutes:             120,
			TombstoneRetentionDays:         30,
			BufferSizeBytes:                hashDefaults.BufferSize,
			QuickHashBlockSizeBytes:        hashDefaults.QuickHashBlockSize,
			QuickHashThresholdBytes:        hashDefaults.QuickHashThreshold,
			MaxFileSizeForFullHashingBytes: hashDefaults.MaxFileSizeForFullHashing,
		},
		VirtualFileSystem: VFSConfig{
			MountPath:            "/mnt/catalog",
			DuplicatesPath:       "/duplicates",
			CategoriesPath:       "/categories",
			BySizePath:           "/by-size",
			ByDatePath:           "/by-date",
			MaxLinksPerDirectory: 1000,
			EnableSymlinks:       true,
			EnableHardlinks:      false,
		},
		Monitoring: MonitoringConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			LogLevel:      "info",
		},
		Performance: PerformanceConfig{
			ConnectionTimeoutSeconds: 30,
			ReadTimeoutSeconds:       60,
			MaxRetries:               3,
			RetryBackoffSeconds:      5,
		},
		SmbRoots: []SmbRoot{},
	}
}

// HashingOptions maps the scanning section onto engine options.
func (c *Config) HashingOptions() hashing.Options {
	opts := hashing.DefaultOptions()
	if c.Scanning.BufferSizeBytes > 0 {
		opts.BufferSize = c.Scanning.BufferSizeBytes
	}
	if c.Scanning.QuickHashBlockSizeBytes > 0 {
		opts.QuickHashBlockSize = c.Scanning.QuickHashBlockSizeBytes
	}
	if c.Scanning.QuickHashThresholdBytes > 0 {
		opts.QuickHashThreshold = c.Scanning.QuickHashThresholdBytes
	}
	opts.MaxFileSizeForFullHashing = c.Scanning.MaxFileSizeForFullHashingBytes
	return opts
}

// normalize fills per-root defaults after unmarshaling so older or
// hand-edited files keep working: port 445, unlimited depth, derived
// virtual path.
func (c *Config) normalize() {
	def := Default()
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Database.MaxPoolSize == 0 {
		c.Database.MaxPoolSize = def.Database.MaxPoolSize
	}
	if c.Database.VacuumIntervalHours == 0 {
		c.Database.VacuumIntervalHours = def.Database.VacuumIntervalHours
	}
	if c.Monitoring.ListenAddress == "" {
		c.Monitoring.ListenAddress = def.Monitoring.ListenAddress
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = def.Monitoring.LogLevel
	}
	if c.VirtualFileSystem.MaxLinksPerDirectory == 0 {
		c.VirtualFileSystem.MaxLinksPerDirectory = def.VirtualFileSystem.MaxLinksPerDirectory
	}
	if c.SmbRoots == nil {
		c.SmbRoots = []SmbRoot{}
	}
	for i := range c.SmbRoots {
		if c.SmbRoots[i].Port == 0 {
			c.SmbRoots[i].Port = 445
		}
		if c.SmbRoots[i].MaxDepth == 0 {
			c.SmbRoots[i].MaxDepth = -1
		}
		if c.SmbRoots[i].IncludePatterns == nil {
			c.SmbRoots[i].IncludePatterns = []string{}
		}
		if c.SmbRoots[i].ExcludePatterns == nil {
			c.SmbRoots[i].ExcludePatterns = []string{}
		}
	}
}

// Manager owns the persisted configuration document. All mutating
// operations re-save the whole document.
type Manager struct {
	path string

	mu     sync.RWMutex
	config *Config
}

// NewManager returns a manager persisting to path. Call Load before use.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads the configuration file. A missing file is self-healed by
// synthesizing and persisting defaults; malformed content fails loudly
// with ErrInvalidFormat.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		logging.Info("Configuration file %s not found, creating defaults", m.path)
		m.config = Default()
		return m.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("reading configuration %s: %w", m.path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidFormat, m.path, err)
	}
	cfg.normalize()
	m.config = cfg
	logging.Debug("Loaded configuration from %s (%d roots)", m.path, len(cfg.SmbRoots))
	return nil
}

// Save persists the current document.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if m.config == nil {
		m.config = Default()
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating configuration directory: %w", err)
		}
	}

	// Full marshal with explicit defaults, no field omission, so older
	// and newer builds read each other's files.
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("writing configuration %s: %w", m.path, err)
	}
	return nil
}

// Get returns a deep copy of the current document so callers cannot
// mutate managed state.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Default()
	}
	cp := *m.config
	cp.SmbRoots = make([]SmbRoot, len(m.config.SmbRoots))
	copy(cp.SmbRoots, m.config.SmbRoots)
	for i := range cp.SmbRoots {
		cp.SmbRoots[i].IncludePatterns = append([]string(nil), cp.SmbRoots[i].IncludePatterns...)
		cp.SmbRoots[i].ExcludePatterns = append([]string(nil), cp.SmbRoots[i].ExcludePatterns...)
	}
	return &cp
}

// AddSmbRoot appends a new root and re-saves. Duplicate names are
// rejected.
func (m *Manager) AddSmbRoot(root SmbRoot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		m.config = Default()
	}
	if root.Name == "" {
		return fmt.Errorf("root name must not be empty")
	}
	for _, existing := range m.config.SmbRoots {
		if existing.Name == root.Name {
			return fmt.Errorf("root %q already exists", root.Name)
		}
	}

	if root.Port == 0 {
		root.Port = 445
	}
	if root.MaxDepth == 0 {
		root.MaxDepth = -1
	}
	m.config.SmbRoots = append(m.config.SmbRoots, root)
	logging.Info("Added storage root %q (%s/%s)", root.Name, root.Host, root.Share)
	return m.saveLocked()
}

// UpdateSmbRoot replaces the root with the same name and re-saves.
// Unknown names are rejected.
func (m *Manager) UpdateSmbRoot(root SmbRoot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		m.config = Default()
	}
	for i, existing := range m.config.SmbRoots {
		if existing.Name == root.Name {
			if root.Port == 0 {
				root.Port = 445
			}
			if root.MaxDepth == 0 {
				root.MaxDepth = -1
			}
			m.config.SmbRoots[i] = root
			logging.Info("Updated storage root %q", root.Name)
			return m.saveLocked()
		}
	}
	return fmt.Errorf("root %q not found", root.Name)
}

// RemoveSmbRoot deletes the named root and re-saves. Unknown names are
// rejected.
func (m *Manager) RemoveSmbRoot(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		m.config = Default()
	}
	for i, existing := range m.config.SmbRoots {
		if existing.Name == name {
			m.config.SmbRoots = append(m.config.SmbRoots[:i], m.config.SmbRoots[i+1:]...)
			logging.Info("Removed storage root %q", name)
			return m.saveLocked()
		}
	}
	return fmt.Errorf("root %q not found", name)
}
