package config

import "fmt"

// ValidationIssue is one finding from Validate.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// ValidationResult separates blocking errors from advisory warnings.
// It is data, not an error: callers decide what to do with it.
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

func (r *ValidationResult) addError(field, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) addWarning(field, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks a configuration document and returns the findings.
// It is a pure function: no state is read or mutated beyond cfg, so it
// can be called at any time, including on documents that were never
// loaded by a Manager.
func Validate(cfg *Config) ValidationResult {
	result := ValidationResult{}

	if cfg.Database.Path == "" {
		result.addError("database.path", "must not be empty")
	}
	if cfg.Database.MaxPoolSize <= 0 {
		result.addError("database.maxPoolSize", "must be positive, got %d", cfg.Database.MaxPoolSize)
	}
	if cfg.Database.VacuumIntervalHours <= 0 {
		result.addError("database.vacuumIntervalHours", "must be positive, got %d", cfg.Database.VacuumIntervalHours)
	}
	if cfg.Database.Password != "" && len(cfg.Database.Password) < 8 {
		result.addWarning("database.password", "shorter than 8 characters")
	}

	if cfg.Scanning.MaxConcurrentScans <= 0 {
		result.addError("scanning.maxConcurrentScans", "must be positive, got %d", cfg.Scanning.MaxConcurrentScans)
	}
	if cfg.Scanning.BatchSize <= 0 {
		result.addError("scanning.batchSize", "must be positive, got %d", cfg.Scanning.BatchSize)
	}
	if cfg.Scanning.HashingThreads < 0 {
		result.addError("scanning.hashingThreads", "must not be negative, got %d", cfg.Scanning.HashingThreads)
	}

	if cfg.VirtualFileSystem.MaxLinksPerDirectory <= 0 {
		result.addError("virtualFileSystem.maxLinksPerDirectory", "must be positive, got %d", cfg.VirtualFileSystem.MaxLinksPerDirectory)
	}

	names := make(map[string]bool, len(cfg.SmbRoots))
	virtualPaths := make(map[string]string, len(cfg.SmbRoots))
	for i, root := range cfg.SmbRoots {
		field := fmt.Sprintf("smbRoots[%d]", i)

		if root.Name == "" {
			result.addError(field+".name", "must not be empty")
		} else if names[root.Name] {
			result.addError(field+".name", "duplicate root name %q", root.Name)
		} else {
			names[root.Name] = true
		}

		vp := root.EffectiveVirtualPath()
		if owner, taken := virtualPaths[vp]; taken {
			result.addError(field+".virtualPath", "virtual path %q already used by root %q", vp, owner)
		} else {
			virtualPaths[vp] = root.Name
		}

		if root.Host == "" {
			result.addError(field+".host", "must not be empty")
		}
		if root.Share == "" {
			result.addError(field+".share", "must not be empty")
		}
		if root.Credentials.Username == "" {
			result.addError(field+".credentials.username", "must not be empty")
		}
		if root.Credentials.Password == "" {
			result.addWarning(field+".credentials.password", "empty SMB password")
		}
		if root.Port < 1 || root.Port > 65535 {
			result.addError(field+".port", "out of range: %d", root.Port)
		}
		if root.ScanIntervalMinutes <= 0 {
			result.addError(field+".scanIntervalMinutes", "must be positive, got %d", root.ScanIntervalMinutes)
		}
		if root.MaxDepth < -1 {
			result.addError(field+".maxDepth", "must be -1 (unlimited) or >= 0, got %d", root.MaxDepth)
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}
