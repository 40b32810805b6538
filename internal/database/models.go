package database

import "time"

// StorageRoot is the persisted identity of a configured root. Entries
// reference their root by id; the (name, host, share) triple is carried
// into search results.
type StorageRoot struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Protocol    string `json:"protocol"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Share       string `json:"share"`
	VirtualPath string `json:"virtualPath"`
}

// CatalogEntry is one indexed file under a storage root.
type CatalogEntry struct {
	ID       int64     `json:"id"`
	RootID   int64     `json:"rootId"`
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	FileType string    `json:"fileType"`
	MimeType string    `json:"mimeType"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"modTime"`

	QuickHash  string `json:"quickHash,omitempty"`
	MD5        string `json:"md5,omitempty"`
	SHA256     string `json:"sha256,omitempty"`
	FastDigest string `json:"fastDigest,omitempty"`

	IsDuplicate bool `json:"isDuplicate"`

	// Accessible is false for files that list but cannot be read; they
	// stay cataloged but are excluded from active queries.
	Accessible bool `json:"accessible"`

	// Deleted is the soft-delete tombstone set when a file goes missing
	// from a scan. Tombstoned entries survive transient scan failures
	// and are purged only after the retention window.
	Deleted   bool       `json:"deleted"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// ContentHash returns the strongest stored whole-content digest, or ""
// when the entry has not been fully hashed.
func (e *CatalogEntry) ContentHash() string {
	switch {
	case e.SHA256 != "":
		return e.SHA256
	case e.MD5 != "":
		return e.MD5
	default:
		return e.FastDigest
	}
}

// MetadataEntry is one key/value row attached to a file.
type MetadataEntry struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	DataType   string `json:"dataType"`
	Searchable bool   `json:"searchable"`
}

// ExtractedMetadata is the payload of one metadata extraction pass.
type ExtractedMetadata struct {
	MimeType          string            `json:"mimeType"`
	FileType          string            `json:"fileType"`
	ExtractionSuccess bool              `json:"extractionSuccess"`
	ExtractionError   string            `json:"extractionError,omitempty"`
	Properties        map[string]string `json:"properties"`
}

// SearchQuery is the conjunctive filter for SearchByMetadata. Empty
// fields are omitted from the filter; Limit defaults to 1000 and
// Offset to 0.
type SearchQuery struct {
	Key        string `json:"metadataKey"`
	Value      string `json:"metadataValue"`
	SearchText string `json:"searchText"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

// SearchResult is one row returned by SearchByMetadata.
type SearchResult struct {
	FileID     int64     `json:"fileId"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`

	RootName  string `json:"rootName"`
	RootHost  string `json:"rootHost"`
	RootShare string `json:"rootShare"`

	MatchedKey   string `json:"matchedKey,omitempty"`
	MatchedValue string `json:"matchedValue,omitempty"`
}

// KeyCount pairs a metadata key with its row count.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// MetadataStatistics aggregates the metadata table.
type MetadataStatistics struct {
	FilesWithMetadata int64            `json:"filesWithMetadata"`
	TotalRows         int64            `json:"totalRows"`
	TopKeys           []KeyCount       `json:"topKeys"`
	FileTypes         map[string]int64 `json:"fileTypes"`
}

// ScanRecord is one row of scan history.
type ScanRecord struct {
	ID             int64      `json:"id"`
	RootName       string     `json:"rootName"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	Status         string     `json:"status"`
	FilesProcessed int64      `json:"filesProcessed"`
	FilesAdded     int64      `json:"filesAdded"`
	FilesUpdated   int64      `json:"filesUpdated"`
	FilesMissing   int64      `json:"filesMissing"`
	ErrorCount     int64      `json:"errorCount"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
}

// Scan status values recorded in scan history.
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
	ScanStatusCancelled = "cancelled"
)

// ProjectionEntry is the slice of a catalog entry the virtual
// filesystem projector consumes.
type ProjectionEntry struct {
	ID          int64     `json:"id"`
	RootName    string    `json:"rootName"`
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	FileType    string    `json:"fileType"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"modTime"`
	ContentHash string    `json:"contentHash,omitempty"`
}
