package domain

// SourceUnit is one eligible file discovered by the selector. It lives only
// for the duration of its own ingestion and is never persisted.
type SourceUnit struct {
	Ecosystem string
	Package   string
	// Path is the file location relative to the corpus root; this relative
	// form is what gets stored in payloads and metadata rows.
	Path string
	// AbsPath is where the file can actually be read from.
	AbsPath string
	// Extension is the lowercased file extension including the dot.
	Extension string
}

// ChunkMeta identifies one committed chunk. The same fields are stored as
// the vector payload and as the metadata row, keyed by one point id.
type ChunkMeta struct {
	Ecosystem  string
	Package    string
	FilePath   string
	ChunkIndex int
	Extension  string
	FileFP     string
	ChunkFP    string
}

// UnknownLicense is the sentinel returned when no license record exists for
// an (ecosystem, package) pair. A license miss is never an error.
const UnknownLicense = "UNKNOWN"

// LicenseRecord maps an (ecosystem, package) pair to a license label.
// Labels are free text and may be compound SPDX-like expressions. Source
// records how the mapping was populated.
type LicenseRecord struct {
	Ecosystem string `yaml:"ecosystem"`
	Package   string `yaml:"package"`
	License   string `yaml:"license"`
	Source    string `yaml:"source"`
}

// Match is one ranked retrieval result: a vector hit joined with its
// metadata row and license label.
type Match struct {
	Score      float64
	PointID    uint64
	Ecosystem  string
	Package    string
	FilePath   string
	ChunkIndex int
	FileFP     string
	ChunkFP    string
	License    string
}
