package metastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/clearsrc/scadex/internal/domain"
)

// licenseFile is the on-disk shape of the license seed file.
type licenseFile struct {
	Source   string                 `yaml:"source"`
	Licenses []domain.LicenseRecord `yaml:"licenses"`
}

// LoadLicenseFile reads license reference data from a YAML file. A top-level
// source tag applies to every record that does not carry its own; this is
// the provenance stored next to each mapping. The file is re-read on every
// indexer run, so updating it and rerunning refreshes the table.
func LoadLicenseFile(path string) ([]domain.LicenseRecord, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}

	var f licenseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse license file: %w", err)
	}

	for i := range f.Licenses {
		r := &f.Licenses[i]
		if r.Ecosystem == "" || r.Package == "" || r.License == "" {
			return nil, fmt.Errorf("license record %d: ecosystem, package and license are required", i)
		}
		if r.Source == "" {
			r.Source = f.Source
		}
	}
	return f.Licenses, nil
}
