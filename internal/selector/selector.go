// Package selector enumerates eligible source files under the corpus layout
// root/<ecosystem>/<package>/... in a deterministic order.
package selector

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
)

// errPackageDone stops a package walk once the per-package file cap is hit.
var errPackageDone = errors.New("package file cap reached")

// Config holds the selection policy knobs.
type Config struct {
	Root                    string
	Extensions              []string // lowercased, with dot
	ExcludeDirs             []string // matched case-insensitively, pruned before descent
	MaxFileBytes            int64
	MaxFilesPerPackage      int // 0 = unlimited
	MaxPackagesPerEcosystem int // 0 = unlimited
}

// Selector walks the corpus and yields SourceUnits. The walk is lazy and
// restartable only from scratch; a rerun re-enumerates everything.
type Selector struct {
	cfg     Config
	exts    map[string]struct{}
	exclude map[string]struct{}
	logger  *zap.Logger
}

// New creates a selector with the given policy.
func New(cfg Config, logger *zap.Logger) *Selector {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	exclude := make(map[string]struct{}, len(cfg.ExcludeDirs))
	for _, d := range cfg.ExcludeDirs {
		exclude[strings.ToLower(d)] = struct{}{}
	}
	return &Selector{cfg: cfg, exts: exts, exclude: exclude, logger: logger}
}

// Walk visits every eligible file and invokes fn for it. Ecosystems and
// packages are visited in lexicographic order so repeated runs see files in
// the same sequence. Unreadable entries are logged and skipped; fn returning
// an error aborts the walk.
func (s *Selector) Walk(ctx context.Context, fn func(domain.SourceUnit) error) error {
	ecosystems, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return err
	}

	for _, eco := range ecosystems {
		if !eco.IsDir() {
			continue
		}
		if err := s.walkEcosystem(ctx, eco.Name(), fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Selector) walkEcosystem(ctx context.Context, ecosystem string, fn func(domain.SourceUnit) error) error {
	ecoDir := filepath.Join(s.cfg.Root, ecosystem)
	packages, err := os.ReadDir(ecoDir)
	if err != nil {
		s.logger.Warn("skipping unreadable ecosystem dir",
			zap.String("ecosystem", ecosystem), zap.Error(err))
		return nil
	}

	visited := 0
	for _, pkg := range packages {
		if !pkg.IsDir() {
			continue
		}
		if s.cfg.MaxPackagesPerEcosystem > 0 && visited >= s.cfg.MaxPackagesPerEcosystem {
			break
		}
		visited++

		if err := s.walkPackage(ctx, ecosystem, pkg.Name(), fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *Selector) walkPackage(ctx context.Context, ecosystem, pkg string, fn func(domain.SourceUnit) error) error {
	pkgDir := filepath.Join(s.cfg.Root, ecosystem, pkg)
	files := 0

	err := filepath.WalkDir(pkgDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("skipping unreadable entry", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if _, drop := s.exclude[strings.ToLower(d.Name())]; drop && path != pkgDir {
				return fs.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := s.exts[ext]; !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Warn("skipping file without stat info", zap.String("path", path), zap.Error(err))
			return nil
		}
		if s.cfg.MaxFileBytes > 0 && info.Size() > s.cfg.MaxFileBytes {
			return nil
		}

		rel, err := filepath.Rel(s.cfg.Root, path)
		if err != nil {
			return err
		}

		unit := domain.SourceUnit{
			Ecosystem: ecosystem,
			Package:   pkg,
			Path:      filepath.ToSlash(rel),
			AbsPath:   path,
			Extension: ext,
		}
		if err := fn(unit); err != nil {
			return err
		}

		files++
		if s.cfg.MaxFilesPerPackage > 0 && files >= s.cfg.MaxFilesPerPackage {
			return errPackageDone
		}
		return nil
	})

	if errors.Is(err, errPackageDone) {
		return nil
	}
	return err
}
