// Package archive finds ZIM files in local library directories.
package archive

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mmcdole/zimshelf/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	zimMagic      = 0x044D495A
	zimHeaderSize = 24
	zimExt        = ".zim"
)

// Scanner implements domain.ArchiveLister over a set of directories.
type Scanner struct {
	dirs   []string
	logger *slog.Logger
}

// NewScanner creates a scanner for dirs.
func NewScanner(dirs []string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{dirs: dirs, logger: logger}
}

// Dirs returns the scanned directories.
func (s *Scanner) Dirs() []string { return s.dirs }

// IsZimPath reports whether path has the ZIM file extension.
func IsZimPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), zimExt)
}

// ListOnDiskArchives walks every directory concurrently and returns the
// readable ZIM files ordered by path. Missing directories are skipped;
// when one file is found under several paths the first path wins.
func (s *Scanner) ListOnDiskArchives(ctx context.Context) ([]domain.OnDiskArchive, error) {
	var mu sync.Mutex
	found := make(map[string]domain.OnDiskArchive)

	g, ctx := errgroup.WithContext(ctx)
	for _, dir := range s.dirs {
		g.Go(func() error {
			archives, err := s.scanDir(ctx, dir)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, a := range archives {
				if prev, ok := found[a.ID]; ok && prev.FilePath < a.FilePath {
					continue
				}
				found[a.ID] = a
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.OnDiskArchive, 0, len(found))
	for _, a := range found {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (s *Scanner) scanDir(ctx context.Context, dir string) ([]domain.OnDiskArchive, error) {
	var archives []domain.OnDiskArchive

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("library directory does not exist", "dir", dir)
				return fs.SkipAll
			}
			s.logger.Warn("failed to read library path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsZimPath(path) {
			return nil
		}

		a, err := s.ReadArchive(path)
		if err != nil {
			s.logger.Warn("skipping unreadable archive", "path", path, "error", err)
			return nil
		}
		archives = append(archives, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	s.logger.Debug("scanned library directory", "dir", dir, "archives", len(archives))
	return archives, nil
}

// ReadArchive reads the ZIM header of path.
func (s *Scanner) ReadArchive(path string) (domain.OnDiskArchive, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.OnDiskArchive{}, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return domain.OnDiskArchive{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.OnDiskArchive{}, err
	}
	if info.IsDir() {
		return domain.OnDiskArchive{}, fmt.Errorf("%s: %w", abs, domain.ErrNotZimFile)
	}

	id, err := readHeaderID(f)
	if err != nil {
		return domain.OnDiskArchive{}, fmt.Errorf("%s: %w", abs, err)
	}

	return domain.OnDiskArchive{
		ID:        id,
		FilePath:  abs,
		SizeBytes: uint64(info.Size()),
		ModTime:   info.ModTime(),
		Title:     titleFromPath(abs),
	}, nil
}

func readHeaderID(r io.Reader) (string, error) {
	var header [zimHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", domain.ErrNotZimFile
		}
		return "", err
	}
	if binary.LittleEndian.Uint32(header[0:4]) != zimMagic {
		return "", domain.ErrNotZimFile
	}
	id, err := uuid.FromBytes(header[8:24])
	if err != nil {
		return "", domain.ErrNotZimFile
	}
	return id.String(), nil
}

// titleFromPath turns "wikipedia_en_all_2024-01.zim" into "wikipedia en all 2024-01".
func titleFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.Join(strings.FieldsFunc(name, func(r rune) bool { return r == '_' }), " ")
}
