// Package icons resolves owner icons to raw bytes for the control API.
//
// Items publish either a themed icon name or a raw pixmap. Pixmaps pass
// through untouched; names are resolved against an index of the icon
// theme directories, built lazily on first lookup.
package icons

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/scan"
)

// ErrNoIcon reports an owner without a resolvable icon.
var ErrNoIcon = errors.New("owner has no icon")

var iconExtensions = map[string]struct{}{
	".png":  {},
	".svg":  {},
	".xpm":  {},
	".jpg":  {},
	".jpeg": {},
}

// DefaultThemeDirs returns the directories searched when none are
// configured, in preference order.
func DefaultThemeDirs() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".icons"),
			filepath.Join(home, ".local", "share", "icons"),
		)
	}
	return append(dirs, "/usr/share/icons", "/usr/share/pixmaps")
}

// Service resolves icon names through a theme-directory index.
type Service struct {
	dirs   []string
	logger *logging.Logger

	mu    sync.Mutex
	index map[string]string
}

// New creates an icon service over the configured theme directories.
func New(cfg config.IconsConfig, logger *logging.Logger) *Service {
	dirs := cfg.ThemeDirs
	if len(dirs) == 0 {
		dirs = DefaultThemeDirs()
	}
	return &Service{dirs: dirs, logger: logger}
}

// Bytes resolves an owner's icon and reports its content type. A raw
// pixmap published by the item wins over a themed name.
func (s *Service) Bytes(ctx context.Context, owner scan.Owner) ([]byte, string, error) {
	if len(owner.IconPixmap) > 0 {
		return owner.IconPixmap, mimetype.Detect(owner.IconPixmap).String(), nil
	}

	if owner.IconName == "" {
		return nil, "", ErrNoIcon
	}

	path, err := s.lookup(ctx, owner.IconName)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading icon %s: %w", path, err)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return data, "application/octet-stream", nil
	}
	return data, mtype.String(), nil
}

// lookup finds the on-disk file for a themed name, building the index
// on first use. Names match case-insensitively without extension.
func (s *Service) lookup(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil {
		if err := s.buildLocked(ctx); err != nil {
			return "", err
		}
	}

	if path, ok := s.index[strings.ToLower(name)]; ok {
		return path, nil
	}
	return "", fmt.Errorf("icon %q: %w", name, ErrNoIcon)
}

// buildLocked walks every theme directory and records one path per icon
// name. Earlier directories win on conflicts; inside one directory the
// lexicographically smallest path wins so rebuilds are stable.
func (s *Service) buildLocked(ctx context.Context) error {
	s.index = make(map[string]string)
	conf := fastwalk.Config{Follow: false}

	for _, dir := range s.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}

		// The walk callback runs concurrently.
		var walkMu sync.Mutex
		found := make(map[string]string)

		err := fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			if err != nil || d.IsDir() {
				return nil
			}

			ext := strings.ToLower(filepath.Ext(p))
			if _, ok := iconExtensions[ext]; !ok {
				return nil
			}

			key := strings.ToLower(strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
			walkMu.Lock()
			if old, dup := found[key]; !dup || p < old {
				found[key] = p
			}
			walkMu.Unlock()
			return nil
		})
		if err != nil {
			s.index = nil
			return fmt.Errorf("indexing icon dir %s: %w", dir, err)
		}

		for key, p := range found {
			if _, dup := s.index[key]; !dup {
				s.index[key] = p
			}
		}
	}

	s.logger.Debug("icon index built",
		zap.Int("icons", len(s.index)),
		zap.Int("dirs", len(s.dirs)),
	)
	return nil
}
