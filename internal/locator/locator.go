package locator

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pspdemo/isoload/internal/domain"
	"github.com/pspdemo/isoload/internal/extraction"
	"github.com/pspdemo/isoload/internal/infra/logger"
)

type Options struct {
	StorageRoot   string
	BundleDir     string
	PayloadSuffix string
	BundleSuffix  string

	URLs URLProvider

	// OfflineOnly disables the remote fallback.
	OfflineOnly bool

	Logger *logger.Logger
}

// Locator decides where the payload comes from. It performs no network I/O.
type Locator struct {
	opts Options
	log  *logger.Logger
}

func New(opts Options) *Locator {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.URLs == nil {
		opts.URLs = StaticURL{}
	}
	return &Locator{opts: opts, log: opts.Logger}
}

// Resolve checks, in order: an extracted payload under the storage root, a
// bundled container, the remote URL.
func (l *Locator) Resolve(ctx context.Context) (domain.PayloadLocation, error) {
	if err := os.MkdirAll(l.opts.StorageRoot, 0755); err != nil {
		l.log.Error("Resolution: cannot create storage root %s: %v", l.opts.StorageRoot, err)
	}

	if path, ok := l.findPayload(); ok {
		l.log.Debug("Resolution: payload present at %s", path)
		return domain.PayloadLocation{Mode: domain.ModeAlreadyPresent, Path: path}, nil
	}

	if path, ok := l.findBundle(); ok {
		l.log.Debug("Resolution: bundled container %s", path)
		return domain.PayloadLocation{Mode: domain.ModeLocalBundle, Path: path}, nil
	}

	if l.opts.OfflineOnly {
		return domain.PayloadLocation{}, domain.NewError(domain.KindResolution, "resolve", domain.ErrNoSource)
	}

	url, err := l.opts.URLs.URL(ctx)
	if err != nil {
		l.log.Error("Resolution: remote url unavailable: %v", err)
		return domain.PayloadLocation{}, domain.NewError(domain.KindResolution, "resolve", domain.ErrNoSource)
	}
	if url == "" {
		return domain.PayloadLocation{}, domain.NewError(domain.KindResolution, "resolve", domain.ErrNoSource)
	}

	return domain.PayloadLocation{Mode: domain.ModeRemote, URL: url}, nil
}

func (l *Locator) findPayload() (string, bool) {
	for _, name := range l.scan(l.opts.StorageRoot, l.opts.PayloadSuffix) {
		path := filepath.Join(l.opts.StorageRoot, name)
		if extraction.InProgress(path) {
			l.log.Warn("Resolution: ignoring interrupted payload %s", path)
			continue
		}
		if extraction.Complete(path) {
			return path, true
		}
	}
	return "", false
}

func (l *Locator) findBundle() (string, bool) {
	if l.opts.BundleDir == "" {
		return "", false
	}

	for _, name := range l.scan(l.opts.BundleDir, l.opts.BundleSuffix) {
		path := filepath.Join(l.opts.BundleDir, name)
		ok, err := extraction.IsContainer(path, l.opts.BundleSuffix)
		if err != nil {
			l.log.Warn("Resolution: skipping bundle candidate %s: %v", path, err)
			continue
		}
		if ok {
			return path, true
		}
	}
	return "", false
}

// scan lists regular files in dir whose name ends with suffix, case-insensitively,
// sorted by name. A missing or unreadable dir yields nothing.
func (l *Locator) scan(dir, suffix string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warn("Resolution: cannot read %s: %v", dir, err)
		}
		return nil
	}

	suffix = strings.ToLower(suffix)
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
