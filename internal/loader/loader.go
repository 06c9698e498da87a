package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docseek/internal/model"
	appErr "github.com/xxxsen/docseek/internal/pkg/errors"
)

// Loader turns a file of one format into text units. Loaders fill only the
// format specific source fields; provenance is stamped by the dispatcher.
type Loader interface {
	Load(ctx context.Context, path string) ([]*model.Unit, error)
}

type LoaderFunc func(ctx context.Context, path string) ([]*model.Unit, error)

func (f LoaderFunc) Load(ctx context.Context, path string) ([]*model.Unit, error) {
	return f(ctx, path)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Loader{}
)

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Register binds a loader to one or more extensions, replacing earlier bindings.
func Register(l Loader, exts ...string) {
	if l == nil {
		return
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, ext := range exts {
		if key := normalizeExt(ext); key != "" {
			registry[key] = l
		}
	}
}

func lookup(ext string) (Loader, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	l, ok := registry[normalizeExt(ext)]
	return l, ok
}

// SupportedExtensions lists every registered extension in sorted order.
func SupportedExtensions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for ext := range registry {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

type Dispatcher struct {
	now func() time.Time
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{now: time.Now}
}

// Load picks the loader by extension and stamps provenance on every unit
// after the loader returns. Unknown extensions fail before the file is read.
func (d *Dispatcher) Load(ctx context.Context, path, ext string, prov model.Provenance) ([]*model.Unit, error) {
	if ext == "" {
		ext = filepath.Ext(path)
	}
	ext = normalizeExt(ext)
	l, ok := lookup(ext)
	if !ok {
		return nil, &appErr.UnsupportedFormatError{Extension: ext}
	}
	units, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	prov.FileExtension = ext
	if prov.ProcessedAt == "" {
		prov.ProcessedAt = d.now().UTC().Format(time.RFC3339)
	}
	for _, u := range units {
		u.Provenance = prov
	}
	logutil.GetLogger(ctx).Debug("document loaded",
		zap.String("upload_id", prov.UploadID),
		zap.String("file_name", prov.FileName),
		zap.String("ext", ext),
		zap.Int("units", len(units)),
	)
	return units, nil
}

func sourceMeta(path string, kv ...string) map[string]string {
	meta := map[string]string{"source": filepath.Base(path)}
	for i := 0; i+1 < len(kv); i += 2 {
		meta[kv[i]] = kv[i+1]
	}
	return meta
}

func loadFailed(err error, format string, args ...interface{}) error {
	return appErr.Processingf(err, "%s", fmt.Sprintf(format, args...))
}
