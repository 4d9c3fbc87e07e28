package apps

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"

	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/logging"
	"github.com/nimbusos/shell/internal/shared/types"
)

const rescanDebounce = 200 * time.Millisecond

var manifestNames = []string{"app.json", "app.yaml", "app.toml"}

// defaultIgnores are matched against scan-relative paths.
var defaultIgnores = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/dist/**",
}

type manifestFile struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Icon        string              `json:"icon"`
	Description string              `json:"description"`
	Keywords    []string            `json:"keywords"`
	Version     string              `json:"version"`
	Author      string              `json:"author"`
	Settings    []types.SettingSpec `json:"settings"`
}

// Loader discovers developer apps under a directory: each app is a
// subdirectory with a manifest and a src/ tree that gets packed into
// one HTML document. A filesystem watcher re-registers on change.
type Loader struct {
	dir      string
	ignores  []string
	registry *Registry
	log      *logging.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewLoader creates a loader for cfg.Dir. A loader with an empty
// directory is inert; Scan and Watch become no-ops.
func NewLoader(cfg config.DevAppsConfig, registry *Registry, log *logging.Logger) *Loader {
	return &Loader{
		dir:      cfg.Dir,
		ignores:  defaultIgnores,
		registry: registry,
		log:      log.Component("devapps"),
	}
}

// Scan walks the dev apps directory and replaces the registry's dev
// app set with what it finds. Broken apps are logged and skipped.
func (l *Loader) Scan() error {
	if l.dir == "" {
		return nil
	}
	if _, err := os.Stat(l.dir); err != nil {
		l.log.Warn("dev apps directory unavailable", zap.String("dir", l.dir), zap.Error(err))
		l.registry.replaceDev(map[string]*DevApp{})
		return nil
	}

	dirs, err := l.findAppDirs()
	if err != nil {
		return fmt.Errorf("scan %s: %w", l.dir, err)
	}

	found := make(map[string]*DevApp, len(dirs))
	for _, dir := range dirs {
		app, err := l.loadApp(dir)
		if err != nil {
			l.log.Warn("skipping dev app", zap.String("dir", dir), zap.Error(err))
			continue
		}
		if prev, dup := found[app.Manifest.ID]; dup {
			l.log.Warn("duplicate dev app id",
				zap.String("id", app.Manifest.ID),
				zap.String("kept", prev.Dir),
				zap.String("ignored", dir))
			continue
		}
		found[app.Manifest.ID] = app
	}

	l.registry.replaceDev(found)
	l.log.Info("dev apps loaded", zap.Int("count", len(found)))
	return nil
}

// findAppDirs returns directories holding a manifest file, sorted for
// deterministic duplicate handling.
func (l *Loader) findAppDirs() ([]string, error) {
	seen := make(map[string]struct{})
	var mu sync.Mutex

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !isManifestName(filepath.Base(p)) {
			return nil
		}
		rel, relErr := filepath.Rel(l.dir, p)
		if relErr != nil || l.ignored(rel) {
			return nil
		}
		mu.Lock()
		seen[filepath.Dir(p)] = struct{}{}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func isManifestName(name string) bool {
	for _, m := range manifestNames {
		if name == m {
			return true
		}
	}
	return false
}

func (l *Loader) ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range l.ignores {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (l *Loader) loadApp(dir string) (*DevApp, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if manifest.ID == "" || manifest.Name == "" || manifest.Icon == "" || manifest.Description == "" {
		return nil, fmt.Errorf("manifest missing required fields (id, name, icon, description)")
	}
	if base := filepath.Base(dir); base != manifest.ID {
		l.log.Warn("app directory name differs from manifest id",
			zap.String("dir", base), zap.String("id", manifest.ID))
	}

	html, err := packSources(dir)
	if err != nil {
		return nil, err
	}

	return &DevApp{
		Manifest: types.Manifest{
			ID:          manifest.ID,
			Name:        manifest.Name,
			Icon:        manifest.Icon,
			Description: manifest.Description,
			Keywords:    manifest.Keywords,
			Type:        types.TypeUserApp,
			Version:     manifest.Version,
		},
		Settings: manifest.Settings,
		Author:   manifest.Author,
		Dir:      dir,
		HTML:     html,
	}, nil
}

func readManifest(dir string) (*manifestFile, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		var m manifestFile
		switch filepath.Ext(name) {
		case ".json":
			err = sonic.Unmarshal(data, &m)
		case ".yaml":
			err = yaml.Unmarshal(data, &m)
		case ".toml":
			err = toml.Unmarshal(data, &m)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return &m, nil
	}
	return nil, fmt.Errorf("no manifest file in %s", dir)
}

// packSources merges src/index.html, src/style.css and src/script.js
// into a single HTML document. index.html is required; the style and
// script are appended when present.
func packSources(dir string) (string, error) {
	srcDir := filepath.Join(dir, "src")

	index, err := readSource(srcDir, "index.html")
	if err != nil {
		return "", err
	}

	var merged strings.Builder
	merged.WriteString(index)

	css, err := readOptionalSource(srcDir, "style.css")
	if err != nil {
		return "", err
	}
	if css != "" {
		merged.WriteString("\n<style>")
		merged.WriteString(css)
		merged.WriteString("</style>")
	}

	js, err := readOptionalSource(srcDir, "script.js")
	if err != nil {
		return "", err
	}
	if js != "" {
		merged.WriteString("\n<script>")
		merged.WriteString(js)
		merged.WriteString("</script>")
	}

	return merged.String(), nil
}

func readSource(srcDir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(srcDir, name))
	if err != nil {
		return "", fmt.Errorf("read src/%s: %w", name, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("src/%s is %s encoded, want UTF-8", name, detectEncoding(data))
	}
	return string(data), nil
}

func readOptionalSource(srcDir, name string) (string, error) {
	s, err := readSource(srcDir, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	return s, err
}

func detectEncoding(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "unknown"
	}
	return strings.ToLower(result.Charset)
}

// Watch re-scans on filesystem changes until ctx is cancelled. The
// watcher covers the root plus each app's directory and src/ tree,
// re-added after every scan since fsnotify is not recursive.
func (l *Loader) Watch(ctx context.Context) error {
	if l.dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dev app watcher: %w", err)
	}
	defer watcher.Close()

	l.addWatches(watcher)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.scheduleRescan(watcher)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("dev app watcher error", zap.Error(err))
		}
	}
}

func (l *Loader) scheduleRescan(watcher *fsnotify.Watcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.debounce != nil {
		l.debounce.Stop()
	}
	l.debounce = time.AfterFunc(rescanDebounce, func() {
		if err := l.Scan(); err != nil {
			l.log.Error("dev app rescan failed", zap.Error(err))
		}
		l.addWatches(watcher)
	})
}

func (l *Loader) addWatches(watcher *fsnotify.Watcher) {
	if err := watcher.Add(l.dir); err != nil {
		l.log.Warn("watch failed", zap.String("dir", l.dir), zap.Error(err))
	}
	for _, app := range l.registry.DevApps() {
		for _, dir := range []string{app.Dir, filepath.Join(app.Dir, "src")} {
			if err := watcher.Add(dir); err != nil && !os.IsNotExist(err) {
				l.log.Debug("watch failed", zap.String("dir", dir), zap.Error(err))
			}
		}
	}
}
