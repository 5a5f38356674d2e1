package bundle

import (
	_ "embed"
	"encoding/json"
	"os"
	"sync"

	"github.com/honeyhiveai/honeyhive-go/core"
)

//go:embed bundle.json
var embedded []byte

// Loader loads and memoizes the rule bundle. The zero-configuration loader
// reads the artifact embedded in the package; WithPath switches to an
// on-disk artifact, which also enables the development-mode staleness check.
type Loader struct {
	path string

	once   sync.Once
	bundle *Bundle
	err    error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPath reads the artifact from disk instead of the embedded copy.
func WithPath(path string) LoaderOption {
	return func(l *Loader) { l.path = path }
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// defaultLoader serves Load() and Metadata() package-level calls.
var defaultLoader = NewLoader()

// Load returns the deserialized bundle with its lookup indexes built. The
// result is memoized: repeated calls return the same *Bundle without
// re-deserializing. It never blocks on the network.
func (l *Loader) Load() (*Bundle, error) {
	l.once.Do(func() {
		data := embedded
		if l.path != "" {
			raw, err := os.ReadFile(l.path)
			if err != nil {
				l.err = core.NewError("bundle.load", core.ErrBundleMissing, "artifact not found at "+l.path, err)
				return
			}
			data = raw
		}
		if len(data) == 0 {
			l.err = core.NewError("bundle.load", core.ErrBundleMissing, "embedded artifact is empty", nil)
			return
		}

		var b Bundle
		if err := json.Unmarshal(data, &b); err != nil {
			l.err = core.NewError("bundle.load", core.ErrBundleCorrupt, "deserialize artifact", err)
			return
		}
		b.buildIndexes()
		l.bundle = &b
	})
	return l.bundle, l.err
}

// Metadata returns the bundle's build metadata. O(1) after the first Load;
// it never re-deserializes the artifact.
func (l *Loader) Metadata() (BuildMetadata, error) {
	b, err := l.Load()
	if err != nil {
		return BuildMetadata{}, err
	}
	return b.BuildMetadata, nil
}

// Stale reports whether the on-disk artifact is older than the rule source
// directory. Development-mode only: it compares the directory mtime (not a
// file walk) against the artifact mtime, and always returns false for the
// embedded artifact.
func (l *Loader) Stale(sourceDir string) bool {
	if l.path == "" {
		return false
	}
	artifact, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	src, err := os.Stat(sourceDir)
	if err != nil {
		return false
	}
	return src.ModTime().After(artifact.ModTime())
}

// Load returns the package-default bundle (the embedded artifact).
func Load() (*Bundle, error) {
	return defaultLoader.Load()
}

// Metadata returns the package-default bundle's build metadata.
func Metadata() (BuildMetadata, error) {
	return defaultLoader.Metadata()
}
