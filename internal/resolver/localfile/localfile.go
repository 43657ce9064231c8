// Package localfile resolves input that already points at a file on disk:
// no network fetch is needed, only tag extraction and an identity hash.
package localfile

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/resolver"
)

var supportedExtensions = []string{".mp3", ".flac", ".ogg", ".m4a", ".wav"}

// IsSupported reports whether ext (including the leading dot) names a
// format this resolver can read tags from.
func IsSupported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range supportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Resolver implements resolver.Resolver for inputs that are already paths
// to local audio files (e.g. items dropped into a watched directory, or a
// chat-adapter upload staged to disk by the ingress layer).
type Resolver struct{}

// New returns a ready-to-use local file resolver.
func New() *Resolver { return &Resolver{} }

// Resolve treats input as a filesystem path. Playlist expansion is not
// supported for local files; yield is never invoked.
func (r *Resolver) Resolve(input string, yield resolver.Iterator) (model.TrackDescriptor, error) {
	info, err := os.Stat(input)
	if err != nil {
		return model.TrackDescriptor{}, model.New(model.KindNotResolvable, "local file not found: "+input, err)
	}
	if info.IsDir() {
		return model.TrackDescriptor{}, model.New(model.KindNotResolvable, "path is a directory: "+input, nil)
	}
	if !IsSupported(filepath.Ext(input)) {
		return model.TrackDescriptor{}, model.New(model.KindNotResolvable, "unsupported audio format: "+input, nil)
	}

	id, err := identityHash(input)
	if err != nil {
		return model.TrackDescriptor{}, model.New(model.KindTransientNetwork, "hash local file", err)
	}

	descriptor := model.TrackDescriptor{
		Id:        id,
		SourceUri: input,
		Title:     strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)),
		Kind:      model.KindLocalFile,
	}
	populateTags(&descriptor, input)
	return descriptor, nil
}

// FetchArtifact is a no-op for local files: the file already exists where
// SourceUri points, so it is immediately reported complete.
func (r *Resolver) FetchArtifact(descriptor model.TrackDescriptor, sink resolver.ProgressSink) (string, error) {
	if _, err := os.Stat(descriptor.SourceUri); err != nil {
		return "", model.New(model.KindNotResolvable, "local artifact missing: "+descriptor.SourceUri, err)
	}
	if sink != nil {
		sink(resolver.Progress{Phase: resolver.PhaseComplete, Percent: 100})
	}
	return descriptor.SourceUri, nil
}

func identityHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("local:%x", h.Sum(nil)), nil
}

func populateTags(d *model.TrackDescriptor, path string) {
	f, err := os.Open(path)
	if err != nil {
		logrus.Warnf("localfile: could not open %s for tag read: %v", path, err)
		return
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		logrus.Debugf("localfile: no readable tags in %s: %v", path, err)
		return
	}

	if meta.Title() != "" {
		d.Title = meta.Title()
	}
	if meta.Artist() != "" {
		d.Artist = meta.Artist()
	}
}
