// Package exectool resolves remote input (URLs, search strings, playlist
// references) by shelling out to an external download tool such as
// yt-dlp. It never assumes the tool is installed: every operation first
// checks exec.LookPath and fails with ToolUnavailable if the binary is
// missing, so the orchestrator can fall back or surface a clear error
// instead of hanging on a missing dependency.
package exectool

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/resolver"
)

// Resolver shells out to binaryName (e.g. "yt-dlp") to resolve metadata
// and fetch artifacts into destDir.
type Resolver struct {
	binaryName string
	destDir    string
	timeout    time.Duration
}

// New returns a Resolver that invokes binaryName, downloading artifacts
// into destDir. timeout bounds a single resolve or fetch invocation.
func New(binaryName, destDir string, timeout time.Duration) *Resolver {
	return &Resolver{binaryName: binaryName, destDir: destDir, timeout: timeout}
}

// metadataLine is the subset of yt-dlp's --dump-json output this resolver
// consumes.
type metadataLine struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
	Thumb    string  `json:"thumbnail"`
	WebpageURL string `json:"webpage_url"`
}

// Resolve shells out with --dump-json --flat-playlist to get one metadata
// line per result. The first line becomes the returned descriptor; any
// further lines (a playlist) are delivered through yield.
func (r *Resolver) Resolve(input string, yield resolver.Iterator) (model.TrackDescriptor, error) {
	path, err := exec.LookPath(r.binaryName)
	if err != nil {
		return model.TrackDescriptor{}, model.New(model.KindToolUnavailable, r.binaryName+" not found on PATH", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--dump-json", "--flat-playlist", "--no-warnings", input)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return model.TrackDescriptor{}, model.New(model.KindTransientNetwork, "open stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return model.TrackDescriptor{}, model.New(model.KindTransientNetwork, "start "+r.binaryName, err)
	}

	var first *model.TrackDescriptor
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var line metadataLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			logrus.Warnf("exectool: skipping unparseable metadata line: %v", err)
			continue
		}
		descriptor := toDescriptor(line)
		if first == nil {
			first = &descriptor
		} else if yield != nil {
			yield(descriptor)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return model.TrackDescriptor{}, model.New(model.KindTransientNetwork, r.binaryName+" timed out", err)
		}
		return model.TrackDescriptor{}, model.New(model.KindNotResolvable, r.binaryName+" rejected input", err)
	}
	if first == nil {
		return model.TrackDescriptor{}, model.New(model.KindNotResolvable, "no results for input", nil)
	}
	return *first, nil
}

func toDescriptor(line metadataLine) model.TrackDescriptor {
	source := line.WebpageURL
	if source == "" {
		source = line.ID
	}
	id := fmt.Sprintf("remote:%x", sha256.Sum256([]byte(source)))

	var durationMs *int64
	if line.Duration > 0 {
		v := int64(line.Duration * 1000)
		durationMs = &v
	}
	var thumb *string
	if line.Thumb != "" {
		thumb = &line.Thumb
	}

	return model.TrackDescriptor{
		Id:           id,
		SourceUri:    source,
		Title:        line.Title,
		Artist:       line.Uploader,
		DurationMs:   durationMs,
		ThumbnailUri: thumb,
		Kind:         model.KindRemote,
	}
}

// FetchArtifact downloads descriptor's media into destDir, naming the
// output after the descriptor id so a retry with the same input is
// idempotent. If a file already exists at that path, it is returned
// immediately without re-invoking the tool.
func (r *Resolver) FetchArtifact(descriptor model.TrackDescriptor, sink resolver.ProgressSink) (string, error) {
	path, err := exec.LookPath(r.binaryName)
	if err != nil {
		return "", model.New(model.KindToolUnavailable, r.binaryName+" not found on PATH", err)
	}

	outTemplate := filepath.Join(r.destDir, sanitizeID(descriptor.Id)+".%(ext)s")
	existing, ok := findExisting(r.destDir, descriptor.Id)
	if ok {
		if sink != nil {
			sink(resolver.Progress{Phase: resolver.PhaseComplete, Percent: 100})
		}
		return existing, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path,
		"--extract-audio", "--audio-format", "mp3", "--newline",
		"-o", outTemplate, descriptor.SourceUri,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", model.New(model.KindTransientNetwork, "open stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return "", model.New(model.KindTransientNetwork, "start "+r.binaryName, err)
	}

	if sink != nil {
		sink(resolver.Progress{Phase: resolver.PhaseDownloading, Percent: 0})
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if pct, ok := parseDownloadPercent(scanner.Text()); ok && sink != nil {
			sink(resolver.Progress{Phase: resolver.PhaseDownloading, Percent: pct})
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", model.New(model.KindTransientNetwork, r.binaryName+" timed out fetching artifact", err)
		}
		return "", model.New(model.KindPermanentRejected, r.binaryName+" failed to fetch artifact", err)
	}

	if sink != nil {
		sink(resolver.Progress{Phase: resolver.PhaseConverting, Percent: 100})
	}

	result, ok := findExisting(r.destDir, descriptor.Id)
	if !ok {
		return "", model.New(model.KindPermanentRejected, "fetch reported success but output file is missing", nil)
	}
	if sink != nil {
		sink(resolver.Progress{Phase: resolver.PhaseComplete, Percent: 100})
	}
	return result, nil
}

func sanitizeID(id string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(id)
}

func findExisting(dir, id string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(dir, sanitizeID(id)+".*"))
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// parseDownloadPercent extracts a "NN.N%" token from a yt-dlp progress line.
func parseDownloadPercent(line string) (int, bool) {
	fields := strings.Fields(line)
	for _, f := range fields {
		if strings.HasSuffix(f, "%") {
			v, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64)
			if err == nil {
				return int(v), true
			}
		}
	}
	return 0, false
}
