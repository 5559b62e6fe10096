package stages

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

// errTest is a shared sentinel error for tests exercising a dependency
// failure path.
var errTest = errors.New("stages: injected test failure")

func writeFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0o644)
}

// fakeDownloader is a stage.Downloader test double: it ignores sourceURL
// and writes preset content to destPath, recording every call.
type fakeDownloader struct {
	content []byte
	err     error
	calls   []string
}

func (f *fakeDownloader) Download(ctx context.Context, sourceURL, destPath string) (domain.Subject, error) {
	f.calls = append(f.calls, sourceURL)
	if f.err != nil {
		return domain.Subject{}, f.err
	}
	if err := writeFile(destPath, f.content); err != nil {
		return domain.Subject{}, err
	}
	return domain.Subject{}, nil
}

// fakeExtractor is a stage.MediaExtractor test double driven entirely by
// presets, avoiding any dependency on a real ffmpeg/ffprobe binary.
type fakeExtractor struct {
	probeInfo    stage.MediaInfo
	probeErr     error
	audioContent []byte
	audioErr     error
	clipErr      error
	clipCalls    []string
}

func (f *fakeExtractor) Probe(ctx context.Context, mediaPath string) (stage.MediaInfo, error) {
	return f.probeInfo, f.probeErr
}

func (f *fakeExtractor) ExtractAudio(ctx context.Context, mediaPath, destPath string) error {
	if f.audioErr != nil {
		return f.audioErr
	}
	return writeFile(destPath, f.audioContent)
}

func (f *fakeExtractor) ExtractClip(ctx context.Context, mediaPath, destPath string, startSeconds, endSeconds float64) error {
	f.clipCalls = append(f.clipCalls, fmt.Sprintf("%s:%.2f-%.2f", destPath, startSeconds, endSeconds))
	if f.clipErr != nil {
		return f.clipErr
	}
	return writeFile(destPath, []byte("clip-bytes"))
}

var _ stage.Downloader = (*fakeDownloader)(nil)
var _ stage.MediaExtractor = (*fakeExtractor)(nil)
