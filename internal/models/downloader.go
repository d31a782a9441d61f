package models

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type Progress struct {
	Downloaded int64
	Total      int64
	SpeedMBps  float64
	ETA        time.Duration
}

type ProgressCallback func(Progress)

// Downloader fetches, verifies and installs model archives. Installs are
// serialized.
type Downloader struct {
	Client    *http.Client
	Retries   int
	RetryWait time.Duration

	mu sync.Mutex
}

func NewDownloader() *Downloader {
	return &Downloader{
		Client:    &http.Client{Timeout: 0},
		Retries:   2,
		RetryWait: 500 * time.Millisecond,
	}
}

// DownloadAndInstall replaces modelsRoot/<name> with the verified archive
// contents. The previous install is restored if the final rename fails.
func (d *Downloader) DownloadAndInstall(ctx context.Context, model ModelSpec, modelsRoot string, onProgress ProgressCallback) error {
	if err := validateModelName(model.Name); err != nil {
		return err
	}
	want, err := normalizeChecksum(model.Checksum)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(modelsRoot, 0o755); err != nil {
		return errors.Wrap(err, "create models root")
	}

	tmpDir, err := os.MkdirTemp(modelsRoot, "."+model.Name+"-download-*")
	if err != nil {
		return errors.Wrap(err, "create download dir")
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, model.Name+".tar.gz")
	if isRemote(model.URL) {
		if err := d.downloadWithRetry(ctx, model.URL, archivePath, onProgress); err != nil {
			return err
		}
	} else if err := copyFile(model.URL, archivePath); err != nil {
		return errors.Wrap(err, "copy local archive")
	}
	if err := VerifyChecksum(archivePath, want); err != nil {
		return err
	}

	extractDir := filepath.Join(tmpDir, "extract")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return err
	}
	if err := ExtractTarGz(archivePath, extractDir); err != nil {
		return errors.Wrap(err, "extract archive")
	}
	if err := ValidateModelDir(extractDir); err != nil {
		return err
	}

	finalPath := ModelInstallPath(modelsRoot, model.Name)
	oldPath := finalPath + ".bak"
	_ = os.RemoveAll(oldPath)
	if _, err := os.Stat(finalPath); err == nil {
		if err := os.Rename(finalPath, oldPath); err != nil {
			return errors.Wrap(err, "move previous install")
		}
	}
	if err := os.Rename(extractDir, finalPath); err != nil {
		_ = os.Rename(oldPath, finalPath)
		return errors.Wrap(err, "install model")
	}
	if err := os.WriteFile(filepath.Join(finalPath, ".checksum"), []byte(want+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "record checksum")
	}
	_ = os.RemoveAll(oldPath)
	return nil
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (d *Downloader) downloadWithRetry(ctx context.Context, url, dest string, onProgress ProgressCallback) error {
	var lastErr error
	for attempt := 0; attempt <= d.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.RetryWait):
			}
		}
		lastErr = d.download(ctx, url, dest, onProgress)
		if lastErr == nil {
			return nil
		}
	}
	return errors.Wrap(lastErr, "download failed after retries")
}

func (d *Downloader) download(ctx context.Context, url, dest string, onProgress ProgressCallback) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("download status %d", resp.StatusCode)
	}
	pw := &progressWriter{w: out, total: resp.ContentLength, start: time.Now(), onProgress: onProgress}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		return err
	}
	return out.Close()
}

// progressWriter reports cumulative progress after every write.
type progressWriter struct {
	w          io.Writer
	total      int64
	written    int64
	start      time.Time
	onProgress ProgressCallback
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if n > 0 && p.onProgress != nil {
		p.onProgress(progressAt(p.written, p.total, time.Since(p.start)))
	}
	return n, err
}

func progressAt(downloaded, total int64, elapsed time.Duration) Progress {
	p := Progress{Downloaded: downloaded, Total: total}
	if s := elapsed.Seconds(); s > 0 {
		p.SpeedMBps = float64(downloaded) / s / 1024 / 1024
	}
	if total > 0 && p.SpeedMBps > 0 {
		remainingMB := float64(total-downloaded) / 1024 / 1024
		p.ETA = time.Duration(remainingMB / p.SpeedMBps * float64(time.Second))
	}
	return p
}

// ErrChecksumMismatch marks an archive whose digest differs from the one
// supplied to install.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// normalizeChecksum accepts "sha256:<hex>" or bare hex in either case and
// returns the lower-case prefixed form.
func normalizeChecksum(sum string) (string, error) {
	sum = strings.ToLower(strings.TrimSpace(sum))
	if sum == "" {
		return "", errors.New("checksum missing")
	}
	hexPart := strings.TrimPrefix(sum, "sha256:")
	if b, err := hex.DecodeString(hexPart); err != nil || len(b) != sha256.Size {
		return "", errors.Newf("checksum %q is not a sha256 digest", sum)
	}
	return "sha256:" + hexPart, nil
}

func VerifyChecksum(file, expected string) error {
	want, err := normalizeChecksum(expected)
	if err != nil {
		return err
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	actual := "sha256:" + hex.EncodeToString(h.Sum(nil))
	if actual != want {
		return errors.Mark(errors.Newf("checksum mismatch: expected %s, got %s", want, actual), ErrChecksumMismatch)
	}
	return nil
}

// ExtractTarGz unpacks regular files and directories under dest. Entries
// that would escape dest are skipped.
func ExtractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		clean := strings.TrimPrefix(filepath.Clean(hdr.Name), "./")
		if clean == "." || strings.HasPrefix(clean, "../") {
			continue
		}
		target := filepath.Join(dest, clean)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateModelDir checks that base, or one directory directly below it,
// holds the required model files, and hoists them into base. The label map
// must include a person label, the only entity type masked as full_name.
func ValidateModelDir(base string) error {
	candidates := []string{base}
	entries, _ := os.ReadDir(base)
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, filepath.Join(base, e.Name()))
		}
	}
	for _, c := range candidates {
		if !IsInstalled(c) {
			continue
		}
		if c != base {
			for _, file := range requiredFiles {
				if err := os.Rename(filepath.Join(c, file), filepath.Join(base, file)); err != nil {
					return err
				}
			}
		}
		return CheckPersonLabels(base)
	}
	return errors.New("invalid model archive: missing required files")
}
