package consolidate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// backupDir returns the archive subdirectory for today (UTC), creating it
// if needed.
func backupDir(archiveRoot string) (string, error) {
	dir := filepath.Join(archiveRoot, time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	return dir, nil
}

// backupFile copies src into the dated backup directory, never
// overwriting: name collisions get a _1, _2, ... suffix. Returns the
// backup path only after the copy is written and synced, so callers can
// treat a nil error as a confirmed backup.
func backupFile(archiveRoot, src string) (string, error) {
	dir, err := backupDir(archiveRoot)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", src, err)
	}

	dst := availableName(dir, filepath.Base(src))
	if err := writeFileSync(dst, data); err != nil {
		return "", fmt.Errorf("writing backup %s: %w", dst, err)
	}
	return dst, nil
}

// availableName finds a non-existing filename in dir, suffixing the stem
// on collision.
func availableName(dir, base string) string {
	candidate := filepath.Join(dir, base)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
