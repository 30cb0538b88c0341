package transcript

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Persist writes the rendered transcript to dest atomically: the text goes to a
// temporary file in the same directory, is flushed and synced, and then renamed over
// dest. On any error the temporary file is removed and dest is left untouched.
func Persist(t *Transcript, dest string) (err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory %s: %v", ErrWriteFailure, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrWriteFailure, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err := write(bw, t); err != nil {
		return fmt.Errorf("%w: failed to write transcript: %v", ErrWriteFailure, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: failed to flush transcript: %v", ErrWriteFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync transcript: %v", ErrWriteFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close transcript: %v", ErrWriteFailure, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("%w: failed to move transcript into place: %v", ErrWriteFailure, err)
	}
	return nil
}

// DefaultPath returns <dir>/<source base name>_transcript.txt
func DefaultPath(source, dir string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimPrefix(base, "memory:")
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "recording"
	}
	return filepath.Join(dir, base+"_transcript.txt")
}
