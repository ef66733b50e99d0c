package common

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileWrite is one file of an atomic write set.
type FileWrite struct {
	Path  string
	Write func(w io.Writer) error
}

// WriteFileAtomic creates the parent directory, streams write into a temp file
// in the same directory and renames it over path. On any error the temp file is
// removed and path is left untouched.
func WriteFileAtomic(path string, write func(w io.Writer) error) error {
	return WriteFilesAtomic(FileWrite{Path: path, Write: write})
}

// WriteFilesAtomic writes every file to a temp file first and renames them
// into place only once all of them were written, so a failed write leaves
// every destination untouched.
func WriteFilesAtomic(files ...FileWrite) (err error) {
	temps := make([]string, 0, len(files))
	defer func() {
		if err != nil {
			for _, tmp := range temps {
				os.Remove(tmp)
			}
		}
	}()

	for _, f := range files {
		tmp, err := writeTemp(f.Path, f.Write)
		if err != nil {
			return err
		}
		temps = append(temps, tmp)
	}
	for i, f := range files {
		if err = os.Rename(temps[i], f.Path); err != nil {
			temps = temps[i:]
			return fmt.Errorf("failed to rename into %s: %w", f.Path, err)
		}
	}
	return nil
}

func writeTemp(path string, write func(w io.Writer) error) (name string, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return "", err
	}
	if err = bw.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), DefaultFileMode); err != nil {
		return "", fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return tmp.Name(), nil
}
