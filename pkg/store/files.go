package store

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Patterns for the artifacts written to the output directory
const (
	RecordPattern  = "JOB*"
	ArchivePattern = archivePrefix + "*" + archiveSuffix
)

// SafeJoin resolves name inside dir, rejecting anything that is not a plain
// file name
func SafeJoin(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", ErrInvalidName
	}
	return filepath.Join(dir, name), nil
}

// ListFiles returns regular files in dir matching pattern, newest first. A
// missing directory yields an empty list.
func ListFiles(dir, pattern string) ([]FileInfo, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		entry := FileInfo{
			Name:    info.Name(),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if key, ok := ParseRecordFileName(info.Name()); ok {
			entry.JobID = key.JobID
			entry.JobName = key.JobName
		}
		files = append(files, entry)
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// OpenFile opens name inside dir for reading
func OpenFile(dir, name string) (*os.File, os.FileInfo, error) {
	path, err := SafeJoin(dir, name)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, nil, ErrNotFound
	}
	return file, info, nil
}

// tailChunk is the read-back step used by TailLines
const tailChunk = 8 * 1024

// TailLines returns the last n lines of the file at path, reading backwards
// so that large logs are not loaded whole
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	size := info.Size()
	var data []byte
	for offset := size; offset > 0; {
		step := int64(tailChunk)
		if step > offset {
			step = offset
		}
		offset -= step

		chunk := make([]byte, step)
		if _, err := file.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		data = append(chunk, data...)

		// n separators mean the last n lines are complete even if the
		// first one read is not.
		if bytes.Count(bytes.TrimRight(data, "\n"), []byte{'\n'}) >= n {
			break
		}
	}

	text := strings.ToValidUTF8(string(data), "�")
	lines := strings.Split(strings.TrimRight(text, "\r\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines, nil
}

// ContainsText reports whether the first limit bytes of the file at path
// contain query
func ContainsText(path, query string, limit int64) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, ErrNotFound
		}
		return false, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit))
	if err != nil {
		return false, err
	}
	text := strings.ToValidUTF8(string(data), "�")
	return strings.Contains(text, query), nil
}
