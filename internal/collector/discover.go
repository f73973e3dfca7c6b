package collector

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zulandar/sessionyard/internal/errs"
)

// Source is a directory tree of transcripts written by one tool, laid out
// as <Root>/<encoded-project-dir>/<session-id>.jsonl.
type Source struct {
	Name string
	Root string
}

// DiscoveredFile is one transcript found under a Source.
type DiscoveredFile struct {
	Path    string
	Source  string
	DirName string // encoded project directory name
}

// DirDecoder maps an encoded project directory name back to the project
// path it was derived from.
type DirDecoder interface {
	Decode(dirName string) string
}

// NaiveDecoder reverses the common encoding that replaced every path
// separator with '-'. Paths that themselves contained '-' decode wrongly,
// which is why an embedded cwd always takes precedence.
type NaiveDecoder struct{}

func (NaiveDecoder) Decode(dirName string) string {
	if dirName == "" {
		return ""
	}
	return strings.ReplaceAll(dirName, "-", "/")
}

func isDirOrSymlink(entry os.DirEntry, parentDir string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(filepath.Join(parentDir, entry.Name()))
	return err == nil && fi.IsDir()
}

// IsSessionFile reports whether name is a top-level session transcript.
// Sub-agent side files are skipped.
func IsSessionFile(name string) bool {
	if !strings.HasSuffix(name, ".jsonl") {
		return false
	}
	return !strings.HasPrefix(name, "agent-")
}

// ListError is a source root or project directory that could not be read.
type ListError struct {
	Path string
	Err  error
}

func (e ListError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e ListError) Unwrap() error { return e.Err }

func listDir(dir string) ([]os.DirEntry, *ListError) {
	entries, err := os.ReadDir(dir)
	if err == nil {
		return entries, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return nil, &ListError{Path: dir, Err: errs.FromFS(err, "list directory")}
}

// Discover lists session transcripts under src. It also returns how many
// project directories it visited and the directories it could not read. A
// missing root yields nothing and no error.
func Discover(src Source) (files []DiscoveredFile, projectDirs int, failed []ListError) {
	entries, lerr := listDir(src.Root)
	if lerr != nil {
		return nil, 0, []ListError{*lerr}
	}
	for _, entry := range entries {
		if !isDirOrSymlink(entry, src.Root) {
			continue
		}
		projDir := filepath.Join(src.Root, entry.Name())
		sessionFiles, lerr := listDir(projDir)
		if lerr != nil {
			failed = append(failed, *lerr)
			continue
		}
		projectDirs++
		for _, sf := range sessionFiles {
			if sf.IsDir() || !IsSessionFile(sf.Name()) {
				continue
			}
			files = append(files, DiscoveredFile{
				Path:    filepath.Join(projDir, sf.Name()),
				Source:  src.Name,
				DirName: entry.Name(),
			})
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, projectDirs, failed
}

// locate builds the DiscoveredFile for an arbitrary path, attributing it to
// the configured source whose root contains it.
func locate(sources []Source, path string) DiscoveredFile {
	f := DiscoveredFile{
		Path:    path,
		Source:  defaultSource,
		DirName: filepath.Base(filepath.Dir(path)),
	}
	for _, src := range sources {
		root, err := filepath.Abs(src.Root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		if src.Name != "" {
			f.Source = src.Name
		}
		break
	}
	return f
}
