// Package mounts provides file mounts used as fs.FS filesystems. A mount is
// either an embedded file system, such as the built-in dashboard templates, or
// a directory on disk overriding it. Both are mounted at the same level so
// callers can open "base.html" whichever is in use.
package mounts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileMount is a mount backed by either an embedded fs.FS or a directory.
type FileMount struct {
	MountName string
	Dir       string // the directory in use, empty for the embedded fs
	fs.FS
}

// String describes a FileMount as a list of files and directories indented by
// level.
func (fm FileMount) String() string {
	source := "embedded"
	if fm.Dir != "" {
		source = fm.Dir
	}
	o := fmt.Sprintf("mount %q (%s):\n", fm.MountName, source)
	s, _ := PrintFS(fm.FS)
	return o + s
}

// ErrInvalidPath reports an invalid mount name.
type ErrInvalidPath struct {
	mountName string
}

// Error fulfills the Error interface requirement for ErrInvalidPath.
func (e ErrInvalidPath) Error() string {
	return fmt.Sprintf("mount name %q is not a valid fs.ValidPath path", e.mountName)
}

// ErrMissingFiles reports files a directory mount lacks.
type ErrMissingFiles struct {
	Dir   string
	Files []string
}

// Error fulfills the Error interface requirement for ErrMissingFiles.
func (e ErrMissingFiles) Error() string {
	return fmt.Sprintf("mount directory %q is missing: %s", e.Dir, strings.Join(e.Files, ", "))
}

// NewFileMount mounts embeddedFS at mountName, or the directory dirPath if it
// is not empty. Given
//
//	//go:embed templates
//	var templatesFS embed.FS
//
// NewFileMount("templates", templatesFS, "") opens "templates/base.html" as
// "base.html", as does NewFileMount("templates", templatesFS, "/my/templates")
// for "/my/templates/base.html". A directory mount must contain each of the
// required files.
func NewFileMount(mountName string, embeddedFS fs.FS, dirPath string, required ...string) (*FileMount, error) {

	if mountName == "" {
		return nil, errors.New("no mount name provided for new file mount")
	}
	if !fs.ValidPath(mountName) {
		return nil, ErrInvalidPath{mountName}
	}

	if dirPath == "" {
		subFS, err := fs.Sub(embeddedFS, mountName)
		if err != nil {
			return nil, fmt.Errorf("could not sub-mount embedded fs at %q: %v", mountName, err)
		}
		return &FileMount{MountName: mountName, FS: subFS}, nil
	}

	s, err := os.Stat(dirPath)
	if err != nil {
		return nil, fmt.Errorf("new mount at %q error: %s", dirPath, err)
	}
	if !s.IsDir() {
		return nil, fmt.Errorf("new mount at %q is not a directory", dirPath)
	}

	dirFS := os.DirFS(dirPath)
	var missing []string
	for _, f := range required {
		if _, err := fs.Stat(dirFS, f); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, ErrMissingFiles{Dir: dirPath, Files: missing}
	}
	return &FileMount{MountName: mountName, Dir: dirPath, FS: dirFS}, nil
}

// Materialize writes the mount's files to root plus the mount name. For
// example
//
//	fm, _ := NewFileMount("templates", templatesFS, "")
//	_ = fm.Materialize("/tmp/")
//
// creates "/tmp/templates/base.html" and so on. Root must be a directory and the
// output directory must not already exist. The output directory is returned.
func (fm *FileMount) Materialize(root string) (string, error) {

	s, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("materialize root %q invalid: %w", root, err)
	}
	if !s.IsDir() {
		return "", fmt.Errorf("materialize root %q is not a directory", root)
	}

	mountRoot := filepath.Join(root, filepath.FromSlash(fm.MountName))
	if _, err := os.Stat(mountRoot); !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("materialization path %q already exists", mountRoot)
	}
	if err := os.MkdirAll(mountRoot, 0755); err != nil {
		return "", fmt.Errorf("could not create mount root %q: %v", mountRoot, err)
	}

	err = fs.WalkDir(fm.FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fullPath := filepath.Join(mountRoot, filepath.FromSlash(path))
		if d.IsDir() {
			if err := os.MkdirAll(fullPath, 0755); err != nil {
				return fmt.Errorf("could not make dir %q, %v", fullPath, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fm.FS, path)
		if err != nil {
			return fmt.Errorf("could not read %q from mount %s: %v", path, fm.MountName, err)
		}
		if err := os.WriteFile(fullPath, data, 0644); err != nil {
			return fmt.Errorf("could not write %q: %v", fullPath, err)
		}
		return nil
	})
	return mountRoot, err
}

// PrintFS makes structured print output from an fs.FS, one line per entry
// indented by depth.
func PrintFS(thisFS fs.FS) (string, error) {
	var printOutput strings.Builder
	tpl := "%s[%s] %s%s (%s)\n"

	err := fs.WalkDir(thisFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			fmt.Fprintf(&printOutput, tpl, "", "d", ".", "/", ".")
			return nil
		}
		indent := strings.Repeat("  ", strings.Count(path, "/"))
		typer, slash := "f", ""
		if d.IsDir() {
			typer, slash = "d", "/"
		}
		fmt.Fprintf(&printOutput, tpl, indent, typer, d.Name(), slash, path)
		return nil
	})
	return printOutput.String(), err
}
