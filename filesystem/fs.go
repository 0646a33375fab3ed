// Package filesystem serves a local directory under a virtual, slash separated root.
//
// Virtual paths are always absolute ("/", "/a/b"). Every operation resolves its
// argument against the session's working directory and refuses paths that would
// leave the root.
package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that climb above the virtual root.
var ErrOutsideRoot = errors.New("access denied: path is outside the root directory")

// LocalFS is a local directory exposed under the virtual root "/".
type LocalFS struct {
	FS       fs.FS
	localDir string

	// Exclude lists names skipped by List.
	Exclude Exclude
}

// NewLocalFS serves localDir.
func NewLocalFS(localDir string) *LocalFS {
	return &LocalFS{
		localDir: localDir,
		FS:       os.DirFS(localDir),
	}
}

// RootDir returns the virtual root.
func (FS *LocalFS) RootDir() string {
	return "/"
}

// LocalDir returns the served local directory.
func (FS *LocalFS) LocalDir() string {
	return FS.localDir
}

// Abs resolves arg against the working directory cwd and returns the virtual
// absolute path.
func (FS *LocalFS) Abs(cwd, arg string) (string, error) {
	p := arg
	if !path.IsAbs(arg) {
		p = cwd + "/" + arg
	}
	// cleaned without the leading slash so ".." cannot be swallowed by the root
	rel := path.Clean(strings.TrimLeft(p, "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, arg)
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + rel, nil
}

// fsPath converts a virtual path into a name for FS.FS.
func (FS *LocalFS) fsPath(name string) (string, error) {
	p, err := FS.Abs("/", name)
	if err != nil {
		return "", err
	}
	if p == "/" {
		return ".", nil
	}
	return p[1:], nil
}

// localPath converts a virtual path into a path on the local disk.
func (FS *LocalFS) localPath(name string) (string, error) {
	p, err := FS.fsPath(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(FS.localDir, filepath.FromSlash(p)), nil
}

// ChangeDir applies a cd argument to cwd. ".." moves to the parent and stops at the
// root, "." keeps cwd, anything else must name an existing directory.
func (FS *LocalFS) ChangeDir(cwd, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	switch arg {
	case "..":
		return path.Dir(cwd), nil
	case ".", "":
		return cwd, nil
	}

	p, err := FS.Abs(cwd, arg)
	if err != nil {
		return cwd, err
	}
	if err := FS.CheckDir(p); err != nil {
		return cwd, err
	}
	return p, nil
}

// List renders the ls arguments "[root [depth]]" relative to cwd.
func (FS *LocalFS) List(cwd, args string) (string, error) {
	root, depth, err := ParseListArgs(args)
	if err != nil {
		return "", err
	}
	if root == "." {
		root = cwd
	}

	p, err := FS.Abs(cwd, root)
	if err != nil {
		return "", err
	}
	name, err := FS.fsPath(p)
	if err != nil {
		return "", err
	}
	return Tree(FS.FS, name, p, depth, FS.Exclude)
}

// CheckDir checks if the given directory exists
func (FS *LocalFS) CheckDir(dirName string) error {
	info, err := FS.Stat(dirName)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dirName)
	}
	return nil
}

// CheckFile checks that name is a regular file that can be opened for reading.
func (FS *LocalFS) CheckFile(name string) (fs.FileInfo, error) {
	info, err := FS.Stat(name)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", name)
	}
	f, err := FS.Open(name)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return info, nil
}

// Exists reports whether anything exists at name.
func (FS *LocalFS) Exists(name string) bool {
	_, err := FS.Lstat(name)
	return err == nil
}

// Open opens the file for reading.
func (FS *LocalFS) Open(name string) (*os.File, error) {
	return FS.File(name, os.O_RDONLY)
}

// Create creates or truncates the file for writing.
func (FS *LocalFS) Create(name string) (*os.File, error) {
	return FS.File(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

// File opens the file with the given os.OpenFile flags.
func (FS *LocalFS) File(name string, flags int) (*os.File, error) {
	p, err := FS.localPath(name)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(p, flags, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	return file, nil
}

// Dir returns the entries of the given directory.
func (FS *LocalFS) Dir(dirName string) ([]os.FileInfo, error) {
	name, err := FS.fsPath(dirName)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(FS.FS, name)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("error getting file info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// MakeDir creates a new directory with the given name
func (FS *LocalFS) MakeDir(folderName string) error {
	p, err := FS.localPath(folderName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0777); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return nil
}

// Remove removes the file or empty directory.
func (FS *LocalFS) Remove(fileName string) error {
	p, err := FS.localPath(fileName)
	if err != nil {
		return err
	}
	if p == filepath.Clean(FS.localDir) {
		return fmt.Errorf("%w: cannot remove the root", ErrOutsideRoot)
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("error removing file: %w", err)
	}
	return nil
}

// Rename renames the file or moves it to a different directory
func (FS *LocalFS) Rename(fileName, newName string) error {
	from, err := FS.localPath(fileName)
	if err != nil {
		return err
	}
	to, err := FS.localPath(newName)
	if err != nil {
		return err
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("error renaming file: %w", err)
	}
	return nil
}

// Stat returns the file info
func (FS *LocalFS) Stat(fileName string) (fs.FileInfo, error) {
	name, err := FS.fsPath(fileName)
	if err != nil {
		return nil, err
	}
	info, err := fs.Stat(FS.FS, name)
	if err != nil {
		return nil, fmt.Errorf("error getting file info: %w", err)
	}
	return info, nil
}

// Lstat returns the file info without following the link
func (FS *LocalFS) Lstat(fileName string) (fs.FileInfo, error) {
	p, err := FS.localPath(fileName)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return nil, fmt.Errorf("error getting file info: %w", err)
	}
	return info, nil
}

// SetStat changes the permission bits of the file.
func (FS *LocalFS) SetStat(fileName string, mode os.FileMode) error {
	p, err := FS.localPath(fileName)
	if err != nil {
		return err
	}
	if mode.Perm() == 0 {
		return errors.New("invalid permissions")
	}
	if err := os.Chmod(p, mode.Perm()); err != nil {
		return fmt.Errorf("error changing file permissions: %w", err)
	}
	return nil
}
