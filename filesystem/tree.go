package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Unlimited as a depth lists the whole subtree.
const Unlimited = -1

// Exclude names folders and files that are left out of a tree.
type Exclude struct {
	Folders []string
	Names   []string
}

func (e Exclude) skip(entry fs.DirEntry) bool {
	if entry.IsDir() {
		return slices.Contains(e.Folders, entry.Name())
	}
	return slices.Contains(e.Names, entry.Name())
}

// ParseListArgs splits "[root [depth]]". Root defaults to "." and depth to 1.
func ParseListArgs(args string) (root string, depth int, err error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 0:
		return ".", 1, nil
	case 1:
		return fields[0], 1, nil
	case 2:
		depth, err = strconv.Atoi(fields[1])
		if err != nil || depth < Unlimited {
			return "", 0, fmt.Errorf("invalid depth %q", fields[1])
		}
		return fields[0], depth, nil
	}
	return "", 0, errors.New("too many arguments")
}

// Tree renders dir of fsys as
//
//	title/
//	├── a/
//	│   └── b.txt
//	└── c.txt
//
// down to maxLevel levels.
func Tree(fsys fs.FS, dir, title string, maxLevel int, exclude Exclude) (string, error) {
	var b strings.Builder
	if !strings.HasSuffix(title, "/") {
		title += "/"
	}
	b.WriteString(title)
	b.WriteByte('\n')
	if err := tree(&b, fsys, dir, "", 1, maxLevel, exclude); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func tree(b *strings.Builder, fsys fs.FS, dir, prefix string, level, maxLevel int, exclude Exclude) error {
	if maxLevel != Unlimited && level > maxLevel {
		return nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("error reading directory: %w", err)
	}
	entries = slices.DeleteFunc(entries, exclude.skip)

	for i, entry := range entries {
		branch, indent := "├── ", "│   "
		if i == len(entries)-1 {
			branch, indent = "└── ", "    "
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		b.WriteString(prefix + branch + name + "\n")

		if entry.IsDir() {
			sub := entry.Name()
			if dir != "." {
				sub = dir + "/" + sub
			}
			if err := tree(b, fsys, sub, prefix+indent, level+1, maxLevel, exclude); err != nil {
				return err
			}
		}
	}
	return nil
}

// ListLocal renders the lls arguments "[root [depth]]" for the local working
// directory cwd.
func ListLocal(cwd, args string, exclude Exclude) (string, error) {
	root, depth, err := ParseListArgs(args)
	if err != nil {
		return "", err
	}
	if root == "." {
		root = cwd
	} else if !filepath.IsAbs(root) {
		root = filepath.Join(cwd, root)
	}
	return Tree(os.DirFS(root), ".", root, depth, exclude)
}
