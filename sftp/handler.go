package sftp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pkg/sftp"
	"github.com/telebroad/twinftp/filesystem"
	"github.com/telebroad/twinftp/tools"
)

// FileSys serves sftp requests from a LocalFS. Every path is resolved inside the
// served root.
type FileSys struct {
	fs     *filesystem.LocalFS
	logger *slog.Logger
}

var (
	_ sftp.FileReader       = &FileSys{}
	_ sftp.FileWriter       = &FileSys{}
	_ sftp.FileCmder        = &FileSys{}
	_ sftp.FileLister       = &FileSys{}
	_ sftp.StatVFSFileCmder = &FileSys{}
)

func NewFileSys(fsys *filesystem.LocalFS, logger *slog.Logger) sftp.Handlers {
	v := &FileSys{fs: fsys, logger: logger}
	return sftp.Handlers{
		FileGet:  v,
		FilePut:  v,
		FileCmd:  v,
		FileList: v,
	}
}

func (s *FileSys) debug(msg string, request *sftp.Request) {
	s.logger.Debug(msg,
		"method", request.Method,
		"filepath", request.Filepath,
		"attrs", tools.IsPrintable(request.Attrs),
		"flags", request.Flags,
		"target", request.Target,
	)
}

func (s *FileSys) Fileread(request *sftp.Request) (io.ReaderAt, error) {
	s.debug("Fileread", request)
	file, err := s.fs.Open(request.Filepath)
	if err != nil {
		s.logger.Error("error opening file", "error", err)
		return nil, err
	}
	return file, nil
}

func (s *FileSys) Filewrite(request *sftp.Request) (io.WriterAt, error) {
	s.debug("Filewrite", request)

	flags := os.O_RDWR | os.O_CREATE
	pflags := request.Pflags()
	if pflags.Trunc {
		flags |= os.O_TRUNC
	}
	if pflags.Excl {
		flags |= os.O_EXCL
	}
	file, err := s.fs.File(request.Filepath, flags)
	if err != nil {
		s.logger.Error("error opening file", "error", err)
		return nil, err
	}
	return file, nil
}

func (s *FileSys) Filecmd(request *sftp.Request) error {
	s.debug("Filecmd", request)
	switch request.Method {
	case "Setstat":
		if !request.AttrFlags().Permissions {
			return nil
		}
		return s.fs.SetStat(request.Filepath, request.Attributes().FileMode())

	case "Rename":
		// SFTP-v2: "It is an error if there already exists a file with the name specified by newpath."
		return s.PosixRename(request)

	case "PosixRename":
		return s.fs.Rename(request.Filepath, request.Target)

	case "Rmdir":
		if err := s.fs.CheckDir(request.Filepath); err != nil {
			return err
		}
		return s.fs.Remove(request.Filepath)

	case "Remove":
		// unlink semantics, directories go through Rmdir
		info, err := s.fs.Lstat(request.Filepath)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory: %w", request.Filepath, fs.ErrInvalid)
		}
		return s.fs.Remove(request.Filepath)

	case "Mkdir":
		return s.fs.MakeDir(request.Filepath)

	case "Link", "Symlink":
		return sftp.ErrSSHFxOpUnsupported
	}

	return errors.New("unsupported")
}

// PosixRename refuses to replace an existing target.
func (s *FileSys) PosixRename(request *sftp.Request) error {
	if s.fs.Exists(request.Target) {
		return fs.ErrExist
	}
	return s.fs.Rename(request.Filepath, request.Target)
}

func (s *FileSys) StatVFS(request *sftp.Request) (*sftp.StatVFS, error) {
	s.debug("StatVFS", request)
	return s.fs.StatFS(request.Filepath)
}

type ListerAt []os.FileInfo

// ListAt Modeled after strings.Reader's ReadAt() implementation
func (f ListerAt) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(f)) {
		return 0, io.EOF
	}
	n := copy(ls, f[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

func (s *FileSys) Filelist(request *sftp.Request) (sftp.ListerAt, error) {
	s.debug("Filelist", request)

	var entry fs.FileInfo
	var entries []os.FileInfo
	var err error

	switch request.Method {
	case "List":
		entries, err = s.fs.Dir(request.Filepath)
		if err != nil {
			return nil, fmt.Errorf("fileList error: %w", err)
		}
	case "Stat":
		entry, err = s.fs.Stat(request.Filepath)
		if err != nil {
			return nil, fmt.Errorf("fileStat error: %w", err)
		}
		entries = []os.FileInfo{entry}
	case "Lstat":
		entry, err = s.fs.Lstat(request.Filepath)
		if err != nil {
			return nil, fmt.Errorf("lstat error: %w", err)
		}
		entries = []os.FileInfo{entry}
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}

	return ListerAt(entries), nil
}
