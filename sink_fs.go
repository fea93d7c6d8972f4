package squashfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/xattr"
)

// FileSink is a Sink that reassembles an image onto the local filesystem
// under Root, the straightforward use of Extract: unpacking an image to
// disk the way the image's own packer originally built it from one.
type FileSink struct {
	Root string

	// ApplyMetadata controls whether Mode/Uid/Gid/ModTime/Xattrs are
	// applied to each extracted entry. Chown typically requires
	// privileges the extracting process may not have; a chown refused
	// for lack of permission is skipped without a warning, and any other
	// failure applying metadata is returned as an error.
	ApplyMetadata bool

	files map[string]*os.File
}

var _ Sink = (*FileSink)(nil)

func (s *FileSink) dest(p string) string {
	return filepath.Join(s.Root, filepath.FromSlash(p))
}

func (s *FileSink) OnDir(p string, meta Meta) error {
	dest := s.dest(p)
	if p == "" {
		dest = s.Root
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return s.applyMeta(dest, meta)
}

func (s *FileSink) OnFileBegin(p string, meta Meta, size uint64) error {
	dest := s.dest(p)
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if s.files == nil {
		s.files = make(map[string]*os.File)
	}
	s.files[p] = f
	return s.applyMeta(dest, meta)
}

func (s *FileSink) OnFileChunk(p string, chunk []byte) error {
	f, ok := s.files[p]
	if !ok {
		return fmt.Errorf("squashfs: chunk for %s with no open file", p)
	}
	_, err := f.Write(chunk)
	return err
}

func (s *FileSink) OnFileEnd(p string) error {
	f, ok := s.files[p]
	if !ok {
		return fmt.Errorf("squashfs: end of %s with no open file", p)
	}
	delete(s.files, p)
	return f.Close()
}

func (s *FileSink) OnSymlink(p string, target string, meta Meta) error {
	dest := s.dest(p)
	os.Remove(dest)
	return os.Symlink(target, dest)
}

func (s *FileSink) OnSpecial(p string, meta Meta, rdev uint32) error {
	// Creating device nodes and named pipes requires a syscall
	// (mknod/mkfifo) not exposed by the standard library. Special files
	// are skipped: nothing is created for them and no warning is raised.
	return nil
}

func (s *FileSink) OnWarning(p string, err error) {}

func (s *FileSink) applyMeta(dest string, meta Meta) error {
	if !s.ApplyMetadata {
		return nil
	}
	if err := os.Chmod(dest, meta.Mode.Perm()); err != nil {
		return err
	}
	if err := os.Chown(dest, int(meta.Uid), int(meta.Gid)); err != nil && !os.IsPermission(err) {
		return err
	}
	if err := os.Chtimes(dest, meta.ModTime, meta.ModTime); err != nil {
		return err
	}
	for _, x := range meta.Xattrs {
		if x.OutOfLine {
			continue
		}
		if err := xattr.Set(dest, x.FullName, x.Value); err != nil {
			return err
		}
	}
	return nil
}
