package squashfs

import (
	"context"
	"io/fs"
	"path"
	"strings"
)

// maxPathHops bounds FindInode's path resolution: both symlink chases and
// ".." hops through ParentIno count against it, the simplest defense
// against an image whose directory table encodes a resolution loop.
const maxPathHops = 40

var (
	_ fs.FS       = (*Superblock)(nil)
	_ fs.StatFS   = (*Superblock)(nil)
	_ fs.ReadDirFS = (*Superblock)(nil)
)

// Open implements fs.FS: the returned file is a *File for regular files,
// device nodes, fifos and sockets, or a *FileDir (which also implements
// fs.ReadDirFile) for directories.
func (sb *Superblock) Open(name string) (fs.File, error) {
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return ino.OpenFile(name), nil
}

// ReadDir implements fs.ReadDirFS.
func (sb *Superblock) ReadDir(name string) ([]fs.DirEntry, error) {
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if !ino.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}
	dr, err := sb.dirReader(ino, nil)
	if err != nil {
		return nil, err
	}
	return dr.ReadDir(-1)
}

// Stat implements fs.StatFS, following a trailing symlink to its target.
func (sb *Superblock) Stat(name string) (fs.FileInfo, error) {
	ino, err := sb.FindInode(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return &fileinfo{name: path.Base(name), ino: ino}, nil
}

// Lstat is like Stat but reports on a trailing symlink itself, without
// following it.
func (sb *Superblock) Lstat(name string) (fs.FileInfo, error) {
	ino, err := sb.FindInode(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return &fileinfo{name: path.Base(name), ino: ino}, nil
}

// FindInode resolves a slash-separated path to its inode, relative to the
// filesystem root. When noFollow is true, a symlink in the final path
// component is returned as-is rather than followed; symlinks in any other
// component are always followed, since they name a directory to descend
// into next.
func (sb *Superblock) FindInode(name string, noFollow bool) (*Inode, error) {
	name = strings.Trim(name, "/")
	cur, err := sb.Root()
	if err != nil {
		return nil, err
	}
	if name == "" || name == "." {
		return cur, nil
	}

	hops := 0
	parts := strings.Split(name, "/")
	for idx := 0; idx < len(parts); idx++ {
		part := parts[idx]
		if part == "" || part == "." {
			continue
		}

		if !cur.IsDir() {
			return nil, ErrNotDirectory
		}

		var next *Inode
		if part == ".." {
			root, rerr := sb.Root()
			if rerr != nil {
				return nil, rerr
			}
			if cur.Ino == root.Ino {
				return nil, ErrNoParent
			}
			hops++
			if hops > maxPathHops {
				return nil, ErrTooManySymlinks
			}
			next, err = sb.GetInode(uint64(cur.ParentIno))
		} else {
			next, err = cur.LookupRelativeInode(context.Background(), part)
		}
		if err != nil {
			return nil, err
		}

		isLast := idx == len(parts)-1
		for Type(next.Type).IsSymlink() && !(isLast && noFollow) {
			hops++
			if hops > maxPathHops {
				return nil, ErrTooManySymlinks
			}
			next, err = sb.resolveSymlink(cur, next)
			if err != nil {
				return nil, err
			}
		}

		cur = next
	}

	return cur, nil
}

// resolveSymlink follows one symlink hop from the directory it was found
// in (dir), returning the inode its target names.
func (sb *Superblock) resolveSymlink(dir *Inode, link *Inode) (*Inode, error) {
	target := string(link.SymTarget)
	base := dir
	if strings.HasPrefix(target, "/") {
		root, err := sb.Root()
		if err != nil {
			return nil, err
		}
		base = root
		target = strings.TrimPrefix(target, "/")
	}
	if target == "" {
		return base, nil
	}
	return base.LookupRelativeInodePath(context.Background(), target)
}
