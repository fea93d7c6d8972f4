package squashfs

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"
)

func modTime(t int32) time.Time {
	return time.Unix(int64(t), 0)
}

// Extract walks the image depth-first, pre-order (a directory's OnDir
// fires before any of its children's events), emitting one event per
// filesystem entry to sink. Traversal order for a directory's children
// follows the on-disk directory table, which the packer is required to
// store sorted by name.
//
// A per-entry error encountered while decoding one entry (one of the kinds
// isFatalByDefault lists) aborts the whole walk unless opts.Lenient is set,
// in which case it's reported via sink.OnWarning and that entry (and its
// subtree, if it was a directory) is skipped. Every other error aborts the
// walk regardless of opts.Lenient.
func (sb *Superblock) Extract(ctx context.Context, sink Sink, opts ExtractOptions) error {
	root, err := sb.Root()
	if err != nil {
		return err
	}
	return sb.walk(ctx, root, "", sink, opts)
}

func (sb *Superblock) walk(ctx context.Context, ino *Inode, p string, sink Sink, opts ExtractOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	meta, err := sb.entryMeta(ino, p, sink)
	if err != nil {
		return err
	}

	switch {
	case ino.IsDir():
		return sb.walkDir(ctx, ino, p, meta, sink, opts)

	case Type(ino.Type).IsSymlink():
		return sink.OnSymlink(p, string(ino.SymTarget), meta)

	case Type(ino.Type).IsRegular():
		if err := sink.OnFileBegin(p, meta, ino.Size); err != nil {
			return err
		}
		chunkSize := opts.chunkSize(sb.BlockSize)
		if err := ino.streamChunks(p, chunkSize, func(chunk []byte) error {
			return sink.OnFileChunk(p, chunk)
		}); err != nil {
			return err
		}
		return sink.OnFileEnd(p)

	default:
		return sink.OnSpecial(p, meta, ino.Rdev)
	}
}

func (sb *Superblock) walkDir(ctx context.Context, ino *Inode, p string, meta Meta, sink Sink, opts ExtractOptions) error {
	if err := sink.OnDir(p, meta); err != nil {
		return err
	}

	dr, err := sb.dirReader(ino, nil)
	if err != nil {
		return err
	}

	for {
		name, _, ref, err := dr.nextfull()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		childPath := name
		if p != "" {
			childPath = path.Join(p, name)
		}

		child, err := sb.GetInodeRef(ref)
		if err == nil {
			err = sb.walk(ctx, child, childPath, sink, opts)
		}
		if err != nil {
			if !opts.Lenient || !isFatalByDefault(err) {
				return err
			}
			sink.OnWarning(childPath, err)
		}
	}
}

// entryMeta gathers the common metadata block every event carries,
// resolving uid/gid through the id table and xattrs through the xattr
// table. Out-of-line xattr values, which this reader cannot chase, are
// reported as warnings rather than silently dropped or misrepresented.
func (sb *Superblock) entryMeta(ino *Inode, p string, sink Sink) (Meta, error) {
	uid, err := sb.idLookup(ino.UidIdx)
	if err != nil {
		return Meta{}, err
	}
	gid, err := sb.idLookup(ino.GidIdx)
	if err != nil {
		return Meta{}, err
	}

	xattrs, err := ino.Xattrs()
	if err != nil {
		if sink != nil {
			sink.OnWarning(p, err)
		}
		xattrs = nil
	}
	for _, x := range xattrs {
		if x.OutOfLine && sink != nil {
			sink.OnWarning(p, fmt.Errorf("xattr %s stored out-of-line, value not decoded", x.FullName))
		}
	}

	return Meta{
		Mode:    ino.Mode(),
		Uid:     uid,
		Gid:     gid,
		ModTime: modTime(ino.ModTime),
		Xattrs:  xattrs,
	}, nil
}
