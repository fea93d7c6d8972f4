package squashfs

import (
	"errors"
	"fmt"
)

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidFile is returned when the file format is not recognized as SquashFS
	ErrInvalidFile = errors.New("invalid file, squashfs signature not found")

	// ErrInvalidSuper is returned when the superblock data is corrupted or invalid
	ErrInvalidSuper = errors.New("invalid squashfs superblock")

	// ErrInvalidVersion is returned when the SquashFS version is not 4.0
	// This library only supports SquashFS 4.0 format
	ErrInvalidVersion = errors.New("invalid file version, expected squashfs 4.0")

	// ErrInodeNotExported is returned when trying to access an inode that isn't in the export table
	ErrInodeNotExported = errors.New("unknown squashfs inode and no NFS export table")

	// ErrNotDirectory is returned when attempting to perform directory operations on a non-directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrTooManySymlinks is returned when symlink resolution exceeds the maximum depth
	// This prevents infinite loops in symlink resolution
	ErrTooManySymlinks = errors.New("too many levels of symbolic links")

	// ErrNoParent is returned when resolving ".." from the filesystem root,
	// which has no parent to ascend to
	ErrNoParent = errors.New("squashfs: root directory has no parent")

	// ErrTruncated is returned when a read would run past the end of the image
	ErrTruncated = errors.New("squashfs: truncated image")

	// ErrMetaHeaderInvalid is returned when a metadata block header declares
	// a zero or over-large payload length
	ErrMetaHeaderInvalid = errors.New("squashfs: invalid metadata block header")

	// ErrBlockSizeOverflow is returned when a decoded data block or
	// fragment block is too short for the offset and length a file reads
	// from it
	ErrBlockSizeOverflow = errors.New("squashfs: data block size overflow")

	// ErrDirectoryMalformed is returned when a symlink inode declares a
	// target longer than 4096 bytes. Directory table entries are not
	// checked against it: a short read there surfaces as an io error
	ErrDirectoryMalformed = errors.New("squashfs: malformed directory entry")

	// ErrXattrMissing is a non-fatal warning kind: an inode names an xattr
	// index but no xattr table is present in the image
	ErrXattrMissing = errors.New("squashfs: xattr table absent")

	// ErrSinkRefused is a non-fatal warning kind: the sink could not apply
	// some piece of metadata (e.g. chown requires privileges it lacks)
	ErrSinkRefused = errors.New("squashfs: sink refused to apply metadata")
)

// UnsupportedCodecError is returned when an image names a compression id
// this build has no decoder registered for.
type UnsupportedCodecError struct {
	Id Compression
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("squashfs: unsupported compression %s", e.Id)
}

func (e *UnsupportedCodecError) Is(target error) bool {
	_, ok := target.(*UnsupportedCodecError)
	return ok
}

// InodeTypeError is returned when an inode record names a type outside 1..14.
type InodeTypeError struct {
	Type uint16
}

func (e *InodeTypeError) Error() string {
	return fmt.Sprintf("squashfs: unsupported inode type %d", e.Type)
}

func (e *InodeTypeError) Is(target error) bool {
	_, ok := target.(*InodeTypeError)
	return ok
}

// FileSizeMismatchError is returned when the bytes reassembled for a file
// don't add up to the size recorded in its inode.
type FileSizeMismatchError struct {
	Path     string
	Want     uint64
	Got      uint64
}

func (e *FileSizeMismatchError) Error() string {
	return fmt.Sprintf("squashfs: %s: reassembled %d bytes, want %d", e.Path, e.Got, e.Want)
}

func (e *FileSizeMismatchError) Is(target error) bool {
	_, ok := target.(*FileSizeMismatchError)
	return ok
}

// isFatalByDefault reports whether err is one of the per-entry error kinds
// that abort a walk outright unless the driver is running in lenient mode.
func isFatalByDefault(err error) bool {
	var ite *InodeTypeError
	var dm error = ErrDirectoryMalformed
	var fsm *FileSizeMismatchError
	if errors.As(err, &ite) {
		return true
	}
	if errors.Is(err, dm) {
		return true
	}
	if errors.As(err, &fsm) {
		return true
	}
	return false
}
