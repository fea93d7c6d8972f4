package squashfs_test

import (
	"bytes"
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/sqfsgo/squashfs"
	"github.com/sqfsgo/squashfs/internal/fixture"
)

// symlinkFS wraps fstest.MapFS with the io/fs.ReadLinkFS methods MapFS
// itself doesn't implement, so the fixture builder can record a symlink
// target the same way it would read one off a real filesystem.
type symlinkFS struct {
	fstest.MapFS
	targets map[string]string
}

func (f symlinkFS) ReadLink(name string) (string, error) {
	if t, ok := f.targets[name]; ok {
		return t, nil
	}
	return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
}

func (f symlinkFS) Lstat(name string) (fs.FileInfo, error) {
	return fs.Stat(f.MapFS, name)
}

// extractEvent is one call a recordingSink observed, in the order Extract
// produced it.
type extractEvent struct {
	kind string // "dir", "file_begin", "chunk", "file_end", "symlink", "special", "warning"
	path string
	size int
}

// recordingSink implements squashfs.Sink, recording every event in arrival
// order and the full reassembled content of every regular file, so a test
// can assert both ordering and data correctness in one pass.
type recordingSink struct {
	events   []extractEvent
	contents map[string][]byte
	warnings []error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{contents: make(map[string][]byte)}
}

func (s *recordingSink) OnDir(path string, meta squashfs.Meta) error {
	s.events = append(s.events, extractEvent{kind: "dir", path: path})
	return nil
}

func (s *recordingSink) OnFileBegin(path string, meta squashfs.Meta, size uint64) error {
	s.events = append(s.events, extractEvent{kind: "file_begin", path: path, size: int(size)})
	return nil
}

func (s *recordingSink) OnFileChunk(path string, chunk []byte) error {
	s.events = append(s.events, extractEvent{kind: "chunk", path: path, size: len(chunk)})
	s.contents[path] = append(s.contents[path], chunk...)
	return nil
}

func (s *recordingSink) OnFileEnd(path string) error {
	s.events = append(s.events, extractEvent{kind: "file_end", path: path})
	return nil
}

func (s *recordingSink) OnSymlink(path string, target string, meta squashfs.Meta) error {
	s.events = append(s.events, extractEvent{kind: "symlink", path: path})
	s.contents[path] = []byte(target)
	return nil
}

func (s *recordingSink) OnSpecial(path string, meta squashfs.Meta, rdev uint32) error {
	s.events = append(s.events, extractEvent{kind: "special", path: path})
	return nil
}

func (s *recordingSink) OnWarning(path string, err error) {
	s.events = append(s.events, extractEvent{kind: "warning", path: path})
	s.warnings = append(s.warnings, err)
}

// TestExtractOrdering drives Extract against a recording Sink and checks
// that directories are reported before their children (pre-order), that a
// multi-block file's chunks reassemble to its original content including a
// zero-filled sparse block in the middle, and that a symlink's target comes
// through untouched.
func TestExtractOrdering(t *testing.T) {
	const blockSize = 4096

	fileData := bytes.Repeat([]byte("y"), blockSize)
	fileData = append(fileData, bytes.Repeat([]byte{0}, blockSize)...)
	fileData = append(fileData, bytes.Repeat([]byte("z"), blockSize/2)...)

	files := symlinkFS{
		MapFS: fstest.MapFS{
			"dir/sub/leaf.txt": {Data: []byte("leaf content")},
			"dir/file.bin":     {Data: fileData},
			"dir/link":         {Data: []byte{}, Mode: fs.ModeSymlink | 0777},
		},
		targets: map[string]string{
			"dir/link": "file.bin",
		},
	}

	var buf bytes.Buffer
	w, err := fixture.New(&buf, fixture.WithBlockSize(blockSize))
	if err != nil {
		t.Fatalf("fixture.New: %s", err)
	}
	w.SetSourceFS(files)
	if err := fs.WalkDir(files, ".", w.Add); err != nil {
		t.Fatalf("walking fixture tree: %s", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	sb, err := squashfs.New(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	sink := newRecordingSink()
	if err := sb.Extract(context.Background(), sink, squashfs.ExtractOptions{}); err != nil {
		t.Fatalf("Extract: %s", err)
	}

	seen := make(map[string]int)
	for i, ev := range sink.events {
		seen[ev.kind+":"+ev.path] = i
	}

	mustBefore := func(a, b string) {
		t.Helper()
		ai, aok := seen[a]
		bi, bok := seen[b]
		if !aok || !bok {
			t.Fatalf("expected both %q and %q among events, got %+v", a, b, sink.events)
		}
		if ai >= bi {
			t.Errorf("expected %q before %q, got indices %d and %d", a, b, ai, bi)
		}
	}

	// pre-order: a directory's OnDir must precede every event for its
	// children, at every nesting level.
	mustBefore("dir:dir", "dir:dir/sub")
	mustBefore("dir:dir", "file_begin:dir/file.bin")
	mustBefore("dir:dir", "symlink:dir/link")
	mustBefore("dir:dir/sub", "file_begin:dir/sub/leaf.txt")

	// a file's own event order: begin, then its chunks, then end.
	mustBefore("file_begin:dir/file.bin", "file_end:dir/file.bin")

	gotContent, ok := sink.contents["dir/file.bin"]
	if !ok {
		t.Fatalf("no content recorded for dir/file.bin")
	}
	if !bytes.Equal(gotContent, fileData) {
		t.Errorf("dir/file.bin content mismatch: got %d bytes, want %d", len(gotContent), len(fileData))
	}

	if leaf, ok := sink.contents["dir/sub/leaf.txt"]; !ok || string(leaf) != "leaf content" {
		t.Errorf("dir/sub/leaf.txt content mismatch: got %q", leaf)
	}

	if target, ok := sink.contents["dir/link"]; !ok || string(target) != "file.bin" {
		t.Errorf("dir/link symlink target mismatch: got %q, want %q", target, "file.bin")
	}

	for _, warnErr := range sink.warnings {
		t.Errorf("unexpected warning during extraction: %s", warnErr)
	}
}

// TestExtractChunkSize exercises ExtractOptions.ChunkSize, forcing a single
// data block to be split into several OnFileChunk calls instead of one.
func TestExtractChunkSize(t *testing.T) {
	sqfs := buildImage(t, sampleTree())

	sink := newRecordingSink()
	opts := squashfs.ExtractOptions{ChunkSize: 8}
	if err := sqfs.Extract(context.Background(), sink, opts); err != nil {
		t.Fatalf("Extract: %s", err)
	}

	got, ok := sink.contents["lib/libz.a"]
	if !ok {
		t.Fatalf("no content recorded for lib/libz.a")
	}
	if string(got) != "archive-contents" {
		t.Errorf("lib/libz.a content mismatch: got %q", got)
	}

	chunks := 0
	for _, ev := range sink.events {
		if ev.kind == "chunk" && ev.path == "lib/libz.a" {
			chunks++
			if ev.size > 8 {
				t.Errorf("chunk for lib/libz.a exceeded ChunkSize: %d bytes", ev.size)
			}
		}
	}
	if chunks < 2 {
		t.Errorf("expected lib/libz.a to be split into multiple chunks with ChunkSize=8, got %d", chunks)
	}
}
