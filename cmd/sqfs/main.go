package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sqfsgo/squashfs"
)

type lsCmd struct {
	Args struct {
		Image string `positional-arg-name:"image" required:"yes"`
		Path  string `positional-arg-name:"path"`
	} `positional-args:"yes"`
}

type catCmd struct {
	Args struct {
		Image string `positional-arg-name:"image" required:"yes"`
		Path  string `positional-arg-name:"path" required:"yes"`
	} `positional-args:"yes"`
}

type infoCmd struct {
	Args struct {
		Image string `positional-arg-name:"image" required:"yes"`
	} `positional-args:"yes"`
}

type extractCmd struct {
	Metadata bool `long:"metadata" description:"apply uid/gid/mode/mtime/xattrs to extracted entries"`
	Lenient  bool `long:"lenient" description:"warn and skip on a decode error instead of aborting"`
	Args     struct {
		Image string `positional-arg-name:"image" required:"yes"`
		Dest  string `positional-arg-name:"dest" required:"yes"`
	} `positional-args:"yes"`
}

var opts struct {
	Ls      lsCmd      `command:"ls" description:"list files in a SquashFS image"`
	Cat     catCmd     `command:"cat" description:"print a file's contents"`
	Info    infoCmd    `command:"info" description:"show superblock and content summary"`
	Extract extractCmd `command:"extract" description:"reassemble an image onto the local filesystem"`
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func (c *lsCmd) Execute(args []string) error {
	sqfs, err := squashfs.Open(c.Args.Image)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.Args.Image, err)
	}
	defer sqfs.Close()

	dir := c.Args.Path
	if dir == "" {
		dir = "."
	}
	if dir != "." {
		info, err := fs.Stat(sqfs, dir)
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s: not a directory", dir)
		}
	}

	entries, err := fs.ReadDir(sqfs, dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %s\n", entry.Name(), err)
			continue
		}
		printEntry(entry.Name(), info)
	}
	return nil
}

func printEntry(name string, info fs.FileInfo) {
	typeChar := "-"
	switch {
	case info.IsDir():
		typeChar = "d"
	case info.Mode()&fs.ModeSymlink != 0:
		typeChar = "l"
	}
	size := fmt.Sprintf("%8d", info.Size())
	if info.IsDir() {
		size = "       -"
	}
	fmt.Printf("%s%s %s %s %s\n", typeChar, info.Mode().String()[1:], size,
		info.ModTime().Format("Jan 02 15:04"), name)
}

func (c *catCmd) Execute(args []string) error {
	sqfs, err := squashfs.Open(c.Args.Image)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.Args.Image, err)
	}
	defer sqfs.Close()

	data, err := fs.ReadFile(sqfs, c.Args.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.Args.Path, err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func (c *infoCmd) Execute(args []string) error {
	sqfs, err := squashfs.Open(c.Args.Image)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.Args.Image, err)
	}
	defer sqfs.Close()

	fmt.Println("SquashFS Archive Information")
	fmt.Println("===========================")
	fmt.Printf("Version:          %d.%d\n", sqfs.VMajor, sqfs.VMinor)
	fmt.Printf("Creation time:    %s\n", time.Unix(int64(sqfs.ModTime), 0).Format(time.RFC1123))
	fmt.Printf("Block size:       %d bytes\n", sqfs.BlockSize)
	fmt.Printf("Compression:      %s\n", sqfs.Comp)
	fmt.Printf("Flags:            %s\n", sqfs.Flags)
	fmt.Printf("Total size:       %d bytes\n", sqfs.BytesUsed)
	fmt.Printf("Inode count:      %d\n", sqfs.InodeCnt)
	fmt.Printf("Fragment count:   %d\n", sqfs.FragCount)
	fmt.Printf("ID count:         %d\n", sqfs.IdCount)

	var files, dirs, syms int
	countTree(sqfs, ".", &files, &dirs, &syms)
	fmt.Println("\nContent Summary")
	fmt.Println("--------------")
	fmt.Printf("Directories:      %d\n", dirs)
	fmt.Printf("Regular files:    %d\n", files)
	fmt.Printf("Symlinks:         %d\n", syms)
	return nil
}

func countTree(fsys fs.FS, dir string, files, dirs, syms *int) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		switch {
		case info.IsDir():
			*dirs++
			sub := entry.Name()
			if dir != "." {
				sub = dir + "/" + sub
			}
			countTree(fsys, sub, files, dirs, syms)
		case info.Mode()&fs.ModeSymlink != 0:
			*syms++
		default:
			*files++
		}
	}
}

func (c *extractCmd) Execute(args []string) error {
	sqfs, err := squashfs.Open(c.Args.Image)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.Args.Image, err)
	}
	defer sqfs.Close()

	if err := os.MkdirAll(c.Args.Dest, 0755); err != nil {
		return err
	}

	sink := &squashfs.FileSink{Root: c.Args.Dest, ApplyMetadata: c.Metadata}
	sink2 := &warningSink{Sink: sink}
	return sqfs.Extract(context.Background(), sink2, squashfs.ExtractOptions{Lenient: c.Lenient})
}

// warningSink wraps a Sink to print OnWarning calls to stderr, the only
// place the library surfaces a non-fatal decode problem during a walk.
type warningSink struct {
	squashfs.Sink
}

func (s *warningSink) OnWarning(p string, err error) {
	fmt.Fprintf(os.Stderr, "warning: %s: %s\n", p, err)
	s.Sink.OnWarning(p, err)
}
