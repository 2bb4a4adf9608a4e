package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-vfsswitch/vfsswitch"
)

// command is a file operation offered both as a subcommand
// and inside the shell.
type command struct {
	use     string
	short   string
	minArgs int
	maxArgs int
	run     func(a *app, out io.Writer, in io.Reader, args []string) error
}

func (c command) name() string {
	return strings.Fields(c.use)[0]
}

func (c command) checkArgs(args []string) error {
	if len(args) < c.minArgs || (c.maxArgs >= 0 && len(args) > c.maxArgs) {
		return errors.Errorf("usage: %s", c.use)
	}
	return nil
}

func (c command) cobra(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   c.use,
		Short: c.short,
		Args: func(cmd *cobra.Command, args []string) error {
			return c.checkArgs(args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(a, cmd.OutOrStdout(), cmd.InOrStdin(), args)
		},
	}
}

var commands = []command{
	{
		use:   "mounts",
		short: "List the mounted file systems",
		run: func(a *app, out io.Writer, _ io.Reader, _ []string) error {
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tBACKEND\tOPEN")
			for _, m := range a.sw.Mounts() {
				fmt.Fprintf(w, "%s\t%s\t%d\n", m.Path, m.Backend, m.OpenNodes)
			}
			return w.Flush()
		},
	},
	{
		use:     "df [path]",
		short:   "Report the usage of mounted file systems",
		maxArgs: 1,
		run:     (*app).df,
	},
	{
		use:     "ls [path]",
		short:   "List a directory",
		maxArgs: 1,
		run:     (*app).ls,
	},
	{
		use:     "cat path...",
		short:   "Print files",
		minArgs: 1,
		maxArgs: -1,
		run:     (*app).cat,
	},
	{
		use:     "write path [text...]",
		short:   "Write the text, or the standard input, to a file",
		minArgs: 1,
		maxArgs: -1,
		run:     (*app).writeText,
	},
	{
		use:     "append path [text...]",
		short:   "Append the text, or the standard input, to a file",
		minArgs: 1,
		maxArgs: -1,
		run:     (*app).appendText,
	},
	{
		use:     "stat path",
		short:   "Describe a file",
		minArgs: 1,
		maxArgs: 1,
		run:     (*app).stat,
	},
	{
		use:     "cp source target",
		short:   "Copy a file",
		minArgs: 2,
		maxArgs: 2,
		run: func(a *app, _ io.Writer, _ io.Reader, args []string) error {
			return a.copyFile(args[0], args[1])
		},
	},
	{
		use:     "mv source target",
		short:   "Move a file, copying it across file systems",
		minArgs: 2,
		maxArgs: 2,
		run:     (*app).move,
	},
	{
		use:     "rm path...",
		short:   "Remove files or empty directories",
		minArgs: 1,
		maxArgs: -1,
		run: func(a *app, _ io.Writer, _ io.Reader, args []string) error {
			for _, path := range args {
				if err := a.sw.Remove(path); err != nil {
					return errors.Wrapf(err, "rm %q", path)
				}
			}
			return nil
		},
	},
	{
		use:     "mkdir path...",
		short:   "Create directories",
		minArgs: 1,
		maxArgs: -1,
		run: func(a *app, _ io.Writer, _ io.Reader, args []string) error {
			for _, path := range args {
				if err := a.sw.Mkdir(path); err != nil {
					return errors.Wrapf(err, "mkdir %q", path)
				}
			}
			return nil
		},
	},
}

func (a *app) df(out io.Writer, _ io.Reader, args []string) error {
	mounts := a.sw.Mounts()
	if len(args) > 0 {
		m, err := a.sw.MountOf(args[0])
		if err != nil {
			return errors.Wrapf(err, "df %q", args[0])
		}
		mounts = []vfsswitch.MountInfo{m}
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tBACKEND\tSIZE\tUSED\tAVAIL\tFILES")
	for _, m := range mounts {
		stat, err := a.sw.Statfs(m.Path)
		if errors.Is(err, vfsswitch.ErrIOUnsupported) {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\n", m.Path, m.Backend)
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "statfs %q", m.Path)
		}
		size := stat.Blocks * stat.BlockSize
		avail := stat.BlocksFree * stat.BlockSize
		used := uint64(0)
		if size > avail {
			used = size - avail
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Path, m.Backend,
			humanize.IBytes(size), humanize.IBytes(used), humanize.IBytes(avail),
			humanize.Comma(int64(stat.Files)))
	}
	return w.Flush()
}

func (a *app) ls(out io.Writer, _ io.Reader, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	info, err := a.sw.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "ls %q", path)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if !info.IsDir() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Mode(), humanize.IBytes(uint64(info.Size())), info.Name())
		return w.Flush()
	}

	var fd vfsswitch.Descriptor
	if err := a.sw.Open(&fd, path, vfsswitch.FlagRead|vfsswitch.FlagDirectory); err != nil {
		return errors.Wrapf(err, "ls %q", path)
	}
	defer func() { _ = a.sw.Close(&fd) }()
	dirents := make([]vfsswitch.Dirent, 16)
	for {
		n, err := a.sw.Getdents(&fd, dirents)
		if err != nil {
			return errors.Wrapf(err, "ls %q", path)
		}
		if n == 0 {
			break
		}
		for _, dirent := range dirents[:n] {
			name := dirent.Name
			if dirent.Mode.IsDir() {
				name += "/"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", dirent.Mode, humanize.IBytes(uint64(dirent.Size)), name)
		}
	}
	return w.Flush()
}

func (a *app) cat(out io.Writer, _ io.Reader, args []string) error {
	for _, path := range args {
		if err := a.readFile(path, out); err != nil {
			return errors.Wrapf(err, "cat %q", path)
		}
	}
	return nil
}

// readFile copies the content of path into w.
func (a *app) readFile(path string, w io.Writer) error {
	var fd vfsswitch.Descriptor
	if err := a.sw.Open(&fd, path, vfsswitch.FlagRead); err != nil {
		return err
	}
	defer func() { _ = a.sw.Close(&fd) }()
	buf := make([]byte, 32*1024)
	for {
		n, err := a.sw.Read(&fd, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || (err == nil && n == 0) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// writeFile copies r into path.
func (a *app) writeFile(path string, flags vfsswitch.OpenFlag, r io.Reader) (rerr error) {
	var fd vfsswitch.Descriptor
	if err := a.sw.Open(&fd, path, flags|vfsswitch.FlagWrite|vfsswitch.FlagCreate); err != nil {
		return err
	}
	defer func() {
		if err := a.sw.Close(&fd); err != nil && rerr == nil {
			rerr = err
		}
	}()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		for written := 0; written < n; {
			m, werr := a.sw.Write(&fd, buf[written:n])
			if werr != nil {
				return werr
			}
			written += m
		}
		if err == io.EOF {
			return a.sw.Flush(&fd)
		}
		if err != nil {
			return err
		}
	}
}

func contentOf(in io.Reader, args []string) io.Reader {
	if len(args) > 1 {
		return strings.NewReader(strings.Join(args[1:], " ") + "\n")
	}
	return in
}

func (a *app) writeText(_ io.Writer, in io.Reader, args []string) error {
	err := a.writeFile(args[0], vfsswitch.FlagTruncate, contentOf(in, args))
	return errors.Wrapf(err, "write %q", args[0])
}

func (a *app) appendText(_ io.Writer, in io.Reader, args []string) error {
	err := a.writeFile(args[0], vfsswitch.FlagAppend, contentOf(in, args))
	return errors.Wrapf(err, "append %q", args[0])
}

func (a *app) stat(out io.Writer, _ io.Reader, args []string) error {
	info, err := a.sw.Stat(args[0])
	if err != nil {
		return errors.Wrapf(err, "stat %q", args[0])
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", info.Name())
	fmt.Fprintf(w, "Size:\t%s (%s bytes)\n", humanize.IBytes(uint64(info.Size())), humanize.Comma(info.Size()))
	fmt.Fprintf(w, "Mode:\t%s\n", info.Mode())
	if !info.ModTime().IsZero() {
		fmt.Fprintf(w, "Modified:\t%s\n", humanize.Time(info.ModTime()))
	}
	return w.Flush()
}

func (a *app) copyFile(source, target string) error {
	cwd := a.sw.Getwd()
	sourcePath, err := vfsswitch.JoinPath(cwd, source)
	if err != nil {
		return errors.Wrapf(err, "cp %q", source)
	}
	targetPath, err := vfsswitch.JoinPath(cwd, target)
	if err != nil {
		return errors.Wrapf(err, "cp %q", target)
	}
	if sourcePath == targetPath {
		return errors.Wrapf(vfsswitch.ErrInvalidArgument,
			"cp %q: source and target are the same file", source)
	}

	var fd vfsswitch.Descriptor
	if err := a.sw.Open(&fd, sourcePath, vfsswitch.FlagRead); err != nil {
		return errors.Wrapf(err, "cp %q", source)
	}
	defer func() { _ = a.sw.Close(&fd) }()
	reader := &descriptorReader{sw: a.sw, fd: &fd}
	if err := a.writeFile(targetPath, vfsswitch.FlagTruncate, reader); err != nil {
		return errors.Wrapf(err, "cp %q", target)
	}
	return nil
}

// move renames inside a file system, and falls back to a
// copy followed by an unlink across file systems.
func (a *app) move(_ io.Writer, _ io.Reader, args []string) error {
	source, target := args[0], args[1]
	err := a.sw.Rename(source, target)
	if !errors.Is(err, vfsswitch.ErrCrossDevice) {
		return errors.Wrapf(err, "mv %q", source)
	}
	if err := a.copyFile(source, target); err != nil {
		return errors.Wrapf(err, "mv %q", source)
	}
	abspath, err := vfsswitch.JoinPath(a.sw.Getwd(), source)
	if err != nil {
		return err
	}
	return errors.Wrapf(a.sw.Unlink(abspath), "mv %q", source)
}

// descriptorReader reads an open descriptor as an
// io.Reader.
type descriptorReader struct {
	sw *vfsswitch.Switch
	fd *vfsswitch.Descriptor
}

func (r *descriptorReader) Read(p []byte) (int, error) {
	n, err := r.sw.Read(r.fd, p)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

var _ io.Reader = (*descriptorReader)(nil)
