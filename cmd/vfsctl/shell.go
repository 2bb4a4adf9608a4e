package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// shellCmd runs commands read line by line, on a switch
// kept mounted between them.
func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands read from the standard input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.shell(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) shell(in io.Reader, out io.Writer) error {
	byName := make(map[string]command)
	for _, c := range commands {
		byName[c.name()] = c
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		name, args := fields[0], fields[1:]
		var err error
		switch name {
		case "exit", "quit":
			return nil
		case "pwd":
			fmt.Fprintln(out, a.sw.Getwd())
		case "cd":
			target := "/"
			if len(args) > 0 {
				target = args[0]
			}
			err = a.cd(target)
		case "help":
			for _, c := range commands {
				fmt.Fprintf(out, "%-24s %s\n", c.use, c.short)
			}
			fmt.Fprintf(out, "%-24s %s\n", "cd [path]", "Change the working directory")
			fmt.Fprintf(out, "%-24s %s\n", "pwd", "Print the working directory")
		default:
			c, ok := byName[name]
			if !ok {
				err = errors.Errorf("unknown command %q", name)
				break
			}
			if err = c.checkArgs(args); err == nil {
				// Text is always given inline in the shell.
				err = c.run(a, out, strings.NewReader(""), args)
			}
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// cd changes the working directory, checking that the
// target is a directory.
func (a *app) cd(path string) error {
	info, err := a.sw.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "cd %q", path)
	}
	if !info.IsDir() {
		return errors.Errorf("cd %q: not a directory", path)
	}
	return a.sw.Chdir(path)
}
