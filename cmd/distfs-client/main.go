// Command distfs-client is a non-interactive, one-subcommand-per-invocation
// client for distfs. The interactive shell (prompt, command history, colored
// output) is explicitly out of scope (spec.md §1); this binary exists so the
// wire protocol has a usable driver without reimplementing that shell.
// Subcommands use pflag for GNU-style long flags (read/write/info/list/
// rename), grounded on the flag-parsing style rclone and moby use for their
// own CLIs in the retrieved example pack.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/distfs/distfs/internal/dfsclient"
	"github.com/distfs/distfs/internal/wire"
)

const usage = `usage: distfs-client <command> [--ns ADDR] [args]

Commands:
  read    <path>                 stream a file to stdout
  write   <path> [--append]      write stdin to a file (overwrite by default)
  info    <path>                 print file metadata
  list    [path]                 print the subtree rooted at path (default /)
  rename  <path> <new-name>      rename a file, waiting for completion
  close                          tell the naming service this client is done
`

func main() {
	top := pflag.NewFlagSet("distfs-client", pflag.ContinueOnError)
	nsAddr := top.String("ns", "127.0.0.1:8080", "naming service client-facing address")
	top.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	// stop at the first positional argument so subcommand flags such as
	// write's --append reach the subcommand's own flag set.
	top.SetInterspersed(false)

	if len(os.Args) < 2 {
		top.Usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	if err := top.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}
	args := top.Args()

	var err error
	switch cmd {
	case "read":
		err = runRead(*nsAddr, args)
	case "write":
		err = runWrite(*nsAddr, args)
	case "info":
		err = runInfo(*nsAddr, args)
	case "list":
		err = runList(*nsAddr, args)
	case "rename":
		err = runRename(*nsAddr, args)
	case "close":
		err = dfsclient.Close(*nsAddr)
	default:
		top.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "distfs-client:", err)
		os.Exit(1)
	}
}

func runRead(nsAddr string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: read <path>")
	}
	return dfsclient.Read(nsAddr, args[0], os.Stdout)
}

func runWrite(nsAddr string, args []string) error {
	fs := pflag.NewFlagSet("write", pflag.ContinueOnError)
	appendMode := fs.Bool("append", false, "append instead of overwrite")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: write <path> [--append]")
	}

	flag := wire.WriteOverwrite
	if *appendMode {
		flag = wire.WriteAppend
	}
	return dfsclient.Write(nsAddr, rest[0], flag, os.Stdin)
}

func runInfo(nsAddr string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: info <path>")
	}
	info, err := dfsclient.Info(nsAddr, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("path:       %s\n", info.Path)
	fmt.Printf("type:       0x%x\n", info.Type)
	fmt.Printf("size:       %d\n", info.Size)
	fmt.Printf("permission: %#o\n", info.Permission)
	fmt.Printf("links:      %d\n", info.Links)
	fmt.Printf("atime:      %d\n", info.Atime)
	fmt.Printf("mtime:      %d\n", info.Mtime)
	fmt.Printf("ctime:      %d\n", info.Ctime)
	return nil
}

func runList(nsAddr string, args []string) error {
	path := "/"
	if len(args) == 1 {
		path = args[0]
	} else if len(args) > 1 {
		return fmt.Errorf("usage: list [path]")
	}
	dump, err := dfsclient.List(nsAddr, path)
	if err != nil {
		return err
	}
	fmt.Print(dump)
	return nil
}

func runRename(nsAddr string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: rename <path> <new-name>")
	}
	msg, err := dfsclient.Rename(nsAddr, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}
