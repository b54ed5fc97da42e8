package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "hash":
		err = cmdHash(args)
	case "push":
		err = cmdPush(args)
	case "pull":
		err = cmdPull(args)
	case "list":
		err = cmdList(args)
	case "ls":
		err = cmdLs(args)
	case "delete":
		err = cmdDelete(args)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`contentsync CLI

Usage:
  sync-cli hash [--include GLOB]... [--jobs N] <path>...
  sync-cli push <namespace> <path> <file> [--add] [options]
  sync-cli pull <namespace> <path> [--output FILE] [options]
  sync-cli list [--search QUERY] [options]
  sync-cli ls <namespace> [options]
  sync-cli delete <namespace> <path> [options]

Options:
  --server <url>    Server URL (default: http://localhost:8080)
  --token <token>   Authentication token (default: $CONTENTSYNC_TOKEN)`)
}

// usageError reports a wrong number of positional arguments.
func usageError(usage string) error {
	return fmt.Errorf("usage: sync-cli %s", usage)
}
