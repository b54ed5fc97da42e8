package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/foundry/contentsync/internal/util/hashing"
)

func cmdHash(args []string) error {
	flags := pflag.NewFlagSet("hash", pflag.ContinueOnError)
	include := flags.StringArray("include", nil, "only hash files under a directory argument matching this glob (repeatable)")
	jobs := flags.IntP("jobs", "j", runtime.NumCPU(), "number of files hashed in parallel")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return usageError("hash [--include GLOB]... [--jobs N] <path>...")
	}

	files, err := collectFiles(flags.Args(), *include)
	if err != nil {
		return err
	}

	sums, err := hashFiles(context.Background(), files, *jobs)
	if err != nil {
		return err
	}
	for i, f := range files {
		fmt.Printf("%s  %s\n", sums[i], f)
	}
	return nil
}

// collectFiles expands the arguments into a list of regular files.
// Files named directly are always included; directories are walked and
// their files kept only if they match one of the patterns (or all of
// them when there are no patterns). Patterns match the slash-separated
// path relative to the directory argument.
func collectFiles(args, patterns []string) ([]string, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob %q", p)
		}
	}

	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(arg, p)
			if err != nil {
				return err
			}
			if matchesAny(filepath.ToSlash(rel), patterns) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", arg, err)
		}
	}
	return files, nil
}

func matchesAny(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// hashFiles computes the content hash of every file, at most jobs at a
// time. Each file gets its own hasher. The first error cancels the rest.
func hashFiles(ctx context.Context, files []string, jobs int) ([]string, error) {
	sums := make([]string, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(jobs, 1))
	for i, f := range files {
		g.Go(func() error {
			sum, err := hashing.HashFileContext(ctx, f)
			if err != nil {
				return err
			}
			sums[i] = hashing.Format(sum)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sums, nil
}
