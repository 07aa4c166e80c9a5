package cmd

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/alec-rabold/zippeek/pkg/pypi"
	"github.com/alec-rabold/zippeek/pkg/zipfile"
)

// topLevelFetchLimit caps how many wheels are inspected in parallel.
const topLevelFetchLimit = 4

var toplevelCmd = &cobra.Command{
	Use:   "toplevel <package>...",
	Short: "Show the importable top-level modules of PyPI packages",
	Long: `Resolves each requirement against the package index, picks its newest
	matching wheel, and reads the wheel's top_level.txt in place over HTTP
	range requests. Local .whl files are read directly. Prints a JSON object
	mapping each package to its top-level modules.

	ex:
	zippeek toplevel requests
	zippeek toplevel 'urllib3<2' ./dist/mypkg-1.0-py3-none-any.whl`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		client := pypi.NewClient(pypi.WithBaseURL(viper.GetString("index-url")))

		type result struct {
			name    pypi.PackageName
			modules []string
		}
		results := make([]result, len(args))

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(topLevelFetchLimit)
		for i, arg := range args {
			i, arg := i, arg
			g.Go(func() error {
				name, modules, err := readTopLevel(ctx, client, arg)
				if err != nil {
					return err
				}
				results[i] = result{name: name, modules: modules}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Errorf("error reading top-level modules, err: %v", err)
			return err
		}

		contents := make(map[pypi.PackageName][]string, len(results))
		for _, r := range results {
			contents[r.name] = r.modules
		}
		return json.NewEncoder(os.Stdout).Encode(contents)
	},
}

// readTopLevel handles one argument, which is either a requirement like
// "requests>=2.28" or a path to a local wheel.
func readTopLevel(ctx context.Context, client *pypi.Client, arg string) (pypi.PackageName, []string, error) {
	if dep, err := pypi.ParseDependency(arg); err == nil {
		modules, err := readRemoteTopLevel(ctx, client, dep)
		return dep.Name, modules, err
	}
	name, err := pypi.NewPackageName(filepath.Base(arg))
	if err != nil {
		return "", nil, errors.Errorf("%q is neither a requirement nor a wheel path", arg)
	}
	modules, err := readLocalTopLevel(arg)
	return name, modules, err
}

func readRemoteTopLevel(ctx context.Context, client *pypi.Client, dep pypi.Dependency) ([]string, error) {
	project, err := client.Project(ctx, dep.Name)
	if err != nil {
		return nil, err
	}
	whl, err := pypi.ResolveWheel(project, dep)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"package": dep.Name,
		"wheel":   whl.Filename,
	}).Debug("resolved wheel")

	archive, err := zipfile.New(ctx, whl.URL)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	zFiles, err := archive.Directory(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range zFiles {
		if !strings.HasSuffix(f.Name, "/top_level.txt") {
			continue
		}
		contents, err := archive.ReadMember(ctx, f.Name)
		if err != nil {
			return nil, err
		}
		return splitLines(string(contents)), nil
	}
	// Wheels without a top_level.txt declare no legacy module list.
	return []string{}, nil
}

func readLocalTopLevel(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, "/top_level.txt") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		contents, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		return splitLines(string(contents)), nil
	}
	return []string{}, nil
}

// splitLines splits on newlines the way setuptools writes top_level.txt: the
// trailing newline does not produce an empty final entry.
func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

func init() {
	rootCmd.AddCommand(toplevelCmd)
	toplevelCmd.PersistentFlags().String("index-url", pypi.DefaultBaseURL, "base URL of the simple package index")
	if err := viper.BindPFlag("index-url", toplevelCmd.PersistentFlags().Lookup("index-url")); err != nil {
		panic(errors.Wrap(err, "bind index-url flag"))
	}
}
