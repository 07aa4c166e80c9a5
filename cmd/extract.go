package cmd

import (
	"io"
	"os"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alec-rabold/zippeek/pkg/zipfile"
)

var files, outFiles []string
var extractURL string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract one or more files from a remote zip archive",
	Long: `Downloads only the byte range(s) of a remote zip archive containing the
	compressed file(s), then decompresses the data. Search terms match every
	member whose path contains them.

	ex:
	zippeek extract -u https://example.com/archive.zip -f plan.txt
	zippeek extract -u https://example.com/archive.zip -f plan.txt -o my/directory/plan.txt
	zippeek extract -u https://example.com/archive.zip -f plan1.txt,plan2.txt,/directory
	zippeek extract -u https://example.com/archive.zip -f plan1.txt -o plan1.txt -f plan2.txt -o plan2.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(files) == 0 || extractURL == "" {
			cmd.Usage()
			os.Exit(1)
		}
		if len(outFiles) > 1 && (len(outFiles) != len(files)) {
			cmd.Usage()
			log.Error("error: must specify one output file for every search term")
			os.Exit(1)
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		archive, err := zipfile.New(ctx, extractURL)
		if err != nil {
			log.Errorf("error opening archive, err: %v", err)
			return err
		}
		defer archive.Close()

		matches, err := archive.Search(ctx, files)
		if err != nil {
			log.Errorf("error searching archive, err: %v", err)
			return err
		}
		var merr *multierror.Error
		for _, term := range files {
			if len(matches[term]) == 0 {
				merr = multierror.Append(merr, errors.Errorf("no members match %q", term))
			}
		}
		if err := merr.ErrorOrNil(); err != nil {
			log.Errorf("error locating files in archive, err: %v", err)
			return err
		}

		extract := func(w io.Writer, term string) error {
			for _, f := range matches[term] {
				rc, err := archive.Open(ctx, f.Name)
				if err != nil {
					return err
				}
				if _, err := io.Copy(w, rc); err != nil {
					rc.Close()
					return errors.Wrapf(err, "extracting %q", f.Name)
				}
				if err := rc.Close(); err != nil {
					return err
				}
			}
			return nil
		}

		switch {
		case len(outFiles) == 0:
			for _, term := range files {
				if err := extract(os.Stdout, term); err != nil {
					log.Errorf("error extracting files from archive, err: %v", err)
					return err
				}
			}
		case len(outFiles) == 1:
			f, err := os.OpenFile(outFiles[0], os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				log.Errorf("error opening file (name: %s), err: %v", outFiles[0], err)
				return err
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Errorf("error closing file (name: %s), err: %v", outFiles[0], err)
				}
			}()
			for _, term := range files {
				if err := extract(f, term); err != nil {
					log.Errorf("error extracting files from archive, err: %v", err)
					return err
				}
			}
		default:
			outputMap := make(map[string]string) // searchTerm -> outputFile
			for i := range outFiles {
				outputMap[files[i]] = outFiles[i]
			}
			for _, term := range files {
				f, err := os.OpenFile(outputMap[term], os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err != nil {
					log.Errorf("error opening file (name: %s), err: %v", outputMap[term], err)
					return err
				}
				extractErr := extract(f, term)
				if err := f.Close(); err != nil {
					log.Errorf("error closing file (name: %s), err: %v", outputMap[term], err)
					return err
				}
				if extractErr != nil {
					log.Errorf("error extracting files from archive, err: %v", extractErr)
					return extractErr
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.PersistentFlags().StringVarP(&extractURL, "url", "u", "", "(required) URL of the remote zip archive")
	extractCmd.PersistentFlags().StringSliceVarP(&outFiles, "out", "o", []string{}, "name(s) of the file(s) to write output to")
	extractCmd.PersistentFlags().StringSliceVarP(&files, "file", "f", []string{}, "(required) names of the files/paths to extract (e.g. plan.txt, /path/to/plan.txt, /directory)")
}
