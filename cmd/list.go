package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alec-rabold/zippeek/pkg/reader"
	"github.com/alec-rabold/zippeek/pkg/zipfile"
)

var listURL string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the members of a remote zip archive",
	Long: `Fetches only the central directory of a remote zip archive and prints
	its members with their sizes and compression methods.

	ex:
	zippeek list -u https://example.com/archive.zip`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listURL == "" {
			cmd.Usage()
			os.Exit(1)
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		archive, err := zipfile.New(ctx, listURL)
		if err != nil {
			log.Errorf("error opening archive, err: %v", err)
			return err
		}
		defer archive.Close()

		zFiles, err := archive.Directory(ctx)
		if err != nil {
			log.Errorf("error reading archive directory, err: %v", err)
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tCOMPRESSED\tMETHOD")
		for _, f := range zFiles {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", f.Name, f.UncompressedSize64, f.CompressedSize64, methodName(f.Method))
		}
		return w.Flush()
	},
}

func methodName(method uint16) string {
	switch method {
	case reader.Store:
		return "store"
	case reader.Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("unknown(%d)", method)
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.PersistentFlags().StringVarP(&listURL, "url", "u", "", "(required) URL of the remote zip archive")
}
