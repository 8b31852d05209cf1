package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ssargent/stdfconv/pkg/codec"
	"github.com/ssargent/stdfconv/pkg/store"
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump <file.stdf>",
	Short: "Print the records of an STDF file",
	Long: `Print every record of an STDF file (plain or gzip) with its offset and
decoded fields.

Examples:
  stdfconv dump lot1.stdf
  stdfconv dump --summary lot1.stdf.gz`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, _ := cmd.Flags().GetBool("summary")
		return dumpFile(cmd.OutOrStdout(), args[0], summary)
	},
}

func dumpFile(w io.Writer, path string, summary bool) error {
	reader, err := store.NewRecordReader(store.RecordReaderConfig{FilePath: path})
	if err != nil {
		return err
	}
	defer reader.Close()

	counts := make(map[string]int)
	var order []string
	total := 0
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		total++

		def, known := rec.Def()
		name := fmt.Sprintf("REC(%d,%d)", rec.Type, rec.Subtype)
		if known {
			name = def.Name()
		}
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
		if summary {
			continue
		}

		fmt.Fprintf(w, "%08d %s len=%d\n", reader.Offset(), name, len(rec.Payload))
		if !known {
			fmt.Fprintf(w, "    % x\n", rec.Payload)
			continue
		}
		values, err := codec.Decode(def, rec.Payload)
		if err != nil {
			fmt.Fprintf(w, "    decode error: %v\n", err)
			continue
		}
		for _, fd := range def.Fields() {
			v, ok := values[fd.Name]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "    %-8s %-2s %s\n", fd.Name, fd.Type, v)
		}
	}

	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", name, counts[name]))
	}
	fmt.Fprintf(w, "%d records (%s)\n", total, strings.Join(parts, " "))
	return nil
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().Bool("summary", false, "Only print record counts")
}
