package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

var outputFormats = []string{outputTable, outputJSON}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printItems writes one line per item, or the items as a JSON array
func printItems(out io.Writer, format string, items []clientv1.Item) error {
	if format == outputJSON {
		if items == nil {
			items = []clientv1.Item{}
		}
		return printJSON(out, items)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POOL\tKEY\tNAME\tVALUE\tACQUIRED")
	for _, i := range items {
		acquired := "-"
		if i.Acquired != nil {
			acquired = i.Acquired.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", i.Pool, i.Key, i.FullName, i.Display, acquired)
	}
	return w.Flush()
}
