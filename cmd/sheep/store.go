package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/chazu/sheep/lib/host"
	"github.com/chazu/sheep/lib/store"
	"github.com/chazu/sheep/manifest"
)

const storeUsage = `sheep store [list|saves|rm <script>|rm-save <id>]
  list           List compiled scripts
  saves          List save slots, newest first
  rm <script>    Delete a compiled script
  rm-save <id>   Delete a save slot`

// cmdStore handles `sheep store`.
func cmdStore(m *manifest.Manifest, args []string, w io.Writer) error {
	if len(args) == 0 {
		return usageError(storeUsage)
	}

	path := m.StorePath()
	if path == "" {
		return host.ErrNoStore
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	switch args[0] {
	case "list":
		names, err := st.ScriptNames()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(w, name)
		}
		return nil

	case "saves":
		saves, err := st.Saves()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tSIZE\tCREATED")
		for _, s := range saves {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Label, humanize.Bytes(uint64(s.Size)), humanize.Time(s.Created))
		}
		return tw.Flush()

	case "rm":
		if len(args) != 2 {
			return usageError(storeUsage)
		}
		return st.DeleteScript(args[1])

	case "rm-save":
		if len(args) != 2 {
			return usageError(storeUsage)
		}
		return st.DeleteSave(args[1])

	default:
		return usageError(storeUsage)
	}
}
