package main

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vertextoedge/filesync/internal/domain"
	"github.com/vertextoedge/filesync/internal/port"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset stored stream states",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored stream states",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <stream>",
	Short: "Show the cursor state of a stream",
	Example: `  filesync state show invoices
  filesync state show invoices -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStateShow,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset <stream>",
	Short: "Delete the state of a stream so the next run syncs every file",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateReset,
}

var (
	stateOutput string
	stateYes    bool
)

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateListCmd, stateShowCmd, stateResetCmd)

	stateShowCmd.Flags().StringVarP(&stateOutput, "output", "o", "text",
		"Output format: text, json or yaml")
	stateResetCmd.Flags().BoolVarP(&stateYes, "yes", "y", false,
		"Do not ask for confirmation")
}

func runStateList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	states, err := store.ListStates(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(states) == 0 {
		fmt.Fprintln(out, "no stored states")
		return nil
	}
	for _, st := range states {
		name := st.Stream
		if _, ok := cfg.Stream(name); !ok {
			name += color.HiBlackString(" (not configured)")
		}
		fmt.Fprintf(out, "%s  %s files  %s  %s\n",
			color.New(color.Bold).Sprint(name),
			humanize.Comma(int64(st.HistorySize)),
			st.CursorValue,
			humanize.Time(st.UpdatedAt))
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.GetState(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("%w: no state stored for %s", domain.ErrUnknownStream, args[0])
	}

	state, err := domain.ParseCursorState(st.State, st.CursorField)
	if err != nil {
		return err
	}
	return writeState(cmd.OutOrStdout(), stateOutput, st, state)
}

// stateDocument is the json and yaml rendering of a stored state
type stateDocument struct {
	Stream      string            `json:"stream" yaml:"stream"`
	CursorField string            `json:"cursor_field" yaml:"cursor_field"`
	Cursor      string            `json:"cursor" yaml:"cursor"`
	Final       bool              `json:"final" yaml:"final"`
	UpdatedAt   string            `json:"updated_at" yaml:"updated_at"`
	History     map[string]string `json:"history" yaml:"history"`
}

func writeState(w io.Writer, format string, st *port.StreamState, state *domain.CursorState) error {
	doc := stateDocument{
		Stream:      st.Stream,
		CursorField: st.CursorField,
		Cursor:      st.CursorValue,
		Final:       st.Final,
		UpdatedAt:   domain.FormatTimestamp(st.UpdatedAt),
		History:     state.HistoryStrings(),
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case "text":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", bold("stream:"), doc.Stream)
	fmt.Fprintf(w, "%s %s\n", bold("cursor:"), color.CyanString(doc.Cursor))
	fmt.Fprintf(w, "%s %s (%s)\n", bold("updated:"), doc.UpdatedAt, humanize.Time(st.UpdatedAt))
	if !doc.Final {
		fmt.Fprintln(w, color.YellowString("last run did not finish"))
	}
	fmt.Fprintf(w, "%s %s files\n", bold("history:"), humanize.Comma(int64(len(doc.History))))

	uris := make([]string, 0, len(doc.History))
	for uri := range doc.History {
		uris = append(uris, uri)
	}
	// newest first
	slices.SortFunc(uris, func(a, b string) int {
		if c := strings.Compare(doc.History[b], doc.History[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	for _, uri := range uris {
		fmt.Fprintf(w, "  %s  %s\n", doc.History[uri], uri)
	}
	return nil
}

func runStateReset(cmd *cobra.Command, args []string) error {
	name := args[0]

	if !stateYes {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete the state of %s? The next run will sync every file. [y/N] ", name)
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "aborted")
			return nil
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteState(cmd.Context(), name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s state of %s deleted\n", color.GreenString("✓"), name)
	return nil
}
