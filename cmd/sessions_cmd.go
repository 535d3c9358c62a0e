package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ebycow/famista/internal/store"
	"github.com/Ebycow/famista/internal/store/sqlite"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "View stored labeling sessions and snapshots",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsSnapshotsCmd())
	return cmd
}

func openStoreOrExit() *sqlite.Store {
	st := mustOpenStore(mustLoadConfig())
	if st == nil {
		fmt.Fprintln(os.Stderr, "Error: store.path is empty; persistence is disabled")
		os.Exit(1)
	}
	return st
}

type sessionJSON struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Labels     string    `json:"labels"`
	Dimensions []string  `json:"dimensions"`
	Addresses  int       `json:"addresses"`
	Samples    int       `json:"samples"`
	CreatedAt  time.Time `json:"created_at"`
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List labeling sessions",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStoreOrExit()
			defer st.Close()
			list, err := st.ListSessions(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			printSessions(list, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printSessions(list []store.Session, jsonOutput bool) {
	if jsonOutput {
		out := make([]sessionJSON, 0, len(list))
		for _, s := range list {
			out = append(out, sessionJSON{
				ID:         s.ID.String(),
				Name:       s.Name,
				Labels:     string(s.Labels),
				Dimensions: s.Dimensions,
				Addresses:  len(s.Addresses),
				Samples:    s.SampleCount,
				CreatedAt:  s.CreatedAt,
			})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tLABELS\tSAMPLES\tADDRS\tDIMS\tCREATED\tID\n")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			s.Name, s.Labels, s.SampleCount, len(s.Addresses), len(s.Dimensions),
			s.CreatedAt.Local().Format("2006-01-02 15:04"), s.ID)
	}
	tw.Flush()
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id|name]",
		Short: "Show a session's label distribution",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStoreOrExit()
			defer st.Close()
			sess, set, err := store.Replay(context.Background(), st, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Session:    %s (%s)\n", sess.Name, sess.ID)
			fmt.Printf("Created:    %s\n", sess.CreatedAt.Local().Format(time.RFC3339))
			fmt.Printf("Labels:     %s\n", sess.Labels)
			fmt.Printf("Dimensions: %v\n", sess.Dimensions)
			fmt.Printf("Addresses:  %d\n", len(sess.Addresses))
			fmt.Printf("Samples:    %d\n", set.Len())
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "\nLABEL\tCOUNT\n")
			for _, lc := range set.LabelCounts() {
				fmt.Fprintf(tw, "%s\t%d\n", lc.Label, lc.Count)
			}
			tw.Flush()
		},
	}
}

func sessionsSnapshotsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Show the most recent accepted snapshots",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStoreOrExit()
			defer st.Close()
			snaps, err := st.RecentSnapshots(context.Background(), limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			if len(snaps) == 0 {
				fmt.Println("No snapshots recorded.")
				return
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SEQ\tTIME\tLINE\n")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Seq, s.At.Local().Format("15:04:05"), s.Line())
			}
			tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of snapshots")
	return cmd
}
