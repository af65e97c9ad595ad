package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/chunkload/internal/transfer"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded uploads (or downloads)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "downloads", Usage: "list downloads instead of uploads"},
		},
		Action: runHistory,
	}
}

func runHistory(c *cli.Context) error {
	store := openHistory()
	if store == nil {
		return cli.Exit("history store is unavailable", 1)
	}
	defer store.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if c.Bool("downloads") {
		recs, err := store.ListDownloads()
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "WHEN\tSIZE\tURL\tDESTINATION")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.CreatedAt.Format("2006-01-02 15:04"), transfer.FormatBytes(r.Bytes), r.URL, r.Destination)
		}
		return nil
	}

	recs, err := store.ListUploads()
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "WHEN\tNAME\tSIZE\tCHUNKS\tTRANSPORT\tURL")
	for _, r := range recs {
		name := r.FileName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s.%s\t%s\t%d\t%s\t%s\n", r.CreatedAt.Format("2006-01-02 15:04"), name, r.Extension, transfer.FormatBytes(r.Size), r.Chunks, r.Transport, r.URL)
	}
	return nil
}
