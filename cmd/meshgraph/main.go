package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/client"
	"github.com/rmax-ai/meshgraph/pkg/mcp"
	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

var (
	Version   = "v0.1.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage: meshgraph [-addr URL] [-json] <command> [args]

Commands:
  graph              print all nodes and edges
  node <id>          print one node and the neighbors it reported
  stale              list nodes past their timeout
  send <file.json>   ingest a decoded packet (use - for stdin)
  export <type>      write a CSV report: nodes, edges or packets
                     (flags: -start, -end, -source, -from, -port)
  mcp                serve the Model Context Protocol on stdio
  version            print version information
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("meshgraph", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	addr := fs.String("addr", envOrDefault("MESHGRAPH_URL", "http://127.0.0.1:8090"), "daemon base URL")
	asJSON := fs.Bool("json", false, "print raw JSON")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "mcp" {
		if err := mcp.NewServer(*addr).Serve(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.NewClient(*addr)
	out := &printer{w: stdout, json: *asJSON}

	var err error
	switch cmd {
	case "graph":
		err = cmdGraph(ctx, c, out)
	case "node":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "Usage: meshgraph node <id>")
			return 2
		}
		err = cmdNode(ctx, c, out, rest[0])
	case "stale":
		err = cmdStale(ctx, c, out)
	case "send":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "Usage: meshgraph send <file.json>")
			return 2
		}
		err = cmdSend(ctx, c, out, rest[0], stdin)
	case "export":
		err = cmdExport(ctx, c, rest, stdout, stderr)
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, errUsage) {
			return 2
		}
	case "version":
		fmt.Fprintf(stdout, "meshgraph %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, client.ErrNotFound) {
			return 3
		}
		return 1
	}
	return 0
}

type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) raw(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table(header string, rows func(tw *tabwriter.Writer)) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	return tw.Flush()
}

func cmdGraph(ctx context.Context, c *client.Client, out *printer) error {
	g, err := c.GetGraph(ctx)
	if err != nil {
		return err
	}
	if out.json {
		return out.raw(g)
	}

	if err := out.table("NODE\tLAST HEARD\tSTALE", func(tw *tabwriter.Writer) {
		for _, n := range g.Nodes {
			fmt.Fprintf(tw, "%s\t%s\t%t\n", n.ID, n.LastHeard.Format(time.RFC3339), n.Stale)
		}
	}); err != nil {
		return err
	}
	fmt.Fprintln(out.w)
	return out.table("SOURCE\tTARGET\tSNR", func(tw *tabwriter.Writer) {
		for _, e := range g.Edges {
			fmt.Fprintf(tw, "%s\t%s\t%.2f\n", e.Source, e.Target, e.SNR)
		}
	})
}

func cmdNode(ctx context.Context, c *client.Client, out *printer, id string) error {
	if _, err := mesh.ParseNodeID(id); err != nil {
		return err
	}
	n, err := c.GetNode(ctx, id)
	if err != nil {
		return fmt.Errorf("node %s: %w", id, err)
	}
	if out.json {
		return out.raw(n)
	}

	fmt.Fprintf(out.w, "Node:       %s (%d)\n", n.Node.ID, n.Node.Num)
	fmt.Fprintf(out.w, "Last heard: %s\n", n.Node.LastHeard.Format(time.RFC3339))
	fmt.Fprintf(out.w, "Expires:    %s\n", n.Node.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(out.w, "Stale:      %t\n\n", n.Node.Stale)
	return out.table("NEIGHBOR\tSNR\tUPDATED", func(tw *tabwriter.Writer) {
		for _, e := range n.Edges {
			fmt.Fprintf(tw, "%s\t%.2f\t%s\n", e.Target, e.SNR, e.UpdatedAt.Format(time.RFC3339))
		}
	})
}

func cmdStale(ctx context.Context, c *client.Client, out *printer) error {
	nodes, err := c.GetStale(ctx)
	if err != nil {
		return err
	}
	if out.json {
		return out.raw(nodes)
	}
	if len(nodes) == 0 {
		fmt.Fprintln(out.w, "No stale nodes.")
		return nil
	}
	return out.table("NODE\tLAST HEARD\tEXPIRED", func(tw *tabwriter.Writer) {
		for _, n := range nodes {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", n.ID, n.LastHeard.Format(time.RFC3339), n.ExpiresAt.Format(time.RFC3339))
		}
	})
}

func cmdSend(ctx context.Context, c *client.Client, out *printer, path string, stdin io.Reader) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read packet: %w", err)
	}

	var pkt mesh.Packet
	if err := json.Unmarshal(data, &pkt); err != nil {
		return fmt.Errorf("failed to decode packet: %w", err)
	}

	resp, err := c.SendPacket(ctx, pkt)
	if err != nil {
		return err
	}
	if out.json {
		return out.raw(resp)
	}

	r := resp.Result
	status := "applied"
	if !r.Applied {
		status = "skipped"
	}
	fmt.Fprintf(out.w, "Packet %s %s: node %s", resp.EventID, status, mesh.FormatNodeID(r.Node))
	if r.Created {
		fmt.Fprint(out.w, " (new)")
	}
	fmt.Fprintln(out.w)
	if r.Skip != "" {
		fmt.Fprintf(out.w, "Skip reason: %s\n", r.Skip)
	}
	for _, e := range r.Edges {
		fmt.Fprintf(out.w, "Edge: %s -> %s\n", mesh.FormatNodeID(e.Source), mesh.FormatNodeID(e.Target))
	}
	for _, num := range r.UnknownNeighbors {
		fmt.Fprintf(out.w, "Unknown neighbor: %s\n", mesh.FormatNodeID(num))
	}
	return nil
}

var errUsage = errors.New("usage")

func cmdExport(ctx context.Context, c *client.Client, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: meshgraph export <nodes|edges|packets> [flags]")
		return errUsage
	}
	reportType := args[0]

	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	query := url.Values{}
	for _, name := range []string{"start", "end", "source", "from", "port"} {
		name := name
		fs.Func(name, "report "+name+" filter", func(v string) error {
			query.Set(name, v)
			return nil
		})
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}

	return c.Report(ctx, reportType, query, stdout)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
