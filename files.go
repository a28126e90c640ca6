package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/podgate/podgate/internal/pod"
)

// treeParallelism bounds concurrent container listings in `tree`.
const treeParallelism = 4

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [folder]",
		Short: "List containers, or the members of one container",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "List every container and its members",
		Args:  cobra.NoArgs,
		RunE:  runTree,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <folder>",
		Short: "Create a container unless it already exists",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <folder> <document>",
		Short: "Print a Turtle document",
		Args:  cobra.ExactArgs(2),
		RunE:  runCat,
	}
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <folder> <document> <file|->",
		Short: "Create a document in a container (the server may rename it)",
		Args:  cobra.ExactArgs(3),
		RunE:  runCreate,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <folder> <document> <file|->",
		Short: "Create or replace a document at an exact name",
		Args:  cobra.ExactArgs(3),
		RunE:  runPut,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <folder> <document>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE:  runRm,
	}
}

// entry is the JSON schema for one listed resource.
type entry struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

func entries(uris []*url.URL) []entry {
	out := make([]entry, 0, len(uris))
	for _, u := range uris {
		out = append(out, entry{Name: pod.MemberName(u), URI: u.String()})
	}

	return out
}

func printEntries(w io.Writer, list []entry) error {
	if flagJSON {
		return printJSON(w, list)
	}

	rows := make([][]string, 0, len(list))
	for _, e := range list {
		rows = append(rows, []string{e.Name, e.URI})
	}

	printTable(w, []string{"NAME", "URI"}, rows)

	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	if len(args) == 0 {
		return printEntries(cmd.OutOrStdout(), entries(slices.Collect(pc.gw.Index().All())))
	}

	members, err := pc.gw.ListContainer(ctx, args[0])
	if err != nil {
		return err
	}

	return printEntries(cmd.OutOrStdout(), entries(members))
}

// treeNode is the JSON schema for one container in `tree --json`.
type treeNode struct {
	Container string  `json:"container"`
	Members   []entry `json:"members"`
}

func runTree(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	nodes, err := listAll(ctx, pc.gw, slices.Collect(pc.gw.Index().All()))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()

	if flagJSON {
		return printJSON(w, nodes)
	}

	for _, n := range nodes {
		fmt.Fprintln(w, n.Container)

		for _, m := range n.Members {
			fmt.Fprintf(w, "  %s\n", m.Name)
		}
	}

	return nil
}

// listAll lists every container with bounded parallelism, keeping the
// index order. ListURL only reads the session, so listings can overlap.
func listAll(ctx context.Context, gw *pod.Gateway, dirs []*url.URL) ([]treeNode, error) {
	nodes := make([]treeNode, len(dirs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(treeParallelism)

	for i, dir := range dirs {
		g.Go(func() error {
			members, err := gw.ListURL(gctx, dir)
			if err != nil {
				return err
			}

			nodes[i] = treeNode{Container: dir.String(), Members: entries(members)}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return nodes, nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	dir, err := pc.gw.GetOrCreateFolder(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), dir.String())

	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	text, err := pc.gw.GetDocument(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	_, err = io.WriteString(cmd.OutOrStdout(), text)

	return err
}

// readContent reads a local file, or stdin for "-".
func readContent(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	return string(data), nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	content, err := readContent(cmd, args[2])
	if err != nil {
		return err
	}

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	location, err := pc.gw.CreateDocument(ctx, args[0], args[1], content)
	if err != nil {
		return err
	}

	statusf("Created.\n")

	if location != "" {
		fmt.Fprintln(cmd.OutOrStdout(), location)
	}

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	content, err := readContent(cmd, args[2])
	if err != nil {
		return err
	}

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	if err := pc.gw.UpdateDocument(ctx, args[0], args[1], content); err != nil {
		return err
	}

	statusf("Stored %s in %s.\n", args[1], args[0])

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	if err := pc.gw.DeleteDocument(ctx, args[0], args[1]); err != nil {
		return err
	}

	statusf("Deleted %s from %s.\n", args[1], args[0])

	return nil
}
