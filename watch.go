package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/podgate/podgate/internal/mirror"
	"github.com/podgate/podgate/internal/notify"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <folder>",
		Short: "Print change notifications for a container until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
}

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <folder> <dir>",
		Short: "Upload the Turtle files in a local directory to a container",
		Long: `Upload every .ttl file directly inside dir to folder, creating the folder
when needed. Documents keep their file names. With --watch, keep running and
upload files again whenever they change.`,
		Args: cobra.ExactArgs(2),
		RunE: runPush,
	}

	cmd.Flags().Bool("watch", false, "keep uploading files as they change")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	ctx, cancel := shutdownContext(cmd.Context(), logger)
	defer cancel()

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	dir, err := pc.gw.Folder(args[0])
	if err != nil {
		return err
	}

	wsURL, err := pc.gw.UpdatesVia(ctx, args[0])
	if err != nil {
		return err
	}

	// coder/websocket rejects clients with a Timeout; the context bounds
	// the handshake instead.
	sub := notify.NewSubscriber(notify.Options{Logger: logger})
	out := cmd.OutOrStdout()

	statusf("Watching %s (Ctrl-C to stop).\n", dir)

	defer func() {
		logger.Info("stopped watching",
			slog.String("folder", dir.String()),
			slog.Int64("messages", sub.Received()),
		)
	}()

	return sub.Run(ctx, wsURL, []string{dir.String()}, func(ev notify.Event) {
		if ev.Kind == notify.KindAck {
			logger.Debug("subscription acknowledged", slog.String("uri", ev.URI))
			return
		}

		if flagJSON {
			_ = printJSON(out, ev)
			return
		}

		fmt.Fprintf(out, "%s changed\n", ev.URI)
	})
}

func runPush(cmd *cobra.Command, args []string) error {
	folder, dir := args[0], args[1]
	watch, _ := cmd.Flags().GetBool("watch")
	logger := buildLogger()

	ctx, cancel := shutdownContext(cmd.Context(), logger)
	defer cancel()

	pc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	defer pc.Close()

	if _, err := pc.gw.GetOrCreateFolder(ctx, folder); err != nil {
		return err
	}

	m := mirror.New(pc.gw, folder, dir, mirror.Options{
		Debounce: resolvedCfg.MirrorDebounce,
		Logger:   logger,
		OnPush: func(name string, err error) {
			if err != nil {
				statusf("failed  %s: %v\n", name, err)
				return
			}

			statusf("pushed  %s\n", name)
		},
	})

	n, err := m.PushAll(ctx)
	if err != nil {
		return err
	}

	statusf("Pushed %d documents to %s.\n", n, folder)

	if !watch {
		return nil
	}

	statusf("Watching %s (Ctrl-C to stop).\n", dir)

	return m.Watch(ctx)
}
