// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jobportal/videocall/internal/call"
	"github.com/jobportal/videocall/internal/constants"
	"github.com/jobportal/videocall/internal/service"
)

const callHelp = "commands: m mute, c camera, s screen share, o reconnect, r retry, q end"

var callCmd = &cobra.Command{
	Use:   "call <applicationId>",
	Short: "Join the video call of a job application from the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(os.Stderr)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		app, err := newApplication(cfg)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			app.Shutdown(shutdownCtx)
		}()

		id := args[0]
		if _, err := app.StartCall(ctx, id); err != nil {
			return fmt.Errorf("%s: %w", call.UserMessage(err), err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, callHelp)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- strings.TrimSpace(scanner.Text())
			}
		}()

		for {
			s, err := app.Session(id)
			if err != nil {
				return err
			}
			retried, err := follow(ctx, out, app, s, lines)
			if !retried {
				return err
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
}

// follow prints the session's updates and runs terminal commands against it.
// It reports true once the call was retried, so the caller follows the new
// session.
func follow(ctx context.Context, out io.Writer, app *service.Application, s *call.Session, lines <-chan string) (bool, error) {
	id := s.ApplicationID()
	updates, cancel := s.Watch()
	defer cancel()

	var last call.Snapshot
	for {
		select {
		case <-ctx.Done():
			_, err := app.EndCall(context.Background(), id)
			return false, err

		case snap, ok := <-updates:
			if !ok {
				updates = nil
				fmt.Fprintln(out, "call closed, r to retry or q to quit")
				continue
			}
			if changed(last, snap) {
				printSnapshot(out, snap)
			}
			last = snap

		case line, ok := <-lines:
			if !ok {
				_, err := app.EndCall(context.Background(), id)
				return false, err
			}

			var err error
			switch line {
			case "":
			case "m":
				_, err = app.ToggleMute(ctx, id)
			case "c":
				_, err = app.ToggleCamera(ctx, id)
			case "s":
				_, err = app.ToggleScreenShare(ctx, id)
			case "o":
				_, err = app.ReconnectSignaling(ctx, id)
			case "r":
				if _, err = app.RetryCall(ctx, id); err == nil {
					fmt.Fprintln(out, "retrying call")
					return true, nil
				}
			case "q":
				_, err = app.EndCall(ctx, id)
				return false, err
			default:
				fmt.Fprintln(out, callHelp)
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if snap := s.Snapshot(); changed(last, snap) {
				printSnapshot(out, snap)
				last = snap
			}
		}
	}
}

func changed(a, b call.Snapshot) bool {
	return a.State != b.State ||
		a.MicEnabled != b.MicEnabled ||
		a.CameraEnabled != b.CameraEnabled ||
		a.ScreenSharing != b.ScreenSharing ||
		a.RemoteScreenSharing != b.RemoteScreenSharing ||
		a.RemoteStreamReady != b.RemoteStreamReady ||
		a.Offline != b.Offline ||
		a.RetryAvailable != b.RetryAvailable ||
		a.Message != b.Message
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func printSnapshot(w io.Writer, s call.Snapshot) {
	fmt.Fprintf(w, "[%s] %02d:%02d mic %s, camera %s", s.State, s.ElapsedSeconds/60, s.ElapsedSeconds%60, onOff(s.MicEnabled), onOff(s.CameraEnabled))
	if s.ScreenSharing {
		fmt.Fprint(w, ", sharing screen")
	}
	if s.RemoteScreenSharing {
		fmt.Fprint(w, ", remote is sharing")
	}
	if s.RemoteStreamReady {
		fmt.Fprintf(w, ", remote %s", strings.Join(s.RemoteTracks, "+"))
	}
	if s.Offline {
		fmt.Fprint(w, ", offline (o to reconnect)")
	}
	if s.RetryAvailable {
		fmt.Fprint(w, ", r to retry")
	}
	if s.Message != "" {
		fmt.Fprintf(w, "\n  %s", s.Message)
	}
	fmt.Fprintln(w)
}
