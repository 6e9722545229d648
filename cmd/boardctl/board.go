package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"linear/api/internal/board"
	"linear/api/internal/model"
	"linear/api/internal/realtime"
)

func newBoardCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "board <team>",
		Short: "Print a team's board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := opts.client().Board(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printBoard(cmd.OutOrStdout(), snapshot)
			return nil
		},
	}
}

func newWatchCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <team>",
		Short: "Follow a team channel and reprint the board on every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			s := opts.session()
			defer s.Close()
			s.Observe(func(event realtime.Event, changed bool) {
				fmt.Fprintf(out, "%s %s %s\n", event.SentAt.Format("15:04:05"), event.Kind, eventSubject(event))
				if changed {
					printBoard(out, s.Snapshot())
				}
			})
			s.OnComment(func(issue model.Ref) {
				fmt.Fprintf(out, "comments changed on %s\n", issue)
			})
			if err := s.SwitchTeam(ctx, args[0]); err != nil {
				return err
			}
			printBoard(out, s.Snapshot())
			<-ctx.Done()
			return nil
		},
	}
}

func newMoveCommand(opts *globalOptions) *cobra.Command {
	var index int

	cmd := &cobra.Command{
		Use:   "move <team> <ticket> <status>",
		Short: "Drag a ticket to another column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, ok := model.ParseStatus(args[2])
			if !ok {
				return fmt.Errorf("unknown status %q", args[2])
			}
			s := opts.session()
			defer s.Close()
			if err := s.SwitchTeam(cmd.Context(), args[0]); err != nil {
				return err
			}
			drag, err := dragFor(s.Snapshot(), args[1], to, index)
			if err != nil {
				return err
			}
			result, err := s.MoveTicket(cmd.Context(), drag)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[1], result.Outcome)
			return err
		},
	}

	cmd.Flags().IntVar(&index, "index", 0, "position in the destination column")
	return cmd
}

// dragFor locates id on the board and describes dropping it at index of to.
func dragFor(snapshot board.Snapshot, id string, to model.Status, index int) (board.Drag, error) {
	for _, column := range model.Columns {
		for i, ticket := range snapshot[column] {
			if ticket.ID == id {
				return board.Drag{From: column, FromIndex: i, To: to, ToIndex: index}, nil
			}
		}
	}
	return board.Drag{}, fmt.Errorf("ticket %s is not on the board", id)
}

func eventSubject(event realtime.Event) string {
	switch {
	case event.Ticket != nil && event.NewStatus != "":
		return fmt.Sprintf("%s %s -> %s", event.Ticket.ID, event.PreviousStatus, event.NewStatus)
	case event.Ticket != nil:
		return event.Ticket.ID
	case event.Comment != nil:
		return event.Comment.Issue.String() + "#" + event.Comment.ID
	default:
		return event.TicketID.String()
	}
}

func printBoard(w io.Writer, snapshot board.Snapshot) {
	for _, column := range model.Columns {
		tickets := snapshot[column]
		fmt.Fprintf(w, "%s (%d)\n", column, len(tickets))
		for _, t := range tickets {
			line := fmt.Sprintf("  %-10s %s", t.ID, t.Title)
			if t.Priority != "" {
				line += " [" + strings.ToLower(string(t.Priority)) + "]"
			}
			fmt.Fprintln(w, line)
		}
	}
}
