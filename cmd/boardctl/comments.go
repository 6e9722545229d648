package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"linear/api/internal/model"
	"linear/api/internal/reaction"
	"linear/api/internal/thread"
)

func newThreadCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "thread <ticket>",
		Short: "Print a ticket's comments as a reply tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()
			defer s.Close()
			roots, err := s.Thread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printThread(cmd.OutOrStdout(), roots, opts.userID)
			return nil
		},
	}
}

func newCommentCommand(opts *globalOptions) *cobra.Command {
	var parent string

	cmd := &cobra.Command{
		Use:   "comment <ticket> <body>",
		Short: "Comment on a ticket, or reply with --parent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := opts.session()
			defer s.Close()
			body := strings.Join(args[1:], " ")

			var (
				comment model.Comment
				err     error
			)
			if parent != "" {
				comment, err = s.SubmitReply(cmd.Context(), args[0], parent, body)
			} else {
				comment, err = s.SubmitComment(cmd.Context(), args[0], body)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s mentions=%d\n", comment.ID, len(comment.Mentions))
			return nil
		},
	}

	cmd.Flags().StringVar(&parent, "parent", "", "comment to reply to")
	return cmd
}

func newReactCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "react <ticket> <comment> <emoji>",
		Short: "Toggle your reaction on a comment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			comments, err := c.ListComments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var target *model.Comment
			for i := range comments {
				if comments[i].ID == args[1] {
					target = &comments[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("comment %s not found on %s", args[1], args[0])
			}

			s := opts.session()
			defer s.Close()
			updated, err := s.ToggleReaction(cmd.Context(), *target, args[2])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatReactions(updated.Reactions, s.Me().UserID))
			return nil
		},
	}
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export <ticket>",
		Short: "Download a ticket with its thread as HTML or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, name, err := opts.client().Export(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			if out == "" {
				out = name
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "html", "html or pdf")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file, - for stdout")
	return cmd
}

func printThread(w io.Writer, roots []*thread.Node, viewer string) {
	thread.Walk(roots, func(node *thread.Node, depth int) {
		author := node.AuthorName
		if author == "" {
			author = node.Author.String()
		}
		line := fmt.Sprintf("%s%s %s: %s", strings.Repeat("  ", depth), node.ID, author, node.Body)
		if r := formatReactions(node.Reactions, viewer); r != "" {
			line += "  " + r
		}
		fmt.Fprintln(w, line)
	})
}

func formatReactions(reactions []model.Reaction, viewer string) string {
	parts := make([]string, 0, len(reactions))
	for _, s := range reaction.Summarize(reactions, viewer) {
		mark := ""
		if s.Reacted {
			mark = "*"
		}
		parts = append(parts, fmt.Sprintf("%s%d%s", s.Emoji, s.Count, mark))
	}
	return strings.Join(parts, " ")
}
