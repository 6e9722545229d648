package app

import (
	"context"
	"net/http"
	"strings"

	"linear/api/internal/mention"
	"linear/api/internal/model"
	"linear/api/internal/rbac"
	"linear/api/internal/reaction"
	"linear/api/internal/realtime"
	"linear/api/internal/thread"
)

type CreateCommentInput struct {
	Body        string      `json:"body"`
	Parent      model.Ref   `json:"parent"`
	Mentions    *model.Refs `json:"mentions"`
	Attachments []string    `json:"attachments"`
}

type ReactInput struct {
	Emoji  string    `json:"emoji"`
	UserID model.Ref `json:"userId"`
	Action string    `json:"action"`
}

func (s *Service) ListComments(ctx context.Context, ticketID string) ([]model.Comment, error) {
	if _, err := s.store.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, ticketID)
}

// Thread returns the reply forest of a ticket.
func (s *Service) Thread(ctx context.Context, ticketID string) ([]*thread.Node, error) {
	comments, err := s.ListComments(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return thread.Build(comments), nil
}

// CreateComment stores a root comment or a reply. Mentions are taken as
// given when the caller resolved them; otherwise they are resolved here
// against the user directory. Either way they are fixed at creation.
func (s *Service) CreateComment(ctx context.Context, session Session, ticketID string, input CreateCommentInput) (model.Comment, error) {
	body := strings.TrimSpace(input.Body)
	attachments := cleanList(input.Attachments)
	if body == "" && len(attachments) == 0 {
		return model.Comment{}, validationError("body is required")
	}
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return model.Comment{}, err
	}
	if !input.Parent.IsZero() {
		parent, err := s.store.GetComment(ctx, input.Parent.String())
		if err != nil {
			return model.Comment{}, validationError("parent comment does not exist")
		}
		if parent.Issue.String() != ticket.ID {
			return model.Comment{}, validationError("parent comment belongs to another ticket")
		}
	}

	var mentions model.Refs
	if input.Mentions != nil {
		mentions = dedupeRefs(*input.Mentions)
	} else {
		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return model.Comment{}, err
		}
		for _, id := range mention.Resolve(body, users) {
			mentions = append(mentions, model.Ref(id))
		}
	}

	comment, err := s.store.CreateComment(ctx, model.Comment{
		Issue:       model.Ref(ticket.ID),
		Body:        body,
		Author:      model.Ref(session.UserID),
		Parent:      input.Parent,
		Attachments: attachments,
		Mentions:    mentions,
	})
	if err != nil {
		return model.Comment{}, mapStoreConflict(err)
	}

	s.record(ctx, model.Activity{
		Type:  model.ActivityCommentAdded,
		Issue: model.Ref(ticket.ID),
		User:  model.Ref(session.UserID),
		Team:  ticket.Team,
		Data:  map[string]any{"commentId": comment.ID, "reply": !comment.Parent.IsZero()},
	})
	for _, mentioned := range comment.Mentions {
		s.record(ctx, model.Activity{
			Type:  model.ActivityMention,
			Issue: model.Ref(ticket.ID),
			User:  mentioned,
			Team:  ticket.Team,
			Data:  map[string]any{"commentId": comment.ID, "by": session.UserID},
		})
	}
	s.notifyMentions(ctx, session, ticket, comment)
	s.announce(ctx, realtime.CommentEvent(realtime.KindCommentCreated, ticket.Team.String(), comment))
	return comment, nil
}

// notifyMentions mails every mentioned user except the author. Delivery
// failures are logged and never fail the comment.
func (s *Service) notifyMentions(ctx context.Context, session Session, ticket model.Ticket, comment model.Comment) {
	if s.mailer == nil {
		return
	}
	author := session.UserName
	if author == "" {
		author = session.UserID
	}
	for _, mentioned := range comment.Mentions {
		if mentioned.String() == session.UserID {
			continue
		}
		user, err := s.store.GetUser(ctx, mentioned.String())
		if err != nil {
			s.logger.Warn("mention recipient lookup failed", "user", mentioned, "error", err)
			continue
		}
		if err := s.mailer.SendMention(ctx, user, author, ticket, comment); err != nil {
			s.logger.Warn("mention notification failed", "user", mentioned, "comment", comment.ID, "error", err)
		}
	}
}

// UpdateComment edits the body. Mentions keep their creation-time value.
func (s *Service) UpdateComment(ctx context.Context, session Session, id, body string) (model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Comment{}, validationError("body is required")
	}
	existing, err := s.ownedComment(ctx, session, id)
	if err != nil {
		return model.Comment{}, err
	}
	updated, err := s.store.UpdateCommentBody(ctx, id, body, existing.Mentions)
	if err != nil {
		return model.Comment{}, err
	}
	s.announceComment(ctx, updated)
	return updated, nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, id string) error {
	existing, err := s.ownedComment(ctx, session, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteComment(ctx, id); err != nil {
		return err
	}
	s.announceComment(ctx, existing)
	return nil
}

// React adds or removes one user's emoji on a comment. The caller decides
// the direction; acting for someone else needs admin rights.
func (s *Service) React(ctx context.Context, session Session, commentID string, input ReactInput) (model.Comment, error) {
	emoji := strings.TrimSpace(input.Emoji)
	if emoji == "" {
		return model.Comment{}, validationError("emoji is required")
	}
	if len([]rune(emoji)) > 8 {
		return model.Comment{}, validationError("emoji is too long")
	}
	user := input.UserID
	if user.IsZero() {
		user = model.Ref(session.UserID)
	}
	if user.String() != session.UserID {
		if err := requireAction(session, rbac.ActionAdmin); err != nil {
			return model.Comment{}, err
		}
	}

	var apply func([]model.Reaction, string, string) []model.Reaction
	switch strings.ToLower(strings.TrimSpace(input.Action)) {
	case "add":
		apply = reaction.Add
	case "remove":
		apply = reaction.Remove
	default:
		return model.Comment{}, validationError("action must be add or remove")
	}

	updated, err := s.store.UpdateCommentReactions(ctx, commentID, func(current []model.Reaction) []model.Reaction {
		return apply(current, emoji, user.String())
	})
	if err != nil {
		return model.Comment{}, err
	}
	s.announceComment(ctx, updated)
	return updated, nil
}

func (s *Service) ownedComment(ctx context.Context, session Session, id string) (model.Comment, error) {
	comment, err := s.store.GetComment(ctx, id)
	if err != nil {
		return model.Comment{}, err
	}
	if comment.Author.String() != session.UserID {
		if err := requireAction(session, rbac.ActionAdmin); err != nil {
			return model.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "only the author may change this comment", nil)
		}
	}
	return comment, nil
}

func (s *Service) announceComment(ctx context.Context, comment model.Comment) {
	ticket, err := s.store.GetTicket(ctx, comment.Issue.String())
	if err != nil {
		s.logger.Warn("comment event without ticket", "comment", comment.ID, "error", err)
		return
	}
	s.announce(ctx, realtime.CommentEvent(realtime.KindCommentUpdated, ticket.Team.String(), comment))
}

func dedupeRefs(refs model.Refs) model.Refs {
	out := make(model.Refs, 0, len(refs))
	seen := make(map[model.Ref]struct{}, len(refs))
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
