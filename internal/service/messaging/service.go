// Package messaging serves the inbox and conversation threads.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	"github.com/jwalitptl/patient-portal/pkg/validator"
)

// UnknownSender is shown when a sender cannot be resolved.
const UnknownSender = "Unknown"

type Conversations interface {
	SessionsByUser(ctx context.Context, creds apiclient.TokenSource, userID model.ID) ([]model.Session, error)
	CreateSession(ctx context.Context, creds apiclient.TokenSource, req model.SessionCreate) (*model.Session, error)
	Messages(ctx context.Context, creds apiclient.TokenSource, sessionID model.ID) ([]model.Message, error)
	LatestMessage(ctx context.Context, creds apiclient.TokenSource, sessionID model.ID) (*model.Message, error)
	CreateMessage(ctx context.Context, creds apiclient.TokenSource, req model.MessageCreate) (*model.Message, error)
	DeleteMessage(ctx context.Context, creds apiclient.TokenSource, messageID model.ID) error
}

type Directory interface {
	User(ctx context.Context, creds apiclient.TokenSource, id model.ID) (*model.User, error)
	UserByEmail(ctx context.Context, creds apiclient.TokenSource, email string) (*model.User, error)
}

type Service struct {
	conversations Conversations
	directory     Directory
	names         *cache.Cache
}

// NewService caches resolved sender names for nameTTL.
func NewService(conversations Conversations, directory Directory, nameTTL time.Duration) *Service {
	if nameTTL <= 0 {
		nameTTL = 10 * time.Minute
	}
	return &Service{
		conversations: conversations,
		directory:     directory,
		names:         cache.New(nameTTL, 2*nameTTL),
	}
}

// Inbox lists the user's sessions with the body of each latest message.
func (s *Service) Inbox(ctx context.Context, creds apiclient.TokenSource, userID model.ID) ([]model.InboxEntry, error) {
	sessions, err := s.conversations.SessionsByUser(ctx, creds, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	entries := make([]model.InboxEntry, len(sessions))
	var wg sync.WaitGroup
	for i, sess := range sessions {
		entries[i] = model.InboxEntry{Session: sess}
		wg.Add(1)
		go func(i int, sessionID model.ID) {
			defer wg.Done()
			latest, err := s.conversations.LatestMessage(ctx, creds, sessionID)
			if err != nil {
				log.Debug().Err(err).Str("session_id", sessionID.String()).Msg("no latest message")
				return
			}
			entries[i].LatestMessage = latest.Message
		}(i, sess.SessionID)
	}
	wg.Wait()
	return entries, nil
}

// StartSession opens a conversation with the user registered under the
// receiver's email.
func (s *Service) StartSession(ctx context.Context, creds apiclient.TokenSource, me model.Identity, req model.CreateSessionRequest) (*model.Session, error) {
	receiver, err := s.directory.UserByEmail(ctx, creds, req.ReceiverEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to find receiver: %w", err)
	}
	sess, err := s.conversations.CreateSession(ctx, creds, model.SessionCreate{
		SenderID:   me.UserID(),
		ReceiverID: receiver.ID,
		Subject:    req.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// Thread returns the session's messages newest first with sender names
// resolved.
func (s *Service) Thread(ctx context.Context, creds apiclient.TokenSource, me model.Identity, sessionID model.ID) ([]model.ThreadMessage, error) {
	msgs, err := s.conversations.Messages(ctx, creds, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return newer(msgs[i].DateTime, msgs[j].DateTime)
	})

	out := make([]model.ThreadMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.ThreadMessage{Message: m, SenderName: s.senderName(ctx, creds, me, m.SenderID)})
	}
	return out, nil
}

// Send appends one message to the session, attributed to me.
func (s *Service) Send(ctx context.Context, creds apiclient.TokenSource, me model.Identity, sessionID model.ID, text string) (*model.ThreadMessage, error) {
	m, err := s.conversations.CreateMessage(ctx, creds, model.MessageCreate{
		SessionID: sessionID,
		SenderID:  me.UserID(),
		Message:   text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &model.ThreadMessage{Message: *m, SenderName: me.DisplayName()}, nil
}

func (s *Service) Delete(ctx context.Context, creds apiclient.TokenSource, messageID model.ID) error {
	if err := s.conversations.DeleteMessage(ctx, creds, messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *Service) senderName(ctx context.Context, creds apiclient.TokenSource, me model.Identity, senderID model.ID) string {
	if senderID == me.UserID() {
		return me.DisplayName()
	}
	if name, ok := s.names.Get(senderID.String()); ok {
		return name.(string)
	}
	u, err := s.directory.User(ctx, creds, senderID)
	if err != nil || u.FullName == "" {
		return UnknownSender
	}
	s.names.SetDefault(senderID.String(), u.FullName)
	return u.FullName
}

// newer orders by timestamp, falling back to the raw strings when either
// does not parse.
func newer(a, b string) bool {
	ta, errA := validator.ParseDateTime(a)
	tb, errB := validator.ParseDateTime(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return ta.After(tb)
}
