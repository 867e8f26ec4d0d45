package app

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"lexchat/internal/model"
	"lexchat/internal/repository"
)

// Export formats accepted by the export endpoints.
const (
	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
)

type ExportService struct {
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	userRepo         *repository.UserRepository
}

func NewExportService(
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	userRepo *repository.UserRepository,
) *ExportService {
	return &ExportService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		userRepo:         userRepo,
	}
}

type ExportedMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ExportedConversation struct {
	ID        uint              `json:"id"`
	Title     string            `json:"title"`
	Username  string            `json:"username,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Messages  []ExportedMessage `json:"messages"`
}

// ExportPayload is a rendered export ready to write to the response.
type ExportPayload struct {
	ContentType string
	Filename    string
	Body        []byte
}

// ExportUserConversations renders every conversation of the user, or the
// single one named by conversationID when it is non-zero.
func (s *ExportService) ExportUserConversations(userID, conversationID uint, format string) (*ExportPayload, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}

	var conversations []model.Conversation
	if conversationID != 0 {
		conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
		if err != nil {
			return nil, err
		}
		if conversation == nil {
			return nil, ErrConversationNotFound
		}
		conversations = []model.Conversation{*conversation}
	} else {
		var err error
		conversations, err = s.conversationRepo.ListByUserID(userID)
		if err != nil {
			return nil, err
		}
	}
	if len(conversations) == 0 {
		return nil, ErrNothingToExport
	}

	exported, err := s.collect(conversations, nil)
	if err != nil {
		return nil, err
	}
	return s.render(exported, format, "conversations")
}

// ExportAllConversations renders conversations across the whole platform,
// optionally restricted to one user. Each entry carries the owner's
// username.
func (s *ExportService) ExportAllConversations(filterUserID uint, format string) (*ExportPayload, error) {
	var conversations []model.Conversation
	var err error
	if filterUserID != 0 {
		conversations, err = s.conversationRepo.ListByUserID(filterUserID)
	} else {
		conversations, err = s.conversationRepo.ListAll()
	}
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return nil, ErrNothingToExport
	}

	usernames := map[uint]string{}
	resolve := func(userID uint) (string, error) {
		if name, ok := usernames[userID]; ok {
			return name, nil
		}
		user, err := s.userRepo.GetByID(userID)
		if err != nil {
			return "", err
		}
		name := "unknown"
		if user != nil {
			name = user.Username
		}
		usernames[userID] = name
		return name, nil
	}

	exported, err := s.collect(conversations, resolve)
	if err != nil {
		return nil, err
	}
	return s.render(exported, format, "all_conversations")
}

func (s *ExportService) collect(conversations []model.Conversation, resolveUsername func(uint) (string, error)) ([]ExportedConversation, error) {
	exported := make([]ExportedConversation, 0, len(conversations))
	for _, c := range conversations {
		messages, err := s.messageRepo.ListAllByConversationID(c.ID)
		if err != nil {
			return nil, err
		}

		entry := ExportedConversation{
			ID:        c.ID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			Messages:  make([]ExportedMessage, 0, len(messages)),
		}
		if resolveUsername != nil {
			name, err := resolveUsername(c.UserID)
			if err != nil {
				return nil, err
			}
			entry.Username = name
		}
		for _, m := range messages {
			entry.Messages = append(entry.Messages, ExportedMessage{
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			})
		}
		exported = append(exported, entry)
	}
	return exported, nil
}

func (s *ExportService) render(conversations []ExportedConversation, format, baseName string) (*ExportPayload, error) {
	stamp := time.Now().Format("2006-01-02")
	switch format {
	case "", ExportFormatJSON:
		body, err := json.MarshalIndent(conversations, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal export failed: %w", err)
		}
		return &ExportPayload{
			ContentType: "application/json",
			Filename:    fmt.Sprintf("%s_%s.json", baseName, stamp),
			Body:        body,
		}, nil
	case ExportFormatCSV:
		body, err := renderCSV(conversations)
		if err != nil {
			return nil, err
		}
		return &ExportPayload{
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("%s_%s.csv", baseName, stamp),
			Body:        body,
		}, nil
	default:
		return nil, ErrInvalidInput
	}
}

// renderCSV flattens conversations into one row per message.
func renderCSV(conversations []ExportedConversation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"conversation_id", "title", "username", "role", "content", "created_at"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header failed: %w", err)
	}
	for _, c := range conversations {
		for _, m := range c.Messages {
			row := []string{
				strconv.FormatUint(uint64(c.ID), 10),
				c.Title,
				c.Username,
				m.Role,
				m.Content,
				m.CreatedAt.Format(time.RFC3339),
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row failed: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv failed: %w", err)
	}
	return buf.Bytes(), nil
}
