package app

import (
	"context"
	"log"
	"strings"
	"time"

	"lexchat/internal/ai"
	"lexchat/internal/model"
	"lexchat/internal/repository"
)

const chatSystemPrompt = "You are a helpful legal assistant. Answer clearly and concisely, " +
	"and respond in the language the user writes in. When a question concerns law, " +
	"mention the relevant law title and article number if you know them."

const (
	emptyReplyText   = "The model returned an empty response."
	failureReplyText = "Sorry, I could not answer this question. Please try again."
)

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, conversationID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conversationID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, conversationID uint) error
	MarkDirty(ctx context.Context, conversationID uint) error
	IsDirty(ctx context.Context, conversationID uint) (bool, error)
}

// Completer is the plain, non-grounded completion surface of the remote
// service.
type Completer interface {
	ChatCompletion(ctx context.Context, model string, messages []ai.ChatMessage) (string, error)
}

// GroundedResponder is the document-grounded completion path. It is
// satisfied by *AssistantService.
type GroundedResponder interface {
	EnsureSession(ctx context.Context, userID uint, username string, masterOnly bool) (*RetrievalSession, error)
	Ask(ctx context.Context, session *RetrievalSession, text string) (*AskResult, error)
	HasUserDocuments(userID uint) (bool, error)
}

// RequestCounter records one served completion against the user.
type RequestCounter interface {
	IncrementRequestCount(userID uint) error
}

type ChatService struct {
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	publisher        AsyncMessagePublisher
	historyCache     HistoryCache
	completer        Completer
	grounded         GroundedResponder
	counter          RequestCounter
	model            string
	maxContext       int
}

type CreateConversationInput struct {
	UserID uint
	Title  string
}

type SendMessageInput struct {
	UserID         uint
	Username       string
	ConversationID uint
	Content        string
	Grounded       bool
}

type SendMessageResult struct {
	Messages   []model.Message `json:"messages"`
	Grounded   bool            `json:"grounded"`
	MasterOnly bool            `json:"master_only,omitempty"`
	Fallback   bool            `json:"fallback,omitempty"`
}

func NewChatService(
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	completer Completer,
	grounded GroundedResponder,
	counter RequestCounter,
	model string,
	maxContext int,
) *ChatService {
	if maxContext <= 0 {
		maxContext = 20
	}
	return &ChatService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		publisher:        publisher,
		historyCache:     historyCache,
		completer:        completer,
		grounded:         grounded,
		counter:          counter,
		model:            model,
		maxContext:       maxContext,
	}
}

func (s *ChatService) CreateConversation(input CreateConversationInput) (*model.Conversation, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Conversation"
	}

	conversation := &model.Conversation{
		UserID: input.UserID,
		Title:  title,
	}
	if err := s.conversationRepo.Create(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *ChatService) ListConversations(userID uint) ([]model.Conversation, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.conversationRepo.ListByUserID(userID)
}

func (s *ChatService) GetConversation(userID, conversationID uint) (*model.Conversation, error) {
	if userID == 0 || conversationID == 0 {
		return nil, ErrInvalidInput
	}
	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

func (s *ChatService) RenameConversation(userID, conversationID uint, title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrInvalidInput
	}
	conversation, err := s.GetConversation(userID, conversationID)
	if err != nil {
		return nil, err
	}
	conversation.Title = title
	if err := s.conversationRepo.UpdateTitle(conversationID, title); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *ChatService) DeleteConversation(userID, conversationID uint) error {
	if userID == 0 || conversationID == 0 {
		return ErrInvalidInput
	}
	if err := s.messageRepo.DeleteByConversationID(conversationID); err != nil {
		return err
	}
	deleted, err := s.conversationRepo.DeleteByIDAndUserID(conversationID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrConversationNotFound
	}
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(context.Background(), conversationID)
	}
	return nil
}

// SendMessage runs one chat turn. The user text and the reply are both
// enqueued for async persistence; the reply itself comes from either the
// plain completion endpoint or, when Grounded is set, the document-grounded
// session of the user.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*SendMessageResult, error) {
	if input.UserID == 0 || input.ConversationID == 0 {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	conversation, err := s.conversationRepo.GetByIDAndUserID(input.ConversationID, input.UserID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	if s.publisher == nil {
		return nil, ErrMessageEnqueue
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, input.ConversationID)
		_ = s.historyCache.DeleteHistory(ctx, input.ConversationID)
	}

	userMessage := model.Message{
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		Role:           model.RoleUser,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if err := s.publisher.Publish(ctx, userMessage); err != nil {
		return nil, ErrMessageEnqueue
	}

	result := &SendMessageResult{Grounded: input.Grounded}
	var reply string
	if input.Grounded {
		reply, err = s.groundedReply(ctx, input, result)
	} else {
		reply, err = s.plainReply(ctx, input.ConversationID, content)
	}
	if err != nil {
		// The user turn is already enqueued; a conversation never ends on a
		// user message without an answer.
		log.Printf("completion for conversation %d failed: %v", input.ConversationID, err)
		reply = failureReplyText
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = emptyReplyText
	}

	assistantMessage := model.Message{
		ConversationID: input.ConversationID,
		UserID:         input.UserID,
		Role:           model.RoleAssistant,
		Content:        reply,
		CreatedAt:      time.Now(),
	}
	if err := s.publisher.Publish(ctx, assistantMessage); err != nil {
		return nil, ErrMessageEnqueue
	}
	if err := s.conversationRepo.Touch(input.ConversationID); err != nil {
		return nil, err
	}
	if s.counter != nil {
		if err := s.counter.IncrementRequestCount(input.UserID); err != nil {
			return nil, err
		}
	}

	result.Messages = []model.Message{userMessage, assistantMessage}
	return result, nil
}

func (s *ChatService) plainReply(ctx context.Context, conversationID uint, content string) (string, error) {
	prompt, err := s.buildPromptMessages(conversationID, content)
	if err != nil {
		return "", err
	}
	return s.completer.ChatCompletion(ctx, s.model, prompt)
}

func (s *ChatService) groundedReply(ctx context.Context, input SendMessageInput, result *SendMessageResult) (string, error) {
	hasDocs, err := s.grounded.HasUserDocuments(input.UserID)
	if err != nil {
		return "", err
	}
	session, err := s.grounded.EnsureSession(ctx, input.UserID, input.Username, !hasDocs)
	if err != nil {
		return "", err
	}
	answer, err := s.grounded.Ask(ctx, session, input.Content)
	if err != nil {
		return "", err
	}
	result.MasterOnly = answer.MasterOnly
	result.Fallback = answer.Fallback
	return answer.Reply, nil
}

func (s *ChatService) GetHistory(userID, conversationID uint, limit int) ([]model.Message, error) {
	if userID == 0 || conversationID == 0 {
		return nil, ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByIDAndUserID(conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	ctx := context.Background()
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, conversationID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, conversationID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListByConversationID(conversationID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, conversationID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, conversationID, messages)
		}
	}
	return messages, nil
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}

func (s *ChatService) buildPromptMessages(conversationID uint, currentUserInput string) ([]ai.ChatMessage, error) {
	recent, err := s.messageRepo.ListRecentByConversationID(conversationID, s.maxContext)
	if err != nil {
		return nil, err
	}

	messages := make([]ai.ChatMessage, 0, len(recent)+2)
	messages = append(messages, ai.ChatMessage{
		Role:    "system",
		Content: chatSystemPrompt,
	})
	for _, item := range recent {
		role := item.Role
		if role == "" {
			role = model.RoleUser
		}
		messages = append(messages, ai.ChatMessage{
			Role:    role,
			Content: item.Content,
		})
	}
	messages = append(messages, ai.ChatMessage{
		Role:    model.RoleUser,
		Content: currentUserInput,
	})
	return messages, nil
}
