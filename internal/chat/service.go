package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clerk/internal/llm"
	"github.com/ent0n29/clerk/internal/observability"
	"github.com/ent0n29/clerk/internal/policy"
	"github.com/ent0n29/clerk/internal/session"
	"github.com/ent0n29/clerk/internal/tools"
)

const (
	DefaultMaxToolRounds = 5

	FailureReply    = "Sorry, I am having connection problems right now. Please try again in a moment."
	RoundLimitReply = "Sorry, I could not finish that request. Could you rephrase it or ask for one thing at a time?"
)

var newUUID = func() string { return uuid.NewString() }

// Dispatcher executes model-requested tool calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, conversationID string, call schema.ToolCall) (tools.Result, error)
}

type Options struct {
	MaxToolRounds int
	Tools         []*schema.ToolInfo
	Metrics       *observability.Metrics
	Logger        logrus.FieldLogger
}

// Service runs conversation turns: it records the customer's message, lets
// the model call tools for a bounded number of rounds and stores the result.
type Service struct {
	store      *session.Store
	model      model.ToolCallingChatModel
	dispatcher Dispatcher
	provider   string
	maxRounds  int
	metrics    *observability.Metrics
	log        logrus.FieldLogger
}

type SendInput struct {
	ConversationID string
	Message        string
}

type SendOutput struct {
	ConversationID string
	Reply          string
	// Degraded is set when the model could not be reached and Reply is the
	// generic failure text.
	Degraded bool
}

func NewService(store *session.Store, chatModel model.ToolCallingChatModel, dispatcher Dispatcher, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if dispatcher == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.Tools == nil {
		opts.Tools = tools.Definitions()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	bound, err := chatModel.WithTools(opts.Tools)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return &Service{
		store:      store,
		model:      bound,
		dispatcher: dispatcher,
		provider:   llm.ProviderName(chatModel),
		maxRounds:  opts.MaxToolRounds,
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}, nil
}

func (s *Service) Provider() string { return s.provider }

// Send handles one customer message. Only input validation and store
// failures are returned as errors; an unreachable model yields a degraded
// reply instead.
func (s *Service) Send(ctx context.Context, in SendInput) (SendOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "message must not be empty", nil)
	}
	id := strings.TrimSpace(in.ConversationID)
	if id == "" {
		id = newUUID()
	}
	log := s.logger(ctx).WithField("conversation_id", id)
	start := time.Now()

	var history []*schema.Message
	created, err := s.store.Update(id, true, func(st *session.State) error {
		st.History = append(st.History, schema.UserMessage(message))
		history = session.CloneMessages(st.History)
		return nil
	})
	if err != nil {
		return SendOutput{}, newError(ErrorInternal, "load conversation", err)
	}
	s.metrics.ObserveStage(observability.StageHistoryLoaded, time.Since(start))
	log.WithFields(logrus.Fields{
		"created": created,
		"message": policy.ForLog(message, 200),
	}).Debug("chat turn started")

	turn, err := s.runTurn(ctx, id, history)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.metrics.ObserveTurn("canceled", turn.rounds, time.Since(start))
			return SendOutput{}, ctxErr
		}
		s.metrics.ObserveModelError(s.provider, llm.ErrorCode(err))
		s.metrics.ObserveTurn("degraded", turn.rounds, time.Since(start))
		s.metrics.ObserveIndicator("model_degraded")
		log.WithError(err).WithField("rounds", turn.rounds).Warn("chat model call failed")
		return SendOutput{ConversationID: id, Reply: FailureReply, Degraded: true}, nil
	}

	_, err = s.store.Update(id, false, func(st *session.State) error {
		st.History = append(st.History, turn.transcript...)
		return nil
	})
	switch {
	case errors.Is(err, session.ErrNotFound):
		log.Info("conversation ended during the turn; reply not stored")
	case err != nil:
		return SendOutput{}, newError(ErrorInternal, "store conversation", err)
	}

	outcome := "ok"
	if turn.capped {
		outcome = "round_limit"
		s.metrics.ObserveIndicator("tool_round_cap_hit")
		log.WithField("rounds", turn.rounds).Warn("tool round limit reached")
	}
	s.metrics.ObserveTurn(outcome, turn.rounds, time.Since(start))
	return SendOutput{ConversationID: id, Reply: turn.reply}, nil
}

// End forgets the conversation. It is safe to call repeatedly.
func (s *Service) End(conversationID string) bool {
	removed := s.store.Delete(conversationID)
	if removed {
		s.metrics.ConversationEvent("ended")
		s.metrics.SetActiveConversations(s.store.Len())
	}
	return removed
}

type turnResult struct {
	transcript []*schema.Message
	reply      string
	rounds     int
	capped     bool
}

func (s *Service) runTurn(ctx context.Context, conversationID string, history []*schema.Message) (turnResult, error) {
	var (
		res      turnResult
		lastText string
	)
	messages := history

	for round := 0; ; round++ {
		res.rounds = round
		callStart := time.Now()
		reply, err := s.model.Generate(ctx, messages)
		s.metrics.ObserveStage(observability.StageModelCall, time.Since(callStart))
		if err != nil {
			return res, err
		}
		if reply == nil {
			return res, errors.New("model returned empty message")
		}
		text := strings.TrimSpace(reply.Content)

		if len(reply.ToolCalls) == 0 {
			if text == "" {
				text = fallbackText(lastText)
			}
			res.reply = text
			res.transcript = append(res.transcript, schema.AssistantMessage(text, nil))
			return res, nil
		}

		if round >= s.maxRounds {
			if text == "" {
				text = fallbackText(lastText)
			}
			res.reply = text
			res.capped = true
			res.transcript = append(res.transcript, schema.AssistantMessage(text, nil))
			return res, nil
		}
		if text != "" {
			lastText = text
		}

		reply = normalizeToolCalls(reply)
		messages = append(messages, reply)
		res.transcript = append(res.transcript, reply)
		for _, call := range reply.ToolCalls {
			toolMsg := s.execute(ctx, conversationID, call)
			messages = append(messages, toolMsg)
			res.transcript = append(res.transcript, toolMsg)
		}
	}
}

func (s *Service) execute(ctx context.Context, conversationID string, call schema.ToolCall) *schema.Message {
	start := time.Now()
	result, err := s.dispatcher.Dispatch(ctx, conversationID, call)
	s.metrics.ObserveStage(observability.StageToolCall, time.Since(start))

	name := call.Function.Name
	if err != nil {
		s.metrics.ObserveToolCall(toolLabel(name), "error")
		s.logger(ctx).WithError(err).WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"tool":            name,
		}).Warn("tool call failed")
		return schema.ToolMessage(tools.ErrorContent(err), call.ID, schema.WithToolName(name))
	}
	s.metrics.ObserveToolCall(toolLabel(name), "ok")
	return schema.ToolMessage(result.Content(), call.ID, schema.WithToolName(name))
}

func (s *Service) logger(ctx context.Context) logrus.FieldLogger {
	if l, ok := observability.ContextLogger(ctx); ok {
		return l
	}
	return s.log
}

// normalizeToolCalls returns a copy of msg in which every tool call has an
// id, so tool results can reference it.
func normalizeToolCalls(msg *schema.Message) *schema.Message {
	out := *msg
	out.Role = schema.Assistant
	out.ToolCalls = make([]schema.ToolCall, len(msg.ToolCalls))
	copy(out.ToolCalls, msg.ToolCalls)
	for i := range out.ToolCalls {
		if out.ToolCalls[i].ID == "" {
			out.ToolCalls[i].ID = "call-" + newUUID()
		}
		if out.ToolCalls[i].Type == "" {
			out.ToolCalls[i].Type = "function"
		}
	}
	return &out
}

func fallbackText(lastText string) string {
	if lastText != "" {
		return lastText
	}
	return RoundLimitReply
}

var knownTools = map[string]bool{
	tools.GetProductsByCategory:        true,
	tools.SuggestProductsByKeyword:     true,
	tools.SuggestProductsByDescription: true,
	tools.GetCategories:                true,
	tools.GetNewestProducts:            true,
	tools.GetAllProducts:               true,
	tools.AddToCartByName:              true,
	tools.RemoveFromCartByName:         true,
	tools.GetCart:                      true,
	tools.ClearCart:                    true,
}

// toolLabel keeps metric cardinality bounded when the model invents names.
func toolLabel(name string) string {
	if knownTools[name] {
		return name
	}
	return "unknown"
}
