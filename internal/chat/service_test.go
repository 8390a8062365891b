package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/clerk/internal/cart"
	"github.com/ent0n29/clerk/internal/catalog"
	"github.com/ent0n29/clerk/internal/observability"
	"github.com/ent0n29/clerk/internal/session"
	"github.com/ent0n29/clerk/internal/tools"
)

type scriptedModel struct {
	mu      sync.Mutex
	respond func(call int, input []*schema.Message) (*schema.Message, error)
	calls   int
	inputs  [][]*schema.Message
	bound   []*schema.ToolInfo
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.inputs = append(m.inputs, session.CloneMessages(input))
	m.mu.Unlock()
	return m.respond(call, input)
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *scriptedModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.bound = infos
	return m, nil
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

type fixture struct {
	svc   *Service
	store *session.Store
	carts *cart.Manager
	model *scriptedModel
}

func newFixture(t *testing.T, maxRounds int, respond func(int, []*schema.Message) (*schema.Message, error)) fixture {
	t.Helper()
	products := catalog.New([]catalog.Product{
		{ID: 1, Name: "Coffee Mug", Category: "kitchen", Price: 8.5},
		{ID: 2, Name: "Red Lipstick", Category: "beauty", Price: 12},
	})
	store := session.NewStore(time.Minute, session.PromptFunc(func() string { return "You are a shop assistant." }))
	carts, err := cart.NewManager(store, products)
	require.NoError(t, err)
	dispatcher, err := tools.NewDispatcher(products, carts)
	require.NoError(t, err)

	m := &scriptedModel{respond: respond}
	svc, err := NewService(store, m, dispatcher, Options{MaxToolRounds: maxRounds})
	require.NoError(t, err)
	return fixture{svc: svc, store: store, carts: carts, model: m}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	store := session.NewStore(time.Minute, nil)
	m := &scriptedModel{}
	_, err := NewService(nil, m, &tools.Dispatcher{}, Options{})
	require.Error(t, err)
	_, err = NewService(store, nil, &tools.Dispatcher{}, Options{})
	require.Error(t, err)
	_, err = NewService(store, m, nil, Options{})
	require.Error(t, err)
}

func TestNewServiceBindsTools(t *testing.T) {
	f := newFixture(t, 5, func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("hi", nil), nil
	})
	require.Len(t, f.model.bound, len(tools.Definitions()))
}

func TestSendRejectsBlankMessage(t *testing.T) {
	f := newFixture(t, 5, func(int, []*schema.Message) (*schema.Message, error) {
		t.Fatal("model must not be called")
		return nil, nil
	})

	_, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "   "})
	var chatErr *Error
	require.True(t, errors.As(err, &chatErr))
	require.Equal(t, ErrorInvalidInput, chatErr.Code)
	require.Equal(t, 0, f.store.Len())
}

func TestSendGeneratesConversationID(t *testing.T) {
	prev := newUUID
	newUUID = func() string { return "generated-id" }
	defer func() { newUUID = prev }()

	f := newFixture(t, 5, func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("Hello! How can I help?", nil), nil
	})

	out, err := f.svc.Send(context.Background(), SendInput{Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, "generated-id", out.ConversationID)
	require.Equal(t, "Hello! How can I help?", out.Reply)
	require.False(t, out.Degraded)

	st, ok := f.store.Get("generated-id")
	require.True(t, ok)
	require.Len(t, st.History, 3)
	require.Equal(t, schema.System, st.History[0].Role)
	require.Equal(t, schema.User, st.History[1].Role)
	require.Equal(t, schema.Assistant, st.History[2].Role)
}

func TestSendRunsToolRoundAndStoresTranscript(t *testing.T) {
	f := newFixture(t, 5, func(call int, input []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{
				toolCall("call_1", tools.AddToCartByName, `{"productName":"mug"}`),
			}), nil
		}
		last := input[len(input)-1]
		if last.Role != schema.Tool || last.ToolCallID != "call_1" {
			return nil, fmt.Errorf("unexpected last message %+v", last)
		}
		return schema.AssistantMessage("I added the Coffee Mug to your cart.", nil), nil
	})

	out, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "add a mug"})
	require.NoError(t, err)
	require.Equal(t, "I added the Coffee Mug to your cart.", out.Reply)

	c, ok := f.carts.GetCart("c1")
	require.True(t, ok)
	require.Len(t, c.Items, 1)
	require.Equal(t, "Coffee Mug", c.Items[0].ProductName)

	st, _ := f.store.Get("c1")
	roles := make([]schema.RoleType, 0, len(st.History))
	for _, m := range st.History {
		roles = append(roles, m.Role)
	}
	require.Equal(t, []schema.RoleType{schema.System, schema.User, schema.Assistant, schema.Tool, schema.Assistant}, roles)
	require.Equal(t, tools.AddToCartByName, st.History[3].ToolName)
	require.Contains(t, st.History[3].Content, "Coffee Mug")
}

func TestSendFeedsToolErrorsBackToModel(t *testing.T) {
	f := newFixture(t, 5, func(call int, input []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{toolCall("", "launch_rocket", `{}`)}), nil
		}
		last := input[len(input)-1]
		if !strings.Contains(last.Content, `"error"`) || last.ToolCallID == "" {
			return nil, fmt.Errorf("expected an error tool message, got %+v", last)
		}
		return schema.AssistantMessage("I cannot do that.", nil), nil
	})

	out, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "launch"})
	require.NoError(t, err)
	require.Equal(t, "I cannot do that.", out.Reply)
	require.False(t, out.Degraded)
}

func TestSendStopsAtToolRoundLimit(t *testing.T) {
	f := newFixture(t, 2, func(call int, _ []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{
			toolCall(fmt.Sprintf("call_%d", call), tools.GetCategories, `{}`),
		}), nil
	})

	out, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "loop forever"})
	require.NoError(t, err)
	require.Equal(t, RoundLimitReply, out.Reply)
	require.Equal(t, 3, f.model.calls)

	st, _ := f.store.Get("c1")
	last := st.History[len(st.History)-1]
	require.Equal(t, schema.Assistant, last.Role)
	require.Empty(t, last.ToolCalls)
	require.Equal(t, RoundLimitReply, last.Content)
}

func TestSendDegradesOnModelFailureAndKeepsCartEffects(t *testing.T) {
	f := newFixture(t, 5, func(call int, _ []*schema.Message) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{
				toolCall("call_1", tools.AddToCartByName, `{"productName":"lipstick"}`),
			}), nil
		}
		return nil, errors.New("connection refused")
	})

	out, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "add lipstick"})
	require.NoError(t, err)
	require.True(t, out.Degraded)
	require.Equal(t, FailureReply, out.Reply)

	st, ok := f.store.Get("c1")
	require.True(t, ok)
	require.Len(t, st.History, 2, "only the system and user messages are kept")
	require.Len(t, st.Cart.Items, 1)
}

func TestSendDoesNotResurrectConversationDeletedMidTurn(t *testing.T) {
	var f fixture
	f = newFixture(t, 5, func(int, []*schema.Message) (*schema.Message, error) {
		f.svc.End("c1")
		return schema.AssistantMessage("bye", nil), nil
	})

	out, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "bye", out.Reply)
	_, ok := f.store.Get("c1")
	require.False(t, ok)
}

func TestSendReturnsContextError(t *testing.T) {
	f := newFixture(t, 5, func(int, []*schema.Message) (*schema.Message, error) {
		return nil, context.Canceled
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Send(ctx, SendInput{ConversationID: "c1", Message: "hello"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentSendsKeepEveryMessage(t *testing.T) {
	f := newFixture(t, 5, func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("ok", nil), nil
	})

	const senders = 20
	var wg sync.WaitGroup
	wg.Add(senders)
	for i := 0; i < senders; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: fmt.Sprintf("m%d", i)}); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	st, ok := f.store.Get("c1")
	require.True(t, ok)
	require.Len(t, st.History, 1+2*senders)
	users := 0
	for _, m := range st.History {
		if m.Role == schema.User {
			users++
		}
	}
	require.Equal(t, senders, users)
}

func TestNewConversationsSeeSystemPromptFirst(t *testing.T) {
	f := newFixture(t, 5, func(_ int, input []*schema.Message) (*schema.Message, error) {
		if input[0].Role != schema.System {
			return nil, errors.New("system prompt missing")
		}
		return schema.AssistantMessage("ok", nil), nil
	})
	out, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "hi"})
	require.NoError(t, err)
	require.False(t, out.Degraded)
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("ok", nil), nil
	})
	_, err := f.svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "hi"})
	require.NoError(t, err)

	require.True(t, f.svc.End("c1"))
	require.False(t, f.svc.End("c1"))
	require.False(t, f.svc.End("unknown"))
}

func TestSendRecordsMetrics(t *testing.T) {
	products := catalog.New(nil)
	store := session.NewStore(time.Minute, nil)
	carts, err := cart.NewManager(store, products)
	require.NoError(t, err)
	dispatcher, err := tools.NewDispatcher(products, carts)
	require.NoError(t, err)
	metrics := observability.NewMetrics(fmt.Sprintf("chat_test_%d", time.Now().UnixNano()))

	m := &scriptedModel{respond: func(int, []*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("ok", nil), nil
	}}
	svc, err := NewService(store, m, dispatcher, Options{Metrics: metrics})
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), SendInput{ConversationID: "c1", Message: "hi"})
	require.NoError(t, err)

	snap := metrics.SnapshotStages()
	stages := map[string]bool{}
	for _, s := range snap.Stages {
		stages[s.Stage] = true
	}
	require.True(t, stages[observability.StageModelCall])
	require.True(t, stages[observability.StageTurnTotal])
}
