package chatclient

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ragbase/kbchat/pkg/chatstore"
)

func newStartedReconciler(t *testing.T, api *stubAPI) *Reconciler {
	t.Helper()
	api.queueStart(StartChatResponse{SessionID: "s1"}, nil)
	r, err := NewReconciler(ReconcilerConfig{API: api, Mode: chatstore.ModeGeneral, StoreName: "docs"})
	require.NoError(t, err)
	r.Start(context.Background())
	require.Equal(t, "s1", r.SessionID())
	return r
}

func seedTurns(nums ...int) []chatstore.Turn {
	out := make([]chatstore.Turn, 0, len(nums))
	for _, n := range nums {
		out = append(out, chatstore.Turn{
			TurnNumber:    n,
			UserMessage:   "user " + string(rune('0'+n)),
			AgentResponse: "model " + string(rune('0'+n)),
		})
	}
	return out
}

func TestSend_TurnMonotonicity(t *testing.T) {
	api := newStubAPI().
		queueSend(SendMessageResponse{Answer: "a1", TurnNumber: 1}, nil).
		queueSend(SendMessageResponse{Answer: "a2", TurnNumber: 2}, nil).
		queueSend(SendMessageResponse{Answer: "a3", TurnNumber: 3}, nil)
	r := newStartedReconciler(t, api)
	ctx := context.Background()

	r.Send(ctx, "first")
	r.Send(ctx, "second")
	r.Send(ctx, "third")

	msgs := r.Messages()
	require.Len(t, msgs, 6)
	for i := 0; i < 3; i++ {
		user, model := msgs[2*i], msgs[2*i+1]
		require.Equal(t, RoleUser, user.Role)
		require.Equal(t, RoleModel, model.Role)
		require.Equal(t, i+1, user.TurnNumber)
		require.Equal(t, i+1, model.TurnNumber)
		require.Equal(t, StateComplete, model.State)
	}
	require.False(t, r.Loading())
}

func TestRegenerate_TruncatesThroughPendingToComplete(t *testing.T) {
	api := newStubAPI()
	r := newStartedReconciler(t, api)
	r.Resume("s1", seedTurns(1, 2, 3), "")

	api.mu.Lock()
	api.sendGate = make(chan struct{})
	api.sendStarted = make(chan struct{}, 1)
	api.mu.Unlock()
	api.queueSend(SendMessageResponse{Answer: "fresh answer", TurnNumber: 2}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Regenerate(context.Background(), 2)
	}()
	<-api.sendStarted

	// mid-flight: turn 1 intact, turn 2's user bubble plus a pending
	// placeholder, nothing from turn 3
	mid := r.Messages()
	require.Len(t, mid, 4)
	require.Equal(t, 1, mid[0].TurnNumber)
	require.Equal(t, 1, mid[1].TurnNumber)
	require.Equal(t, RoleUser, mid[2].Role)
	require.Equal(t, 2, mid[2].TurnNumber)
	require.Equal(t, StatePending, mid[3].State)
	require.True(t, r.Loading())

	close(api.sendGate)
	<-done

	final := r.Messages()
	require.Len(t, final, 4)
	require.Equal(t, "fresh answer", final[3].Text)
	require.Equal(t, 2, final[3].TurnNumber)
	require.Equal(t, StateComplete, final[3].State)
	require.False(t, r.Loading())

	require.Equal(t, 1, api.sendCallCount())
	req := api.sendCalls[0]
	require.NotNil(t, req.TurnNumber)
	require.Equal(t, 2, *req.TurnNumber)
	require.Equal(t, "user 2", req.Message)
}

func TestEditAndResend_ReplacesTurnAndDropsTail(t *testing.T) {
	api := newStubAPI().queueSend(SendMessageResponse{Answer: "revised answer", TurnNumber: 2}, nil)
	r := newStartedReconciler(t, api)
	r.Resume("s1", seedTurns(1, 2, 3), "")

	r.EditAndResend(context.Background(), 2, "new text")

	msgs := r.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "user 1", msgs[0].Text)
	require.Equal(t, "new text", msgs[2].Text)
	require.Equal(t, 2, msgs[2].TurnNumber)
	require.Equal(t, "revised answer", msgs[3].Text)
	require.Equal(t, 2, msgs[3].TurnNumber)
	require.False(t, r.Loading())

	req := api.sendCalls[0]
	require.Equal(t, "new text", req.Message)
	require.NotNil(t, req.TurnNumber)
	require.Equal(t, 2, *req.TurnNumber)
}

func TestRegenerate_UnknownTurnIsSilentNoOp(t *testing.T) {
	api := newStubAPI()
	r := newStartedReconciler(t, api)
	r.Resume("s1", seedTurns(1, 2), "")
	before := r.Messages()

	r.Regenerate(context.Background(), 99)

	require.Equal(t, before, r.Messages())
	require.Zero(t, api.sendCallCount())
	require.False(t, r.Loading())

	r.EditAndResend(context.Background(), 99, "whatever")
	require.Equal(t, before, r.Messages())
	require.Zero(t, api.sendCallCount())
}

func TestSend_LoadingMutualExclusion(t *testing.T) {
	api := newStubAPI()
	api.sendGate = make(chan struct{})
	api.sendStarted = make(chan struct{}, 1)
	api.queueSend(SendMessageResponse{Answer: "slow answer", TurnNumber: 1}, nil)
	r := newStartedReconciler(t, api)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Send(context.Background(), "first")
	}()
	<-api.sendStarted
	require.True(t, r.Loading())

	// all three mutating operations are gated while a send is in flight
	r.Send(context.Background(), "second")
	r.Regenerate(context.Background(), 1)
	r.EditAndResend(context.Background(), 1, "edited")
	require.Len(t, r.Messages(), 2)
	require.Equal(t, 1, api.sendCallCount())

	close(api.sendGate)
	<-done
	require.Equal(t, 1, api.sendCallCount())
	require.False(t, r.Loading())
}

func TestResume_FlattensTurnsIntoPairs(t *testing.T) {
	api := newStubAPI()
	r, err := NewReconciler(ReconcilerConfig{API: api, Mode: chatstore.ModeJTI})
	require.NoError(t, err)

	r.Resume("resumed", []chatstore.Turn{
		{TurnNumber: 1, UserMessage: "hi", AgentResponse: "hello"},
		{TurnNumber: 2, UserMessage: "bye", AgentResponse: "goodbye"},
	}, "zh-TW")

	require.Equal(t, "resumed", r.SessionID())
	msgs := r.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, []DisplayMessage{
		{Role: RoleUser, Text: "hi", TurnNumber: 1, State: StateComplete},
		{Role: RoleModel, Text: "hello", TurnNumber: 1, State: StateComplete},
		{Role: RoleUser, Text: "bye", TurnNumber: 2, State: StateComplete},
		{Role: RoleModel, Text: "goodbye", TurnNumber: 2, State: StateComplete},
	}, msgs)
}

func TestSend_EndToEnd(t *testing.T) {
	api := newStubAPI().queueSend(SendMessageResponse{Answer: "X is...", TurnNumber: 1}, nil)
	r := newStartedReconciler(t, api)

	r.Send(context.Background(), "What is X?")

	require.Equal(t, []DisplayMessage{
		{Role: RoleUser, Text: "What is X?", TurnNumber: 1, State: StateComplete},
		{Role: RoleModel, Text: "X is...", TurnNumber: 1, State: StateComplete},
	}, r.Messages())
	require.False(t, r.Loading())
}

func TestSend_FailureRendersErrorBubble(t *testing.T) {
	api := newStubAPI().queueSend(SendMessageResponse{}, errors.New("network error"))
	r := newStartedReconciler(t, api)

	r.Send(context.Background(), "hello")

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.False(t, msgs[0].HasTurn())
	require.Equal(t, DisplayMessage{Role: RoleModel, Text: "錯誤: network error", State: StateFailed}, msgs[1])
	require.False(t, r.Loading())
}

func TestSend_FailureSetsStatusBanner(t *testing.T) {
	api := newStubAPI().
		queueSend(SendMessageResponse{}, errors.New("network error")).
		queueSend(SendMessageResponse{Answer: "recovered", TurnNumber: 1}, nil)
	r := newStartedReconciler(t, api)

	// the banner accompanies the inline error bubble on send-path failures
	r.Send(context.Background(), "hello")
	require.Equal(t, "錯誤: network error", r.Status())

	// and clears once a send succeeds again
	r.Send(context.Background(), "hello again")
	require.Empty(t, r.Status())
}

func TestSend_PreconditionsAreSilentNoOps(t *testing.T) {
	api := newStubAPI()
	r, err := NewReconciler(ReconcilerConfig{API: api})
	require.NoError(t, err)

	// no session yet
	r.Send(context.Background(), "hello")
	require.Empty(t, r.Messages())
	require.Zero(t, api.sendCallCount())

	api.queueStart(StartChatResponse{SessionID: "s1"}, nil)
	r.Start(context.Background())

	// empty and whitespace-only input
	r.Send(context.Background(), "")
	r.Send(context.Background(), "   ")
	require.Empty(t, r.Messages())
	require.Zero(t, api.sendCallCount())
}
