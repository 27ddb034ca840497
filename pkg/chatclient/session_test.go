package chatclient

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ragbase/kbchat/pkg/chatstore"
)

func TestStart_FailureLeavesSessionUninitialized(t *testing.T) {
	api := newStubAPI().queueStart(StartChatResponse{}, errors.New("network error"))
	r, err := NewReconciler(ReconcilerConfig{API: api, Mode: chatstore.ModeGeneral})
	require.NoError(t, err)

	r.Start(context.Background())

	require.Empty(t, r.SessionID())
	require.Empty(t, r.Messages())
	require.Equal(t, "錯誤: network error", r.Status())

	// manual restart is the retry path
	api.queueStart(StartChatResponse{SessionID: "s2"}, nil)
	r.Restart(context.Background(), nil)
	require.Equal(t, "s2", r.SessionID())
	require.Empty(t, r.Status())
}

func TestRestart_ConfirmGateOnNonEmptyConversation(t *testing.T) {
	api := newStubAPI().queueSend(SendMessageResponse{Answer: "a1", TurnNumber: 1}, nil)
	r := newStartedReconciler(t, api)
	r.Send(context.Background(), "hello")
	require.Len(t, r.Messages(), 2)

	// declined: nothing changes, no request issued
	r.Restart(context.Background(), func() bool { return false })
	require.Equal(t, "s1", r.SessionID())
	require.Len(t, r.Messages(), 2)
	require.Len(t, api.startCalls, 1)

	// accepted: new session, list reset, previous id carried for bookkeeping
	api.queueStart(StartChatResponse{SessionID: "s2"}, nil)
	r.Restart(context.Background(), func() bool { return true })
	require.Equal(t, "s2", r.SessionID())
	require.Empty(t, r.Messages())
	require.Len(t, api.startCalls, 2)
	require.Equal(t, "s1", api.startCalls[1].PreviousSessionID)
}

func TestRestart_EmptyConversationSkipsConfirm(t *testing.T) {
	api := newStubAPI()
	r := newStartedReconciler(t, api)

	confirmCalled := false
	api.queueStart(StartChatResponse{SessionID: "s2"}, nil)
	r.Restart(context.Background(), func() bool { confirmCalled = true; return false })
	require.False(t, confirmCalled)
	require.Equal(t, "s2", r.SessionID())
}

func TestPromptChanged_RestartsWithoutConfirmation(t *testing.T) {
	api := newStubAPI().queueSend(SendMessageResponse{Answer: "a1", TurnNumber: 1}, nil)
	r := newStartedReconciler(t, api)
	r.Send(context.Background(), "hello")
	require.Len(t, r.Messages(), 2)

	api.queueStart(StartChatResponse{SessionID: "s2", PromptApplied: "new persona"}, nil)
	r.PromptChanged(context.Background())

	require.Equal(t, "s2", r.SessionID())
	require.Empty(t, r.Messages())
	require.Equal(t, "s1", api.startCalls[1].PreviousSessionID)
}

func TestStart_CarriesPreferencesAndScope(t *testing.T) {
	api := newStubAPI().queueStart(StartChatResponse{SessionID: "s1"}, nil)
	r, err := NewReconciler(ReconcilerConfig{
		API:      api,
		Mode:     chatstore.ModeJTI,
		Language: "zh-TW",
		Prefs:    ClientPreferences{APIKey: "key-123"},
	})
	require.NoError(t, err)

	r.Start(context.Background())

	require.Len(t, api.startCalls, 1)
	req := api.startCalls[0]
	require.Equal(t, chatstore.ModeJTI, req.Mode)
	require.Equal(t, "zh-TW", req.Language)
	require.Equal(t, "key-123", req.APIKey)
	require.Empty(t, req.PreviousSessionID)
}

func TestResume_RestoresLanguage(t *testing.T) {
	api := newStubAPI()
	r, err := NewReconciler(ReconcilerConfig{API: api, Mode: chatstore.ModeJTI, Language: "en"})
	require.NoError(t, err)

	r.Resume("resumed", seedTurns(1), "zh-TW")

	api.queueStart(StartChatResponse{SessionID: "next"}, nil)
	r.Restart(context.Background(), nil)
	require.Equal(t, "zh-TW", api.startCalls[0].Language)
}
