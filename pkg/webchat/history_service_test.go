package webchat

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ragbase/kbchat/pkg/chatstore"
)

func seedHistory(t *testing.T, sessions chatstore.SessionStore, mode string, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-session-%02d", mode, i)
		require.NoError(t, sessions.CreateSession(ctx, chatstore.Session{ID: id, Mode: mode, StoreName: "docs"}))
		_, err := sessions.AppendTurn(ctx, id, nil, chatstore.Turn{UserMessage: "q" + id, AgentResponse: "a" + id})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestHistoryService_ListSessionsDefaultsAndFilter(t *testing.T) {
	sessions := chatstore.NewInMemorySessionStore()
	svc, err := NewHistoryService(sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	seedHistory(t, sessions, chatstore.ModeGeneral, 3)
	seedHistory(t, sessions, chatstore.ModeJTI, 2)

	res, err := svc.ListSessions(ctx, chatstore.SessionFilter{})
	require.NoError(t, err)
	require.Equal(t, 5, res.TotalSessions)
	require.Equal(t, 1, res.Page)
	require.Equal(t, 20, res.PageSize)

	res, err = svc.ListSessions(ctx, chatstore.SessionFilter{Mode: chatstore.ModeJTI})
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalSessions)
	require.Len(t, res.Sessions, 2)
}

func TestHistoryService_SessionDetail(t *testing.T) {
	sessions := chatstore.NewInMemorySessionStore()
	svc, err := NewHistoryService(sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	ids := seedHistory(t, sessions, chatstore.ModeGeneral, 1)
	res, err := svc.SessionDetail(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, ids[0], res.SessionID)
	require.Len(t, res.Conversations, 1)
	require.Equal(t, 1, res.Conversations[0].TurnNumber)

	var se *ServiceError
	_, err = svc.SessionDetail(ctx, "does-not-exist")
	require.True(t, stderrors.As(err, &se))
	require.Equal(t, 404, se.Status)

	_, err = svc.SessionDetail(ctx, " ")
	require.True(t, stderrors.As(err, &se))
	require.Equal(t, 400, se.Status)
}

func TestHistoryService_DeleteSession(t *testing.T) {
	sessions := chatstore.NewInMemorySessionStore()
	svc, err := NewHistoryService(sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	ids := seedHistory(t, sessions, chatstore.ModeGeneral, 2)
	require.NoError(t, svc.DeleteSession(ctx, ids[0]))

	_, ok, err := sessions.GetSession(ctx, ids[0])
	require.NoError(t, err)
	require.False(t, ok)

	res, err := svc.ListSessions(ctx, chatstore.SessionFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalSessions)
}

func TestHistoryService_ExportSingleSession(t *testing.T) {
	sessions := chatstore.NewInMemorySessionStore()
	svc, err := NewHistoryService(sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	ids := seedHistory(t, sessions, chatstore.ModeGeneral, 1)
	now := time.Unix(1700000000, 0)

	artifact, err := svc.Export(ctx, ids[0], chatstore.SessionFilter{}, now)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("kbchat-%s-1700000000.json", ids[0][:8]), artifact.Filename)
	require.Len(t, artifact.Sessions, 1)
	require.Equal(t, ids[0], artifact.Sessions[0].Session.ID)
	require.Len(t, artifact.Sessions[0].Turns, 1)

	var se *ServiceError
	_, err = svc.Export(ctx, "does-not-exist", chatstore.SessionFilter{}, now)
	require.True(t, stderrors.As(err, &se))
	require.Equal(t, 404, se.Status)
}

func TestHistoryService_ExportBulkByMode(t *testing.T) {
	sessions := chatstore.NewInMemorySessionStore()
	svc, err := NewHistoryService(sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	seedHistory(t, sessions, chatstore.ModeGeneral, 2)
	seedHistory(t, sessions, chatstore.ModeJTI, 1)
	now := time.Unix(1700000000, 0)

	artifact, err := svc.Export(ctx, "", chatstore.SessionFilter{Mode: chatstore.ModeGeneral}, now)
	require.NoError(t, err)
	require.Equal(t, "kbchat-general-1700000000.json", artifact.Filename)
	require.Len(t, artifact.Sessions, 2)
	for _, s := range artifact.Sessions {
		require.Equal(t, chatstore.ModeGeneral, s.Session.Mode)
		require.NotEmpty(t, s.Turns)
	}

	artifact, err = svc.Export(ctx, "", chatstore.SessionFilter{}, now)
	require.NoError(t, err)
	require.Equal(t, "kbchat-all-1700000000.json", artifact.Filename)
	require.Len(t, artifact.Sessions, 3)
}
