package agent

import (
	"context"
	"errors"
	"testing"

	"labrag/internal/models"

	"github.com/stretchr/testify/require"
)

func recordingHandlers(intent Intent, visited *[]Node) map[Node]Handler {
	mark := func(n Node, upd Update) Handler {
		return func(context.Context, State) (Update, error) {
			*visited = append(*visited, n)
			return upd, nil
		}
	}
	return map[Node]Handler{
		NodeIntentClassifier: mark(NodeIntentClassifier, Update{Intent: &intent}),
		NodeChatAgent:        mark(NodeChatAgent, Update{}),
		NodeRetriever:        mark(NodeRetriever, Update{}),
		NodeSynthesizer:      mark(NodeSynthesizer, Update{}),
	}
}

func TestGraphRoutesResearchThroughRetrieval(t *testing.T) {
	var visited []Node
	g, err := NewGraph(recordingHandlers(IntentResearch, &visited))
	require.NoError(t, err)

	path, err := g.Run(context.Background(), &State{})
	require.NoError(t, err)
	require.Equal(t, []Node{NodeIntentClassifier, NodeRetriever, NodeSynthesizer}, path)
	require.Equal(t, path, visited)
	require.NotContains(t, path, NodeChatAgent)
}

func TestGraphRoutesChatToChatAgent(t *testing.T) {
	var visited []Node
	g, err := NewGraph(recordingHandlers(IntentChat, &visited))
	require.NoError(t, err)

	path, err := g.Run(context.Background(), &State{})
	require.NoError(t, err)
	require.Equal(t, []Node{NodeIntentClassifier, NodeChatAgent}, path)
	require.NotContains(t, path, NodeRetriever)
	require.NotContains(t, path, NodeSynthesizer)
}

func TestGraphUnsetIntentFallsBackToChat(t *testing.T) {
	var visited []Node
	g, err := NewGraph(recordingHandlers(IntentUnset, &visited))
	require.NoError(t, err)
	path, err := g.Run(context.Background(), &State{})
	require.NoError(t, err)
	require.Equal(t, NodeChatAgent, path[len(path)-1])
}

func TestGraphStopsOnNodeError(t *testing.T) {
	var visited []Node
	h := recordingHandlers(IntentResearch, &visited)
	boom := errors.New("boom")
	h[NodeSynthesizer] = func(context.Context, State) (Update, error) { return Update{}, boom }
	g, err := NewGraph(h)
	require.NoError(t, err)

	path, err := g.Run(context.Background(), &State{})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []Node{NodeIntentClassifier, NodeRetriever, NodeSynthesizer}, path)
}

func TestNewGraphRequiresEveryHandler(t *testing.T) {
	var visited []Node
	h := recordingHandlers(IntentChat, &visited)
	delete(h, NodeRetriever)
	_, err := NewGraph(h)
	require.Error(t, err)
}

func TestHistoryMergeReplacesByID(t *testing.T) {
	h := History{}.Merge(models.Message{ID: "1", Content: "a"}, models.Message{ID: "2", Content: "b"})
	h = h.Merge(models.Message{ID: "1", Content: "a2"}, models.Message{Content: "c"})
	require.Len(t, h, 3)
	require.Equal(t, "a2", h[0].Content)
	require.Equal(t, "c", h.Latest())
	require.NotEmpty(t, h[2].ID)
}

func TestStateApplyAccumulatesTrace(t *testing.T) {
	var st State
	intent := IntentResearch
	st.Apply(Update{Intent: &intent, Trace: "one\n"})
	st.Apply(Update{Trace: "two\n", Sources: []string{"A"}})
	require.Equal(t, Trace("one\ntwo\n"), st.Trace)
	require.Equal(t, IntentResearch, st.Intent)
	require.Equal(t, []string{"A"}, st.Sources)
}
