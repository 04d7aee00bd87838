package agent

import (
	"context"
	"fmt"
)

type Node string

const (
	NodeStart            Node = "start"
	NodeIntentClassifier Node = "intent_classifier"
	NodeChatAgent        Node = "chat_agent"
	NodeRetriever        Node = "retriever"
	NodeSynthesizer      Node = "synthesizer"
	NodeEnd              Node = "end"
)

// Handler runs one node against the current state and returns its changes.
type Handler func(ctx context.Context, st State) (Update, error)

// Route picks the next node once a node's update has been applied.
type Route func(st State) Node

func always(n Node) Route {
	return func(State) Node { return n }
}

func byIntent(st State) Node {
	if st.Intent == IntentResearch {
		return NodeRetriever
	}
	return NodeChatAgent
}

// transitions is the whole conversation graph.
var transitions = map[Node]Route{
	NodeStart:            always(NodeIntentClassifier),
	NodeIntentClassifier: byIntent,
	NodeChatAgent:        always(NodeEnd),
	NodeRetriever:        always(NodeSynthesizer),
	NodeSynthesizer:      always(NodeEnd),
}

// Graph executes a single pass from start to end.
type Graph struct {
	handlers map[Node]Handler
	routes   map[Node]Route
}

func NewGraph(handlers map[Node]Handler) (*Graph, error) {
	for from := range transitions {
		if from == NodeStart {
			continue
		}
		if _, ok := handlers[from]; !ok {
			return nil, fmt.Errorf("graph: no handler for node %s", from)
		}
	}
	return &Graph{handlers: handlers, routes: transitions}, nil
}

// Run mutates st node by node and returns the visited nodes, excluding start
// and end. A node error stops the pass; st then holds the updates applied so
// far.
func (g *Graph) Run(ctx context.Context, st *State) ([]Node, error) {
	path := make([]Node, 0, 3)
	node := g.routes[NodeStart](*st)
	for node != NodeEnd {
		if len(path) > len(g.routes) {
			return path, fmt.Errorf("graph: no end reached after %v", path)
		}
		if err := ctx.Err(); err != nil {
			return path, err
		}
		h, ok := g.handlers[node]
		if !ok {
			return path, fmt.Errorf("graph: no handler for node %s", node)
		}
		path = append(path, node)
		upd, err := h(ctx, *st)
		if err != nil {
			return path, fmt.Errorf("%s: %w", node, err)
		}
		st.Apply(upd)
		route, ok := g.routes[node]
		if !ok {
			return path, fmt.Errorf("graph: no transition from %s", node)
		}
		node = route(*st)
	}
	return path, nil
}
