// Package thread builds reply trees from the flat comment list of an issue.
package thread

import (
	"encoding/json"

	"linear/api/internal/model"
)

// Node is a comment with its direct replies in input order.
type Node struct {
	model.Comment
	Replies []*Node `json:"replies"`
}

// UnmarshalJSON is needed because the embedded Comment's decoder would
// otherwise swallow the replies.
func (n *Node) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &n.Comment); err != nil {
		return err
	}
	var rest struct {
		Replies []*Node `json:"replies"`
	}
	if err := json.Unmarshal(data, &rest); err != nil {
		return err
	}
	n.Replies = rest.Replies
	if n.Replies == nil {
		n.Replies = []*Node{}
	}
	return nil
}

// Build arranges comments into a forest. A comment is a root when it has no
// parent, its parent is not in the list, its parent belongs to another
// issue, or it points at itself. Comments caught in a parent cycle never
// reach a root; the earliest of them is promoted to a root so every comment
// appears exactly once. Siblings and roots keep input order. Duplicate ids
// keep the first occurrence.
func Build(comments []model.Comment) []*Node {
	nodes := make([]*Node, 0, len(comments))
	index := make(map[string]int, len(comments))
	for _, c := range comments {
		id := model.NormalizeRef(c.ID).String()
		if id == "" {
			continue
		}
		if _, dup := index[id]; dup {
			continue
		}
		c.ID = id
		index[id] = len(nodes)
		nodes = append(nodes, &Node{Comment: c, Replies: []*Node{}})
	}

	children := make(map[int][]int, len(nodes))
	isRoot := make([]bool, len(nodes))
	for i, n := range nodes {
		parent, ok := index[n.Parent.String()]
		if !ok || parent == i || !sameIssue(nodes[parent].Comment, n.Comment) {
			isRoot[i] = true
			continue
		}
		children[parent] = append(children[parent], i)
	}

	visited := make([]bool, len(nodes))
	attach := func(start int) {
		visited[start] = true
		queue := []int{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, child := range children[cur] {
				if visited[child] {
					continue
				}
				visited[child] = true
				nodes[cur].Replies = append(nodes[cur].Replies, nodes[child])
				queue = append(queue, child)
			}
		}
	}

	for i := range nodes {
		if isRoot[i] {
			attach(i)
		}
	}
	for i := range nodes {
		if !visited[i] {
			isRoot[i] = true
			attach(i)
		}
	}

	roots := make([]*Node, 0, len(nodes))
	for i, n := range nodes {
		if isRoot[i] {
			roots = append(roots, n)
		}
	}
	return roots
}

func sameIssue(parent, child model.Comment) bool {
	if parent.Issue.IsZero() || child.Issue.IsZero() {
		return true
	}
	return parent.Issue == child.Issue
}

// Walk visits every node depth first, parents before replies.
func Walk(roots []*Node, fn func(node *Node, depth int)) {
	type frame struct {
		node  *Node
		depth int
	}
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{roots[i], 0})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(top.node, top.depth)
		for i := len(top.node.Replies) - 1; i >= 0; i-- {
			stack = append(stack, frame{top.node.Replies[i], top.depth + 1})
		}
	}
}

// Count returns the number of nodes in the forest.
func Count(roots []*Node) int {
	n := 0
	Walk(roots, func(*Node, int) { n++ })
	return n
}
