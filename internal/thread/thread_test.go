package thread

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linear/api/internal/model"
)

func comment(id, parent string) model.Comment {
	return model.Comment{ID: id, Issue: "ENG-1", Body: "body " + id, Parent: model.Ref(parent)}
}

func shape(roots []*Node) string {
	out := ""
	for i, n := range roots {
		if i > 0 {
			out += " "
		}
		out += n.ID
		if len(n.Replies) > 0 {
			out += "(" + shape(n.Replies) + ")"
		}
	}
	return out
}

func TestBuildThreeLevelChain(t *testing.T) {
	roots := Build([]model.Comment{comment("1", ""), comment("2", "1"), comment("3", "2")})

	require.Len(t, roots, 1)
	assert.Equal(t, "1", roots[0].ID)
	require.Len(t, roots[0].Replies, 1)
	assert.Equal(t, "2", roots[0].Replies[0].ID)
	require.Len(t, roots[0].Replies[0].Replies, 1)
	assert.Equal(t, "3", roots[0].Replies[0].Replies[0].ID)
	assert.Empty(t, roots[0].Replies[0].Replies[0].Replies)
}

func TestBuildKeepsInputOrder(t *testing.T) {
	roots := Build([]model.Comment{
		comment("a", ""),
		comment("b", "a"),
		comment("c", ""),
		comment("d", "a"),
		comment("e", "c"),
		comment("f", "b"),
	})

	assert.Equal(t, "a(b(f) d) c(e)", shape(roots))
}

func TestBuildTwoCycleTerminates(t *testing.T) {
	roots := Build([]model.Comment{comment("x", "y"), comment("y", "x")})

	assert.Equal(t, "x(y)", shape(roots))
	assert.Equal(t, 2, Count(roots))
}

func TestBuildCycleWithTailAndHealthyTree(t *testing.T) {
	roots := Build([]model.Comment{
		comment("root", ""),
		comment("p", "r"),
		comment("q", "p"),
		comment("r", "q"),
		comment("tail", "q"),
		comment("child", "root"),
	})

	assert.Equal(t, "root(child) p(q(r tail))", shape(roots))
	assert.Equal(t, 6, Count(roots))
}

func TestBuildTreatsInvalidParentsAsRoots(t *testing.T) {
	other := comment("elsewhere", "")
	other.Issue = "ENG-2"
	crossIssue := comment("cross", "elsewhere")

	roots := Build([]model.Comment{
		comment("self", "self"),
		comment("orphan", "missing"),
		other,
		crossIssue,
	})

	assert.Equal(t, "self orphan elsewhere cross", shape(roots))
}

func TestBuildSkipsDuplicateAndEmptyIDs(t *testing.T) {
	dup := comment("1", "")
	dup.Body = "second copy"
	roots := Build([]model.Comment{comment("1", ""), dup, {Body: "no id"}, comment("2", "1")})

	require.Len(t, roots, 1)
	assert.Equal(t, "body 1", roots[0].Body)
	assert.Equal(t, 2, Count(roots))
}

func TestBuildNormalizesEmbeddedReferences(t *testing.T) {
	payload := `[
		{"_id": "c1", "issue": {"_id": "ENG-1"}, "body": "root", "author": {"_id": "u1", "name": "John"}, "parent": null},
		{"_id": "c2", "issue": "ENG-1", "body": "reply", "author": "u2", "parent": {"_id": "c1"}},
		{"id": "c3", "issue": "ENG-1", "body": "nested", "author": {"id": "u3"}, "parent": {"id": " c2 "}},
		{"_id": "c4", "issue": "ENG-1", "body": "weird parent", "parent": {"name": "no id"}},
		{"_id": "c5", "issue": "ENG-1", "body": "numeric parent", "parent": 42}
	]`
	var comments []model.Comment
	require.NoError(t, json.Unmarshal([]byte(payload), &comments))

	roots := Build(comments)

	assert.Equal(t, "c1(c2(c3)) c4 c5", shape(roots))
	assert.Equal(t, model.Ref("u1"), roots[0].Author)
	assert.Equal(t, model.Ref("u3"), roots[0].Replies[0].Replies[0].Author)
}

func TestBuildDeepChainIsIterative(t *testing.T) {
	const depth = 20000
	comments := make([]model.Comment, 0, depth)
	comments = append(comments, comment("n0", ""))
	for i := 1; i < depth; i++ {
		comments = append(comments, comment(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i-1)))
	}

	roots := Build(comments)

	require.Len(t, roots, 1)
	maxDepth := 0
	Walk(roots, func(_ *Node, d int) {
		if d > maxDepth {
			maxDepth = d
		}
	})
	assert.Equal(t, depth-1, maxDepth)
}

func TestBuildEmpty(t *testing.T) {
	assert.Empty(t, Build(nil))
}

func TestNodeJSONRoundTripKeepsReplies(t *testing.T) {
	roots := Build([]model.Comment{comment("1", ""), comment("2", "1")})
	data, err := json.Marshal(roots)
	require.NoError(t, err)

	var decoded []*Node
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "1(2)", shape(decoded))
	assert.Equal(t, model.Ref("1"), decoded[0].Replies[0].Parent)
}
