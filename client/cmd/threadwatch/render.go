package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/itchan-dev/threadsync/client/reconcile"
	"github.com/itchan-dev/threadsync/client/tree"
	"github.com/itchan-dev/threadsync/shared/domain"
)

func render(w io.Writer, v tree.View, degraded bool) {
	d := v.Discussion
	fmt.Fprintf(w, "== %s (%s) by %s | %d likes%s | %d replies\n",
		d.Title, d.Id, d.Author.Name, v.LikeCount, likedMark(v.Liked), v.TotalReplies)
	if degraded {
		fmt.Fprintln(w, "!! realtime is down, type refresh or reconnect")
	}
	for _, n := range v.TopLevel {
		renderNode(w, n)
	}
}

func renderNode(w io.Writer, n *tree.Node) {
	indent := strings.Repeat("  ", n.Depth-1)
	switch {
	case n.Removed:
		fmt.Fprintf(w, "%s- [removed] (%s)", indent, n.Reply.Id)
	default:
		fmt.Fprintf(w, "%s- %s: %s (%s) %d likes%s", indent, n.Reply.Author.Name, n.Reply.Content, n.Reply.Id, n.LikeCount, likedMark(n.Liked))
		if n.Pending {
			fmt.Fprint(w, " [sending]")
		}
	}
	if n.ChildCount > 0 && !n.Expanded {
		fmt.Fprintf(w, " [+%d]", n.ChildCount)
	}
	fmt.Fprintln(w)
	for _, c := range n.Children {
		renderNode(w, c)
	}
}

func likedMark(liked bool) string {
	if liked {
		return " *"
	}
	return ""
}

// failureMessage tells a refusal by the server apart from a lost or failed call,
// and hands back what the user typed for a failed reply.
func failureMessage(out reconcile.Outcome) string {
	m := out.Mutation
	var b strings.Builder
	if out.Rejected() {
		fmt.Fprintf(&b, "%s %s rejected by the server: %v\n", m.Kind, m.TargetId, out.Err)
	} else {
		fmt.Fprintf(&b, "%s %s failed: %v\n", m.Kind, m.TargetId, out.Err)
	}
	if m.Kind == domain.CreateReply && m.Create != nil {
		fmt.Fprintf(&b, "your text was: %s\n", m.Create.Content)
	}
	return b.String()
}
