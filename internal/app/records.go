package app

import (
	"sort"
	"strconv"

	"pingin/api/internal/annotation"
	"pingin/api/internal/search"
	"pingin/api/internal/store"
)

func documentRecord(d store.Document) annotation.DocumentRecord {
	return annotation.DocumentRecord{
		ID:        d.ID,
		Title:     d.Title,
		Text:      d.Text,
		Version:   d.Version,
		OwnerID:   d.OwnerID,
		UpdatedAt: d.UpdatedAt,
	}
}

func commentRecord(c store.Comment) annotation.CommentRecord {
	return annotation.CommentRecord{
		ID:          c.ID,
		DocumentID:  c.DocumentID,
		AnchorStart: c.AnchorStart,
		AnchorEnd:   c.AnchorEnd,
		Body:        c.Body,
		Resolved:    c.Resolved,
		AuthorID:    c.AuthorID,
		CreatedAt:   c.CreatedAt,
	}
}

func strikethroughRecord(st store.Strikethrough) annotation.StrikethroughRecord {
	return annotation.StrikethroughRecord{
		ID:          st.ID,
		DocumentID:  st.DocumentID,
		AnchorStart: st.AnchorStart,
		AnchorEnd:   st.AnchorEnd,
		Text:        st.Text,
		Status:      st.Status,
		AuthorID:    st.AuthorID,
		CreatedAt:   st.CreatedAt,
	}
}

func insertionRecord(in store.Insertion) annotation.InsertionRecord {
	return annotation.InsertionRecord{
		ID:         in.ID,
		DocumentID: in.DocumentID,
		Position:   in.Position,
		Text:       in.Text,
		Status:     in.Status,
		AuthorID:   in.AuthorID,
		CreatedAt:  in.CreatedAt,
	}
}

func mapSlice[T, R any](items []T, fn func(T) R) []R {
	out := make([]R, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}

// liveAnnotations converts stored rows into overlay input. Sequence numbers
// follow id order within each kind, so insertions at one point keep their
// creation order.
func liveAnnotations(comments []store.Comment, strikes []store.Strikethrough, inserts []store.Insertion) []annotation.Annotation {
	sort.Slice(comments, func(i, j int) bool { return comments[i].ID < comments[j].ID })
	sort.Slice(strikes, func(i, j int) bool { return strikes[i].ID < strikes[j].ID })
	sort.Slice(inserts, func(i, j int) bool { return inserts[i].ID < inserts[j].ID })

	out := make([]annotation.Annotation, 0, len(comments)+len(strikes)+len(inserts))
	add := func(id int64, body annotation.Body) {
		out = append(out, annotation.Annotation{
			Key:      strconv.FormatInt(id, 10),
			ServerID: id,
			Seq:      uint64(len(out) + 1),
			State:    annotation.StateLive,
			Sync:     annotation.SyncConfirmed,
			Body:     body,
		})
	}
	for _, c := range comments {
		if !c.Resolved {
			add(c.ID, annotation.Comment{Start: c.AnchorStart, End: c.AnchorEnd, Text: c.Body})
		}
	}
	for _, st := range strikes {
		if st.Status == store.StatusLive {
			add(st.ID, annotation.Strikethrough{Start: st.AnchorStart, End: st.AnchorEnd, Text: st.Text})
		}
	}
	for _, in := range inserts {
		if in.Status == store.StatusLive {
			add(in.ID, annotation.Insertion{At: in.Position, Text: in.Text})
		}
	}
	return out
}

func searchDocument(d store.Document) search.DocumentRecord {
	return search.DocumentRecord{ID: d.ID, Title: d.Title, Body: d.Text, OwnerID: d.OwnerID}
}

func searchComment(c store.Comment, doc store.Document) search.CommentRecord {
	return search.CommentRecord{
		ID:         strconv.FormatInt(c.ID, 10),
		Body:       c.Body,
		Quote:      search.Quote([]rune(doc.Text), c.AnchorStart, c.AnchorEnd),
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
	}
}
