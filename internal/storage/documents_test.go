package storage

import (
	"errors"
	"testing"
	"time"
)

func TestSaveAndGetDocument(t *testing.T) {
	s := openTestStore(t)

	want := Document{ID: "doc-1", Name: "biology.pdf", ContentType: "application/pdf", BlobPath: "do/doc-1_biology.pdf"}
	if err := s.SaveDocument(ctx, want); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	got, err := s.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Name != want.Name || got.BlobPath != want.BlobPath || got.ContentType != want.ContentType {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Status != DocumentUploaded {
		t.Errorf("Status = %q, want %q", got.Status, DocumentUploaded)
	}

	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument(missing) = %v, want ErrNotFound", err)
	}
}

func TestUpdateDocumentStatus(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveDocument(ctx, Document{ID: "doc-1", Name: "a.txt"}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	if err := s.UpdateDocumentStatus(ctx, "doc-1", DocumentReady, 12); err != nil {
		t.Fatalf("UpdateDocumentStatus: %v", err)
	}
	if err := s.UpdateDocumentStatus(ctx, "doc-1", DocumentReady, -1); err != nil {
		t.Fatalf("UpdateDocumentStatus keep count: %v", err)
	}

	got, _ := s.GetDocument(ctx, "doc-1")
	if got.Status != DocumentReady || got.PageCount != 12 {
		t.Errorf("status=%q pages=%d, want ready/12", got.Status, got.PageCount)
	}

	if err := s.UpdateDocumentStatus(ctx, "missing", DocumentReady, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateDocumentStatus(missing) = %v, want ErrNotFound", err)
	}
}

func TestListDocuments_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"old", "new"} {
		d := Document{ID: id, Name: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveDocument(ctx, d); err != nil {
			t.Fatalf("SaveDocument %s: %v", id, err)
		}
	}

	docs, err := s.ListDocuments(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "new" {
		t.Fatalf("ListDocuments = %+v, want new first", docs)
	}

	page, _ := s.ListDocuments(ctx, 1, 1)
	if len(page) != 1 || page[0].ID != "old" {
		t.Errorf("second page = %+v, want [old]", page)
	}
}
