package legal

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lawgpt/lawgpt/engine/domain"
	"github.com/lawgpt/lawgpt/engine/lexical"
)

func newCatalog(t *testing.T) (*Catalog, *lexical.Index) {
	t.Helper()
	idx, err := lexical.Open(context.Background(), lexical.FileSnapshot{Path: filepath.Join(t.TempDir(), "legal.json")})
	if err != nil {
		t.Fatal(err)
	}
	return NewCatalog(idx, nil), idx
}

var donoghue = domain.LegalCase{
	ID: "1932-ac-562", Title: "Donoghue v Stevenson", Court: "House of Lords",
	Summary: "manufacturer owes a duty of care to the ultimate consumer", Citation: "[1932] AC 562",
}

func TestCaseRecordMatchText(t *testing.T) {
	r := CaseRecord(donoghue)
	if r.ID != "case:1932-ac-562" || r.SourceType != domain.SourceCase {
		t.Fatalf("record = %+v", r)
	}
	want := "Donoghue v Stevenson manufacturer owes a duty of care to the ultimate consumer [1932] AC 562"
	if r.MatchText() != want {
		t.Fatalf("match text = %q", r.MatchText())
	}
	if r.Metadata["court"] != "House of Lords" {
		t.Fatalf("metadata = %v", r.Metadata)
	}
	if _, ok := r.Metadata["jurisdiction"]; ok {
		t.Fatal("empty metadata kept")
	}
}

func TestStatuteRecordUsesSection(t *testing.T) {
	r := StatuteRecord(domain.LegalStatute{ID: "la-1980-2", Title: "Limitation Act 1980", SectionNumber: "s 2", Summary: "six year limit in tort"})
	if r.Citation != "s 2" || r.MatchText() != "Limitation Act 1980 six year limit in tort s 2" {
		t.Fatalf("record = %+v", r)
	}
}

func TestDocumentRecord(t *testing.T) {
	r := DocumentRecord(domain.Document{ID: "u1", Title: "Lease", Text: "tenant shall pay rent", Metadata: map[string]string{"user": "42"}})
	if r.Body != "Lease tenant shall pay rent" || r.Metadata["user"] != "42" || r.Metadata["external_id"] != "u1" {
		t.Fatalf("record = %+v", r)
	}
}

func TestCatalogDeduplicates(t *testing.T) {
	cat, idx := newCatalog(t)
	ctx := context.Background()

	n, err := cat.AddCases(ctx, []domain.LegalCase{donoghue, donoghue})
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	n, err = cat.AddCases(ctx, []domain.LegalCase{donoghue})
	if err != nil || n != 0 {
		t.Fatalf("re-add: n=%d err=%v", n, err)
	}
	if idx.Len() != 1 {
		t.Fatalf("len = %d", idx.Len())
	}

	// Same external id under a different source type is a different record.
	n, _ = cat.AddStatutes(ctx, []domain.LegalStatute{{ID: donoghue.ID, Title: "Some Act", Summary: "x"}})
	if n != 1 {
		t.Fatalf("statute n = %d", n)
	}
}

func TestCatalogConcurrentAddsOfSameCase(t *testing.T) {
	cat, idx := newCatalog(t)
	ctx := context.Background()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := cat.AddCases(ctx, []domain.LegalCase{donoghue})
			if err != nil {
				t.Error(err)
			}
			mu.Lock()
			added += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	if added != 1 || idx.Len() != 1 {
		t.Fatalf("added=%d len=%d", added, idx.Len())
	}
}

func TestCatalogSimilarFiltersByType(t *testing.T) {
	cat, _ := newCatalog(t)
	ctx := context.Background()
	_, _ = cat.AddCases(ctx, []domain.LegalCase{donoghue})
	_, _ = cat.AddStatutes(ctx, []domain.LegalStatute{{ID: "s1", Title: "Consumer duty of care", Summary: "manufacturer duty", SectionNumber: "s 4"}})
	_, _ = cat.AddDocuments(ctx, []domain.Document{{ID: "d1", Title: "Note", Text: "manufacturer duty of care consumer"}})

	q := "manufacturer duty of care consumer"
	for _, h := range cat.SimilarCases(q, 5) {
		if h.SourceType != domain.SourceCase {
			t.Fatalf("non-case hit %+v", h)
		}
	}
	for _, h := range cat.SimilarStatutes(q, 5) {
		if h.SourceType != domain.SourceStatute {
			t.Fatalf("non-statute hit %+v", h)
		}
	}
	all := cat.Similar(q, 5)
	if len(all) != 3 {
		t.Fatalf("all = %+v", all)
	}
	if all[0].ID != "document:d1" {
		t.Fatalf("closest = %s", all[0].ID)
	}
}

func TestCatalogRebuild(t *testing.T) {
	ctx := context.Background()
	c, idx := newCatalog(t)
	if _, err := c.AddCases(ctx, []domain.LegalCase{donoghue}); err != nil {
		t.Fatal(err)
	}

	statute := domain.LegalStatute{ID: "s1", Title: "Consumer Protection Act", SectionNumber: "s 2", Summary: "liability for defective products"}
	n, err := c.Rebuild(ctx, nil, []domain.LegalStatute{statute, statute}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || idx.Len() != 1 {
		t.Fatalf("rebuilt %d, index holds %d", n, idx.Len())
	}
	if _, err := idx.Get("case:1932-ac-562"); err == nil {
		t.Fatal("rebuild should drop previous records")
	}
}
