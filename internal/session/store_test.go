package session

import (
	"errors"
	"sync"
	"testing"
)

func addText(t *testing.T, store *Store, id, text, position string) string {
	t.Helper()
	pos, err := ParsePosition(position)
	if err != nil {
		t.Fatalf("ParsePosition(%q) error = %v", position, err)
	}
	guid, err := store.AddFragment(id, "g", Fragment{
		FragmentID: "paragraph",
		Parameters: map[string]any{"text": text},
	}, pos)
	if err != nil {
		t.Fatalf("AddFragment(%q) error = %v", text, err)
	}
	return guid
}

func ledgerTexts(t *testing.T, store *Store, id string) []string {
	t.Helper()
	fragments, err := store.Fragments(id, "g")
	if err != nil {
		t.Fatalf("Fragments() error = %v", err)
	}
	texts := make([]string, 0, len(fragments))
	for _, frag := range fragments {
		texts = append(texts, frag.Parameters["text"].(string))
	}
	return texts
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ledger length = %d, want %d (%v vs %v)", len(got), len(want), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ledger order = %v, want %v", got, want)
		}
	}
}

func TestAppendPreservesArrivalOrder(t *testing.T) {
	store := NewStore()
	info, err := store.Create("report", "", "g")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	addText(t, store, info.ID, "a", "")
	addText(t, store, info.ID, "b", "end")
	addText(t, store, info.ID, "c", "")

	assertOrder(t, ledgerTexts(t, store, info.ID), []string{"a", "b", "c"})
}

func TestPositionalInsertion(t *testing.T) {
	store := NewStore()
	info, err := store.Create("report", "", "g")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	guidA := addText(t, store, info.ID, "A", "")
	addText(t, store, info.ID, "B", "")

	// [A, B] + C after A -> [A, C, B]
	addText(t, store, info.ID, "C", "after:"+guidA)
	assertOrder(t, ledgerTexts(t, store, info.ID), []string{"A", "C", "B"})

	// + D before A -> [D, A, C, B]
	addText(t, store, info.ID, "D", "before:"+guidA)
	assertOrder(t, ledgerTexts(t, store, info.ID), []string{"D", "A", "C", "B"})

	// + E at start -> [E, D, A, C, B]
	addText(t, store, info.ID, "E", "start")
	assertOrder(t, ledgerTexts(t, store, info.ID), []string{"E", "D", "A", "C", "B"})
}

func TestPositionalInsertUnknownReference(t *testing.T) {
	store := NewStore()
	info, err := store.Create("report", "", "g")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	addText(t, store, info.ID, "A", "")

	pos, err := ParsePosition("after:00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("ParsePosition() error = %v", err)
	}
	_, err = store.AddFragment(info.ID, "g", Fragment{FragmentID: "paragraph"}, pos)
	if !errors.Is(err, ErrFragmentNotFound) {
		t.Fatalf("expected ErrFragmentNotFound, got %v", err)
	}

	// Failed insert must not mutate the ledger.
	assertOrder(t, ledgerTexts(t, store, info.ID), []string{"A"})
}

func TestRemovePreservesRelativeOrder(t *testing.T) {
	store := NewStore()
	info, err := store.Create("report", "", "g")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	addText(t, store, info.ID, "A", "")
	guidB := addText(t, store, info.ID, "B", "")
	addText(t, store, info.ID, "C", "")

	if err := store.RemoveFragment(info.ID, "g", guidB); err != nil {
		t.Fatalf("RemoveFragment() error = %v", err)
	}
	assertOrder(t, ledgerTexts(t, store, info.ID), []string{"A", "C"})

	if err := store.RemoveFragment(info.ID, "g", guidB); !errors.Is(err, ErrFragmentNotFound) {
		t.Fatalf("expected ErrFragmentNotFound for removed guid, got %v", err)
	}
	assertOrder(t, ledgerTexts(t, store, info.ID), []string{"A", "C"})
}

func TestParsePosition(t *testing.T) {
	tests := []struct {
		raw     string
		kind    PositionKind
		ref     string
		wantErr bool
	}{
		{raw: "", kind: PositionEnd},
		{raw: "end", kind: PositionEnd},
		{raw: "start", kind: PositionStart},
		{raw: "before:abc", kind: PositionBefore, ref: "abc"},
		{raw: "after:abc", kind: PositionAfter, ref: "abc"},
		{raw: "before:", wantErr: true},
		{raw: "after:", wantErr: true},
		{raw: "middle", wantErr: true},
	}
	for _, tt := range tests {
		pos, err := ParsePosition(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePosition(%q) expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePosition(%q) error = %v", tt.raw, err)
			continue
		}
		if pos.Kind != tt.kind || pos.Ref != tt.ref {
			t.Errorf("ParsePosition(%q) = %+v", tt.raw, pos)
		}
	}
}

func TestSetGlobalsMergesLastWriteWins(t *testing.T) {
	store := NewStore()
	info, err := store.Create("report", "", "g")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.SetGlobals(info.ID, "g", map[string]any{"title": "First", "author": "Avery"}); err != nil {
		t.Fatalf("SetGlobals() error = %v", err)
	}
	if err := store.SetGlobals(info.ID, "g", map[string]any{"title": "Second"}); err != nil {
		t.Fatalf("SetGlobals() error = %v", err)
	}

	snapshot, err := store.Snapshot(info.ID, "g")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snapshot.Globals["title"] != "Second" {
		t.Errorf("title = %v, want Second", snapshot.Globals["title"])
	}
	if snapshot.Globals["author"] != "Avery" {
		t.Errorf("author = %v, want Avery (non-overlapping key must survive)", snapshot.Globals["author"])
	}
}

func TestAliasResolutionAndConflict(t *testing.T) {
	store := NewStore()
	info, err := store.Create("report", "draft", "g")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	resolved, err := store.Resolve("draft", "g")
	if err != nil {
		t.Fatalf("Resolve(alias) error = %v", err)
	}
	if resolved.ID != info.ID {
		t.Errorf("alias resolved to %s, want %s", resolved.ID, info.ID)
	}

	if _, err := store.Create("report", "draft", "g"); !errors.Is(err, ErrAliasConflict) {
		t.Fatalf("expected ErrAliasConflict, got %v", err)
	}

	// Same alias in a different group is fine.
	if _, err := store.Create("report", "draft", "other"); err != nil {
		t.Fatalf("Create() in other group error = %v", err)
	}

	// Another group cannot resolve this group's session by ID or alias.
	if _, err := store.Resolve(info.ID, "other-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-group ID resolve, got %v", err)
	}
}

func TestAbortIsTerminal(t *testing.T) {
	store := NewStore()
	info, err := store.Create("report", "draft", "g")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	addText(t, store, info.ID, "A", "")

	if err := store.Abort(info.ID, "g"); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if err := store.Abort(info.ID, "g"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Abort() = %v, want ErrNotFound", err)
	}
	if _, err := store.Resolve(info.ID, "g"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() after abort = %v, want ErrNotFound", err)
	}
	if _, err := store.Fragments(info.ID, "g"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Fragments() after abort = %v, want ErrNotFound", err)
	}

	// Abort releases the alias for recreation.
	if _, err := store.Create("report", "draft", "g"); err != nil {
		t.Fatalf("Create() after abort error = %v", err)
	}
}

func TestConcurrentAddsLoseNoUpdates(t *testing.T) {
	store := NewStore()
	info, err := store.Create("report", "", "g")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	errCh := make(chan error, writers*perWriter)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := store.AddFragment(info.ID, "g", Fragment{
					FragmentID: "paragraph",
					Parameters: map[string]any{"text": "x"},
				}, Position{Kind: PositionEnd})
				if err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent AddFragment() error = %v", err)
	}

	fragments, err := store.Fragments(info.ID, "g")
	if err != nil {
		t.Fatalf("Fragments() error = %v", err)
	}
	if len(fragments) != writers*perWriter {
		t.Fatalf("ledger has %d fragments, want %d (lost update)", len(fragments), writers*perWriter)
	}

	seen := make(map[string]struct{}, len(fragments))
	for _, frag := range fragments {
		if _, dup := seen[frag.GUID]; dup {
			t.Fatalf("duplicate fragment GUID %s", frag.GUID)
		}
		seen[frag.GUID] = struct{}{}
	}
}
