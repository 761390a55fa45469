package selection

import (
	"testing"
	"time"

	"github.com/fruitsalade/projectfiles/internal/models"
)

func records() []models.FileRecord {
	return []models.FileRecord{
		{ID: "site", VirtualPath: "Plans/site.pdf", Kind: models.KindNormal},
		{ID: "east", VirtualPath: "Plans/Elevations/east.pdf", Kind: models.KindNormal},
		{ID: "west", VirtualPath: "Plans/Elevations/west.pdf", Kind: models.KindNormal},
		{ID: "keep", VirtualPath: "Plans/Empty/.keeper", Kind: models.KindSentinel},
		{ID: "other", VirtualPath: "Plansx/other.pdf", Kind: models.KindNormal},
		{ID: "gone", VirtualPath: "Plans/gone.pdf", Kind: models.KindNormal, IsDeleted: true},
	}
}

func TestExpandFolder(t *testing.T) {
	ids := ExpandFolder("Plans", records())
	want := map[string]bool{"site": true, "east": true, "west": true}
	if len(ids) != len(want) {
		t.Fatalf("ExpandFolder = %v, want %d ids", ids, len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected id %q", id)
		}
	}
}

func TestSelectFolderMatchesExpansion(t *testing.T) {
	recs := records()
	s := New()
	s.SelectFolder("Plans", recs)

	expanded := ExpandFolder("Plans", recs)
	got := s.FileIDs()
	if len(got) != len(expanded) {
		t.Fatalf("selected %v, expanded %v", got, expanded)
	}
	for _, id := range expanded {
		if !s.IsFileSelected(id) {
			t.Errorf("%q not selected", id)
		}
	}
	if st := s.FolderState("Plans", recs); st != Checked {
		t.Errorf("state = %s, want checked", st)
	}
	if st := s.FolderState("Plans/Elevations", recs); st != Checked {
		t.Errorf("subfolder state = %s, want checked", st)
	}
}

func TestDeselectDescendantMakesIndeterminate(t *testing.T) {
	recs := records()
	s := New()
	s.SelectFolder("Plans", recs)

	s.DeselectFile(recs[1]) // east

	if st := s.FolderState("Plans", recs); st != Indeterminate {
		t.Errorf("Plans state = %s, want indeterminate", st)
	}
	if st := s.FolderState("Plans/Elevations", recs); st != Indeterminate {
		t.Errorf("Elevations state = %s, want indeterminate", st)
	}
	// Plans is no longer whole; its empty subfolder still is.
	if paths := s.FolderPaths(recs); len(paths) != 1 || paths[0] != "Plans/Empty" {
		t.Errorf("FolderPaths = %v, want [Plans/Empty] after partial deselect", paths)
	}

	s.SelectFile("east")
	if st := s.FolderState("Plans/Elevations", recs); st != Checked {
		t.Errorf("state after reselect = %s, want checked", st)
	}
}

func TestFolderStateUnchecked(t *testing.T) {
	s := New()
	if st := s.FolderState("Plans", records()); st != Unchecked {
		t.Errorf("state = %s, want unchecked", st)
	}
}

func TestEmptyFolderState(t *testing.T) {
	recs := records()
	s := New()
	if st := s.FolderState("Plans/Empty", recs); st != Unchecked {
		t.Errorf("empty folder state = %s, want unchecked", st)
	}
	s.SelectFolder("Plans/Empty", recs)
	if st := s.FolderState("Plans/Empty", recs); st != Checked {
		t.Errorf("empty folder state after select = %s, want checked", st)
	}
	if s.Len() != 0 {
		t.Errorf("sentinel should not be selected, got %v", s.FileIDs())
	}
}

func TestSelectFolderChecksEmptySubfolders(t *testing.T) {
	recs := records()
	s := New()
	s.SelectFolder("Plans", recs)

	if st := s.FolderState("Plans/Empty", recs); st != Checked {
		t.Errorf("empty subfolder state = %s, want checked", st)
	}
	if paths := s.FolderPaths(recs); len(paths) != 1 || paths[0] != "Plans" {
		t.Errorf("FolderPaths = %v, want [Plans]", paths)
	}

	s.DeselectFolder("Plans", recs)
	if st := s.FolderState("Plans/Empty", recs); st != Unchecked {
		t.Errorf("empty subfolder state after deselect = %s, want unchecked", st)
	}
}

func TestDeselectFolder(t *testing.T) {
	recs := records()
	s := New()
	s.SelectFolder("Plans", recs)
	s.SelectFile("other")

	s.DeselectFolder("Plans/Elevations", recs)

	if s.IsFileSelected("east") || s.IsFileSelected("west") {
		t.Error("Elevations files should be deselected")
	}
	if !s.IsFileSelected("site") || !s.IsFileSelected("other") {
		t.Error("files outside Elevations should stay selected")
	}
	if st := s.FolderState("Plans", recs); st != Indeterminate {
		t.Errorf("Plans state = %s, want indeterminate", st)
	}
}

func TestFolderPathsSkipsNested(t *testing.T) {
	recs := records()
	s := New()
	s.SelectFolder("Plans/Elevations", recs)
	s.SelectFolder("Plans", recs)

	paths := s.FolderPaths(recs)
	if len(paths) != 1 || paths[0] != "Plans" {
		t.Errorf("FolderPaths = %v, want [Plans]", paths)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	h := r.Create("p1")

	if err := r.With(h, "p1", func(s *Selection) { s.SelectFile("a") }); err != nil {
		t.Fatalf("With: %v", err)
	}
	if err := r.With(h, "p2", func(*Selection) {}); err != ErrUnknownHandle {
		t.Errorf("cross-project access err = %v, want ErrUnknownHandle", err)
	}

	var n int
	r.With(h, "p1", func(s *Selection) { n = s.Len() })
	if n != 1 {
		t.Errorf("selection len = %d, want 1", n)
	}

	if removed := r.Expire(time.Hour); removed != 0 {
		t.Errorf("Expire removed %d fresh handles", removed)
	}
	r.Drop(h)
	if r.Len() != 0 {
		t.Errorf("Len after drop = %d", r.Len())
	}
	if err := r.With(h, "p1", func(*Selection) {}); err != ErrUnknownHandle {
		t.Errorf("dropped handle err = %v", err)
	}
}
