package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{"plain", "fall seminar", "fall seminar", nil},
		{"trims whitespace", "  fall seminar \n", "fall seminar", nil},
		{"preserves casing", "Fall Seminar", "Fall Seminar", nil},
		{"empty", "", "", ErrEmptyQuery},
		{"whitespace only", "   \t", "", ErrEmptyQuery},
		{"too long", strings.Repeat("a", MaxQueryChars+1), "", ErrQueryTooLong},
		{"exactly max", strings.Repeat("a", MaxQueryChars), strings.Repeat("a", MaxQueryChars), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateQuery(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("want ValidationError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateCollection(t *testing.T) {
	c, err := ValidateCollection(" Events ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != CollectionEvents {
		t.Errorf("got %q", c)
	}

	if _, err := ValidateCollection("payments"); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("want ErrUnknownCollection, got %v", err)
	}
}

func TestTransient(t *testing.T) {
	base := errors.New("boom")
	err := Transient("embed", base)
	if !IsTransient(err) {
		t.Error("want transient")
	}
	if !errors.Is(err, base) {
		t.Error("should unwrap to base")
	}
	if IsTransient(base) {
		t.Error("bare error must not be transient")
	}
}

func TestEntityFingerprintTracksUpdatedAt(t *testing.T) {
	ts := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	e := Event{ID: "ev-1", Title: "Fall Seminar", UpdatedAt: ts}
	fp1 := e.Fingerprint()
	e.UpdatedAt = ts.Add(time.Second)
	if e.Fingerprint() == fp1 {
		t.Error("fingerprint must change when UpdatedAt changes")
	}

	entities := []Entity{
		Event{ID: "1"}, Article{ID: "1"}, Profile{ID: "1"}, MediaItem{ID: "1"},
	}
	wantCols := []Collection{CollectionEvents, CollectionArticles, CollectionProfiles, CollectionMedia}
	for i, ent := range entities {
		if ent.EntityCollection() != wantCols[i] {
			t.Errorf("entity %d: collection %q, want %q", i, ent.EntityCollection(), wantCols[i])
		}
	}
}
