package naming

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		artist   string
		track    string
		album    string
		expected string
	}{
		{"Artist and track", "Daft Punk", "One More Time", "", "Daft Punk - One More Time"},
		{"With album", "Daft Punk", "One More Time", "Discovery", "Daft Punk - One More Time (Discovery)"},
		{"Duplicate markers stripped", "Daft Punk (copy)", "One More Time (2)", "", "Daft Punk - One More Time"},
		{"Unsafe characters", "AC/DC", "What?", "", "AC_DC - What_"},
		{"Empty artist", "", "Intro", "", UnknownArtist + " - Intro"},
		{"Empty track", "Someone", "", "", "Someone - " + UnknownTrack},
		{"Whitespace collapsed", "  The   Band ", "Song\tName", "", "The Band - Song Name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Format(tt.artist, tt.track, tt.album)
			if result != tt.expected {
				t.Errorf("Format() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestFormat_Idempotent(t *testing.T) {
	inputs := [][3]string{
		{"Daft Punk", "One More Time", "Discovery"},
		{"Björk", "Jóga", ""},
		{"A", "B", "C"},
	}
	for _, in := range inputs {
		once := Format(in[0], in[1], in[2])
		twice := Format(CleanComponent(in[0]), CleanComponent(in[1]), CleanComponent(in[2]))
		if once != twice {
			t.Errorf("Format not idempotent: %q vs %q", once, twice)
		}
	}
}

func TestStripDuplicateMarkers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Nested markers converge", "Song (copy) (2) (dup)", "Song"},
		{"Case insensitive", "Song (COPY)", "Song"},
		{"Embedded marker", "Song (dup) Remix", "Song Remix"},
		{"Bracket markers", "Song [copy] [3]", "Song"},
		{"No markers", "Song (Live)", "Song (Live)"},
		{"Only markers", "(copy)", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := StripDuplicateMarkers(tt.input)
			if result != tt.expected {
				t.Errorf("StripDuplicateMarkers() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestCleanComponent_FallsBackToOriginal(t *testing.T) {
	if got := CleanComponent("(copy)"); got != "(copy)" {
		t.Errorf("CleanComponent() = %q, want original value", got)
	}
	if got := CleanComponent("   "); got != "" {
		t.Errorf("CleanComponent() of blank = %q, want empty", got)
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize(` <Artist>: "Name" `); got != `_Artist__ _Name_` {
		t.Errorf("Sanitize() = %q", got)
	}

	for _, keep := range []string{"-M-", "_Intro_"} {
		if got := Sanitize(keep); got != keep {
			t.Errorf("Sanitize(%q) = %q, want it unchanged", keep, got)
		}
	}

	long := strings.Repeat("é", 150)
	got := Sanitize(long)
	if utf8.RuneCountInString(got) != MaxFieldLength {
		t.Errorf("Sanitize() length = %d runes, want %d", utf8.RuneCountInString(got), MaxFieldLength)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Sanitize() = %q, want ellipsis suffix", got)
	}
}

func TestSanitizeFolder(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Chill Mix", "Chill Mix"},
		{"a/b:c", "a_b_c"},
		{"Trailing...", "Trailing"},
		{"   ", "playlist"},
	}
	for _, tt := range tests {
		if got := SanitizeFolder(tt.input); got != tt.expected {
			t.Errorf("SanitizeFolder(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("A - B", "dQw4w9WgXcQ", ".MP3"); got != "A - B [dQw4w9WgXcQ].mp3" {
		t.Errorf("FileName() = %q", got)
	}
	if got := FileName("A - B", "", ".m4a"); got != "A - B.m4a" {
		t.Errorf("FileName() = %q", got)
	}
}
