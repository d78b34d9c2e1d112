package moderation

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testLists() *WordLists {
	return &WordLists{
		Taboo:   []string{"drug", "scam"},
		Warning: []string{"knife", "drugstore"},
	}
}

func TestCheck_Classification(t *testing.T) {
	c := NewChecker(testLists(), nil, "a-1", "alex", "r-1", "room")

	tests := []struct {
		name     string
		input    string
		decision Decision
		word     string
	}{
		{"taboo match", "I have a drug", DecisionTaboo, "drug"},
		{"warning match", "bring a knife", DecisionWarning, "knife"},
		{"safe", "hello there", DecisionSafe, ""},
		{"taboo case insensitive", "DRUG deal", DecisionTaboo, "drug"},
		{"taboo full width", "ｄｒｕｇ", DecisionTaboo, "drug"},
		{"taboo inside word", "drugs are bad", DecisionTaboo, "drug"},
		{"taboo wins over warning", "drugstore", DecisionTaboo, "drug"},
		{"empty text", "", DecisionSafe, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Check(tt.input, "m-1")
			if result.Decision != tt.decision {
				t.Errorf("Check(%q).Decision = %v, want %v", tt.input, result.Decision, tt.decision)
			}
			if result.MatchedWord != tt.word {
				t.Errorf("Check(%q).MatchedWord = %q, want %q", tt.input, result.MatchedWord, tt.word)
			}
		})
	}
}

func TestCheck_ListOrderFirstMatchWins(t *testing.T) {
	lists := &WordLists{
		Taboo:   []string{"alpha", "beta"},
		Warning: []string{"unused"},
	}
	c := NewChecker(lists, nil, "a-1", "", "r-1", "")

	// Both terms are present; the earlier list entry must be reported.
	result := c.Check("beta then alpha", "m-1")
	if result.MatchedWord != "alpha" {
		t.Errorf("MatchedWord = %q, want %q (list order)", result.MatchedWord, "alpha")
	}
}

func TestCheck_Deterministic(t *testing.T) {
	c := NewChecker(testLists(), nil, "a-1", "", "r-1", "")
	for i := 0; i < 10; i++ {
		if got := c.Check("I have a drug", "m-1").Decision; got != DecisionTaboo {
			t.Fatalf("run %d: got %v, want taboo", i, got)
		}
	}
}

// captureSink records alerts for assertions.
type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *captureSink) SendModerationAlert(alert Alert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()
}

func TestCheck_AlertsCarrySenderAndRoomContext(t *testing.T) {
	sink := &captureSink{}
	c := NewChecker(testLists(), sink, "a-42", "sam", "r-7", "quiet corner")

	c.Check("totally safe", "m-0")
	if len(sink.alerts) != 0 {
		t.Fatalf("safe text raised %d alerts", len(sink.alerts))
	}

	c.Check("bring a knife", "m-1")
	c.Check("buy my drug", "m-2")

	if len(sink.alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(sink.alerts))
	}

	warning := sink.alerts[0]
	if warning.Decision != DecisionWarning || warning.MatchedWord != "knife" {
		t.Errorf("warning alert: %+v", warning)
	}
	if warning.SenderID != "a-42" || warning.RoomID != "r-7" || warning.RoomName != "quiet corner" {
		t.Errorf("warning alert context: %+v", warning)
	}
	if warning.Text != "bring a knife" {
		t.Errorf("alert must carry the original text, got %q", warning.Text)
	}

	taboo := sink.alerts[1]
	if taboo.Decision != DecisionTaboo || taboo.MessageID != "m-2" {
		t.Errorf("taboo alert: %+v", taboo)
	}
}

func TestCheckRoomName(t *testing.T) {
	sink := &captureSink{}
	c := NewChecker(testLists(), sink, "a-1", "sam", "", "")

	if got := c.CheckRoomName("knitting circle"); got.Decision != DecisionSafe {
		t.Errorf("clean name classified %v", got.Decision)
	}
	if got := c.CheckRoomName("drug den"); got.Decision != DecisionTaboo {
		t.Errorf("taboo name classified %v", got.Decision)
	}
	if len(sink.alerts) != 1 || !sink.alerts[0].IsRoomName {
		t.Fatalf("expected one room-name alert, got %+v", sink.alerts)
	}
}

// ---------------------------------------------------------------------------
// Word-list loading
// ---------------------------------------------------------------------------

func writeWordList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "words.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWordLists(t *testing.T) {
	path := writeWordList(t, "taboo,drug,scam\nwarning,knife\n")

	lists, err := LoadWordLists(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lists.Taboo) != 2 || lists.Taboo[0] != "drug" || lists.Taboo[1] != "scam" {
		t.Errorf("taboo list: %v", lists.Taboo)
	}
	if len(lists.Warning) != 1 || lists.Warning[0] != "knife" {
		t.Errorf("warning list: %v", lists.Warning)
	}
}

func TestLoadWordLists_MissingCategory(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing taboo", "warning,knife\n"},
		{"missing warning", "taboo,drug\n"},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeWordList(t, tt.content)
			if _, err := LoadWordLists(path); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestLoadWordLists_NormalizesEntries(t *testing.T) {
	// Full-width and upper-case entries in the source must still match
	// half-width lower-case input.
	path := writeWordList(t, "taboo,ＤＲＵＧ\nwarning,Knife\n")

	lists, err := LoadWordLists(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := NewChecker(lists, nil, "a-1", "", "r-1", "")
	if got := c.Check("drug", "m-1").Decision; got != DecisionTaboo {
		t.Errorf("normalized taboo entry did not match: %v", got)
	}
	if got := c.Check("knife", "m-1").Decision; got != DecisionWarning {
		t.Errorf("normalized warning entry did not match: %v", got)
	}
}

func TestLoadWordLists_FileMissing(t *testing.T) {
	if _, err := LoadWordLists(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello", "hello"},
		{"ＤＲＵＧ", "drug"},
		{"ｈｅｌｌｏ１２３", "hello123"},
		{"already plain", "already plain"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
