package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/WessleyAI/medknowledge/engine/domain"
)

func conv(msgs ...string) domain.Record {
	var rec domain.Record
	for i := 0; i+1 < len(msgs); i += 2 {
		rec.Messages = append(rec.Messages, domain.Message{Role: msgs[i], Content: msgs[i+1]})
	}
	return rec
}

func TestExtractQAPair(t *testing.T) {
	const u, a, s = domain.RoleUser, domain.RoleAssistant, "system"
	tests := []struct {
		name   string
		rec    domain.Record
		wantQ  string
		wantA  string
		wantOK bool
	}{
		{"plain", conv(u, "q", a, "ans"), "q", "ans", true},
		{"think closed", conv(u, "q", a, "<think>reasoning</think>\n  final  "), "q", "final", true},
		{"last close wins", conv(u, "q", a, "<think>a</think>mid</think> end"), "q", "end", true},
		{"think unclosed", conv(u, "q", a, "<think>still thinking"), "q", "<think>still thinking", true},
		{"close without open", conv(u, "q", a, "x</think>y"), "q", "x</think>y", true},
		{"system ignored", conv(s, "sys", u, "q", a, "ans"), "q", "ans", true},
		{"first user wins", conv(u, "q1", a, "a1", u, "q2", a, "a2"), "q1", "a1", true},
		{"empty turn skipped", conv(u, "", u, "q2", a, "", a, "a2"), "q2", "a2", true},
		{"empty after think", conv(u, "q", a, "<think>x</think>   ", a, "second"), "q", "second", true},
		{"missing assistant", conv(u, "q"), "", "", false},
		{"missing user", conv(a, "ans"), "", "", false},
		{"no messages", domain.Record{}, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, ok := ExtractQAPair(tt.rec)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if pair.Question != tt.wantQ || pair.Answer != tt.wantA {
				t.Fatalf("got %+v, want {%q %q}", pair, tt.wantQ, tt.wantA)
			}
		})
	}
}

func TestAccept(t *testing.T) {
	tests := []struct {
		name string
		pair domain.QAPair
		want bool
	}{
		{"20 runes", domain.QAPair{Question: strings.Repeat("x", 20), Answer: "a"}, false},
		{"21 runes", domain.QAPair{Question: strings.Repeat("x", 21), Answer: "a"}, true},
		{"multibyte counted as runes", domain.QAPair{Question: strings.Repeat("é", 20), Answer: "a"}, false},
		{"empty answer", domain.QAPair{Question: strings.Repeat("x", 30)}, false},
		{"empty question", domain.QAPair{Answer: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accept(tt.pair); got != tt.want {
				t.Fatalf("Accept = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewKnowledgeRecord(t *testing.T) {
	q := strings.Repeat("é", 600)
	ans := strings.Repeat("ü", 1500)
	rec := NewKnowledgeRecord(7, domain.QAPair{Question: q, Answer: ans})

	if rec.ID != "med_7" {
		t.Fatalf("unexpected id %s", rec.ID)
	}
	if rec.Question != q || rec.Answer != ans {
		t.Fatal("question and answer must be kept whole")
	}
	if n := utf8.RuneCountInString(rec.Metadata[domain.MetaQuestion].(string)); n != 500 {
		t.Fatalf("metadata question has %d runes, want 500", n)
	}
	if n := utf8.RuneCountInString(rec.Metadata[domain.MetaAnswerPreview].(string)); n != 1000 {
		t.Fatalf("answer preview has %d runes, want 1000", n)
	}
	if got := rec.Metadata[domain.MetaFullAnswerLength].(int); got != 1500 {
		t.Fatalf("full_answer_length = %d, want 1500", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if truncateRunes("short", 10) != "short" {
		t.Fatal("short string should be unchanged")
	}
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Fatalf("got %q", got)
	}
	if truncateRunes("abc", 0) != "" {
		t.Fatal("zero width should be empty")
	}
}
