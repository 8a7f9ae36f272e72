package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/medknowledge/engine/domain"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ExtractQAPair takes the first non-empty user turn as the question and the
// first non-empty assistant turn as the answer. Reasoning wrapped in
// <think>...</think> is dropped: the answer is whatever follows the last
// closing marker. An unterminated <think> block is kept verbatim.
func ExtractQAPair(rec domain.Record) (domain.QAPair, bool) {
	var pair domain.QAPair
	for _, m := range rec.Messages {
		switch m.Role {
		case domain.RoleUser:
			if pair.Question == "" {
				pair.Question = m.Content
			}
		case domain.RoleAssistant:
			if pair.Answer == "" {
				pair.Answer = finalAnswer(m.Content)
			}
		}
	}
	if pair.Question == "" || pair.Answer == "" {
		return domain.QAPair{}, false
	}
	return pair, true
}

func finalAnswer(content string) string {
	if !strings.Contains(content, thinkOpen) {
		return content
	}
	i := strings.LastIndex(content, thinkClose)
	if i < 0 {
		return content
	}
	return strings.TrimSpace(content[i+len(thinkClose):])
}

// Accept reports whether pair passes the quality filter.
func Accept(pair domain.QAPair) bool {
	return pair.Question != "" && pair.Answer != "" &&
		utf8.RuneCountInString(pair.Question) > MinQuestionRunes
}

// RecordID returns the identifier of the n-th accepted record.
func RecordID(n int) string { return fmt.Sprintf("med_%d", n) }

// NewKnowledgeRecord builds the indexed form of the n-th accepted pair.
func NewKnowledgeRecord(n int, pair domain.QAPair) domain.KnowledgeRecord {
	return domain.KnowledgeRecord{
		ID:       RecordID(n),
		Question: pair.Question,
		Answer:   pair.Answer,
		Metadata: map[string]any{
			domain.MetaQuestion:         truncateRunes(pair.Question, metaQuestionRunes),
			domain.MetaAnswerPreview:    truncateRunes(pair.Answer, metaPreviewRunes),
			domain.MetaFullAnswerLength: utf8.RuneCountInString(pair.Answer),
		},
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
