// Package domain defines the knowledge-base types shared by ingestion and
// retrieval, plus the validation gate applied to user queries.
package domain

// Role values used in dataset conversations.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a dataset conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record is a raw dataset sample.
type Record struct {
	Messages []Message `json:"messages"`
}

// QAPair is a question and its final answer extracted from a Record.
type QAPair struct {
	Question string
	Answer   string
}

// Metadata keys stored alongside every indexed record.
const (
	MetaQuestion         = "question"
	MetaAnswerPreview    = "answer_preview"
	MetaFullAnswerLength = "full_answer_length"
)

// KnowledgeRecord is the unit of indexed knowledge. Embedding is always
// computed from Question; Answer is the document returned to callers.
type KnowledgeRecord struct {
	ID        string
	Question  string
	Answer    string
	Metadata  map[string]any
	Embedding []float32
}

// QueryResult is a single ranked search hit.
type QueryResult struct {
	Question       string  `json:"question"`
	Answer         string  `json:"answer"`
	RelevanceScore float64 `json:"relevance_score"`
}

// SearchResponse is returned for every search. TotalFound always equals
// len(Results).
type SearchResponse struct {
	Query      string        `json:"query"`
	Results    []QueryResult `json:"results"`
	TotalFound int           `json:"total_found"`
}

// NewSearchResponse builds a response, keeping TotalFound in step with the
// result list and never encoding results as null.
func NewSearchResponse(query string, results []QueryResult) SearchResponse {
	if results == nil {
		results = []QueryResult{}
	}
	return SearchResponse{Query: query, Results: results, TotalFound: len(results)}
}
