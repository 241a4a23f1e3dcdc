package store

// Metadata field names as persisted in record JSON.
const (
	FieldID            = "id"
	FieldFeedName      = "feed_name"
	FieldTitle         = "title"
	FieldURL           = "url"
	FieldAuthor        = "author"
	FieldPublished     = "published"
	FieldSummary       = "summary"
	FieldFetchedAt     = "fetched_at"
	FieldFilterScore   = "filter_score"
	FieldFilterReason  = "filter_reason"
	FieldInterestMatch = "interest_match"
	FieldArticleType   = "article_type"
)

// RelevanceFields are the fields added by the relevance stage. Removing all of
// them returns a record to the unscored state.
var RelevanceFields = []string{FieldFilterScore, FieldFilterReason, FieldInterestMatch, FieldArticleType}

// Article types assigned by the relevance stage.
const (
	TypeNews     = "news"
	TypeTutorial = "tutorial"
)

// Record is the typed view of one article's metadata.
type Record struct {
	ID        string `json:"id"`
	FeedName  string `json:"feed_name"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Author    string `json:"author"`
	Published string `json:"published"`
	Summary   string `json:"summary"`
	FetchedAt string `json:"fetched_at"`

	FilterScore   *float64 `json:"filter_score,omitempty"`
	FilterReason  string   `json:"filter_reason,omitempty"`
	InterestMatch []string `json:"interest_match,omitempty"`
	ArticleType   string   `json:"article_type,omitempty"`
}

// Scored reports whether the relevance stage has written a score.
func (r *Record) Scored() bool {
	return r.FilterScore != nil
}

// Score returns the filter score, or 0 when unscored.
func (r *Record) Score() float64 {
	if r.FilterScore == nil {
		return 0
	}
	return *r.FilterScore
}

// Patch is a partial record. Keys present in a patch overwrite the stored
// value; keys absent keep whatever was stored before.
type Patch map[string]any

// Entry pairs a record with the (feed, id) key it was loaded from.
type Entry struct {
	Feed   string
	ID     string
	Record *Record
}
