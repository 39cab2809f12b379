package vectorstore

// Document is a stored text with its metadata.
type Document struct {
	// ID is the caller-supplied unique identifier.
	ID string `json:"id"`

	// Text is the document content that was embedded.
	Text string `json:"text"`

	// Metadata holds flat string pairs used for exact-match filtering.
	Metadata map[string]string `json:"metadata"`
}

// Where restricts a query to documents whose metadata has every key with
// exactly the given value.
type Where map[string]string

// QueryRequest describes a similarity query.
type QueryRequest struct {
	// Texts are embedded and searched independently.
	Texts []string

	// Where is an optional exact-match metadata filter.
	Where Where

	// NResults is the maximum number of matches per query text.
	NResults int
}

// QueryResult holds matches as parallel lists indexed [query][rank].
type QueryResult struct {
	IDs       [][]string            `json:"ids"`
	Documents [][]string            `json:"documents"`
	Metadatas [][]map[string]string `json:"metadatas"`
	Distances [][]float64           `json:"distances"`
}

// Match is one ranked result.
type Match struct {
	Document
	Distance float64 `json:"distance"`
}

// newQueryResult allocates one empty row per query text.
func newQueryResult(queries int) *QueryResult {
	r := &QueryResult{
		IDs:       make([][]string, queries),
		Documents: make([][]string, queries),
		Metadatas: make([][]map[string]string, queries),
		Distances: make([][]float64, queries),
	}
	for i := 0; i < queries; i++ {
		r.IDs[i] = []string{}
		r.Documents[i] = []string{}
		r.Metadatas[i] = []map[string]string{}
		r.Distances[i] = []float64{}
	}
	return r
}

// setRow stores the matches for query i.
func (r *QueryResult) setRow(i int, matches []Match) {
	ids := make([]string, len(matches))
	docs := make([]string, len(matches))
	metas := make([]map[string]string, len(matches))
	dists := make([]float64, len(matches))
	for j, m := range matches {
		ids[j] = m.ID
		docs[j] = m.Text
		metas[j] = m.Metadata
		dists[j] = m.Distance
	}
	r.IDs[i], r.Documents[i], r.Metadatas[i], r.Distances[i] = ids, docs, metas, dists
}

// Len returns the number of query rows.
func (r *QueryResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}

// Matches returns the ranked matches for query i, or nil if i is out of range.
func (r *QueryResult) Matches(i int) []Match {
	if i < 0 || i >= r.Len() {
		return nil
	}
	out := make([]Match, len(r.IDs[i]))
	for j := range r.IDs[i] {
		out[j] = Match{
			Document: Document{
				ID:       r.IDs[i][j],
				Text:     r.Documents[i][j],
				Metadata: r.Metadatas[i][j],
			},
			Distance: r.Distances[i][j],
		}
	}
	return out
}

// Texts returns the document texts of matches in rank order.
func Texts(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Text
	}
	return out
}
