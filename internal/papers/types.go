package papers

// WorkItem is a single downloadable paper reference from a target's listing.
type WorkItem struct {
	ID    string `json:"id"`
	Year  int    `json:"year"`
	Title string `json:"title"`
}

// YearCounts maps a year to the number of listed papers for that year.
type YearCounts map[int]int

// CountByYear rebuilds the per-year counts of a listing.
func CountByYear(items []WorkItem) YearCounts {
	counts := YearCounts{}
	for _, item := range items {
		counts[item.Year]++
	}
	return counts
}

type Question struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	// CorrectOption is the answer key's value as sent upstream, usually a 1-based
	// option index. It is empty when the answer key has no entry for the question.
	CorrectOption string `json:"correct_option"`
	// CorrectAnswer is set only when it was requested and CorrectOption resolves
	// to one of Options.
	CorrectAnswer *string `json:"correct_answer,omitempty"`
}

type CleanedPaper struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}
