package papers

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const samplePaper = `{
	"data": {
		"title": "SSC CGL 2021 Tier 1",
		"sections": [
			{"questions": [
				{"_id": "q1", "en": {"value": "<p>Capital of <b>France</b>?</p>", "options": [
					{"value": "Berlin"}, {"value": "<span>Paris</span>"}, {"value": "Rome"}
				]}},
				{"_id": "q2", "en": {"value": "2 &amp; 2", "options": [{"value": "3"}, {"value": "4"}]}}
			]},
			{"questions": [
				{"_id": "q3", "en": {"value": "<img src=\"x.png\">", "options": []}}
			]}
		]
	}
}`

func answersFor(correct map[string]string) []byte {
	out := `{"data": {`
	first := true
	for id, value := range correct {
		if !first {
			out += ","
		}
		first = false
		out += `"` + id + `": {"correctOption": "` + value + `"}`
	}
	return []byte(out + `}}`)
}

func strptr(s string) *string {
	return &s
}

func TestMergeOrderAndText(t *testing.T) {
	cleaned, err := Merge([]byte(samplePaper), nil, true)
	require.NoError(t, err)

	expected := CleanedPaper{
		Title: "SSC CGL 2021 Tier 1",
		Questions: []Question{
			{ID: "q1", Question: "Capital of France?", Options: []string{"Berlin", "Paris", "Rome"}},
			{ID: "q2", Question: "2 & 2", Options: []string{"3", "4"}},
			{ID: "q3", Question: "", Options: []string{}},
		},
	}
	if diff := cmp.Diff(expected, cleaned); diff != "" {
		t.Fatalf("unexpected cleaned paper (-want +got):\n%s", diff)
	}
}

func TestMergeCorrectAnswer(t *testing.T) {
	paper := []byte(`{"data": {"title": "t", "sections": [{"questions": [
		{"_id": "q1", "en": {"value": "pick", "options": [{"value": "A"}, {"value": "B"}, {"value": "C"}]}}
	]}]}}`)

	table := []struct {
		name          string
		correctOption string
		include       bool
		expected      *string
	}{
		{name: "in range", correctOption: "2", include: true, expected: strptr("B")},
		{name: "padded", correctOption: " 3 ", include: true, expected: strptr("C")},
		{name: "out of range", correctOption: "5", include: true},
		{name: "zero", correctOption: "0", include: true},
		{name: "empty", correctOption: "", include: true},
		{name: "not a number", correctOption: "B", include: true},
		{name: "not requested", correctOption: "2", include: false},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			cleaned, err := Merge(paper, answersFor(map[string]string{"q1": row.correctOption}), row.include)
			require.NoError(t, err)
			require.Len(t, cleaned.Questions, 1)

			q := cleaned.Questions[0]
			require.Equal(t, row.correctOption, q.CorrectOption)
			require.Equal(t, row.expected, q.CorrectAnswer)
		})
	}
}

func TestMergeNumericCorrectOption(t *testing.T) {
	paper := []byte(`{"data": {"sections": [{"questions": [
		{"_id": "q1", "en": {"value": "pick", "options": [{"value": "A"}, {"value": "B"}]}}
	]}]}}`)
	answers := []byte(`{"data": {"q1": {"correctOption": 1}}}`)

	cleaned, err := Merge(paper, answers, true)
	require.NoError(t, err)
	require.Equal(t, unknownTitle, cleaned.Title)
	require.Equal(t, "1", cleaned.Questions[0].CorrectOption)
	require.Equal(t, strptr("A"), cleaned.Questions[0].CorrectAnswer)
}

func TestMergeMissingAnswerEntry(t *testing.T) {
	cleaned, err := Merge([]byte(samplePaper), answersFor(map[string]string{"q2": "2"}), true)
	require.NoError(t, err)

	require.Equal(t, "", cleaned.Questions[0].CorrectOption)
	require.Nil(t, cleaned.Questions[0].CorrectAnswer)
	require.Equal(t, strptr("4"), cleaned.Questions[1].CorrectAnswer)
}

func TestMergeRejectsUnexpectedShape(t *testing.T) {
	table := []string{
		`not json`,
		`{"nodata": true}`,
		`{"data": {"sections": "nope"}}`,
		`[]`,
	}
	for _, paper := range table {
		_, err := Merge([]byte(paper), nil, false)
		var parseErr *ParseError
		require.True(t, errors.As(err, &parseErr), "expected ParseError for %s, got %v", paper, err)
	}
}

func TestCountByYear(t *testing.T) {
	counts := CountByYear([]WorkItem{
		{ID: "a", Year: 2020},
		{ID: "b", Year: 2021},
		{ID: "c", Year: 2021},
	})
	require.Equal(t, YearCounts{2020: 1, 2021: 2}, counts)
}

func TestRawQuestions(t *testing.T) {
	raw, err := RawQuestions([]byte(samplePaper))
	require.NoError(t, err)
	require.Len(t, raw, 3)
	require.Equal(t, `<img src="x.png">`, raw["q3"].Value)
	require.Equal(t, []string{"Berlin", "<span>Paris</span>", "Rome"}, raw["q1"].Options)

	_, err = RawQuestions([]byte(`{}`))
	require.Error(t, err)
}
