package papers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pyqfetch/lib/htmlutil"
)

const unknownTitle = "Unknown"

// ParseError means a payload could not be decoded into the shape the merger expects.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Payload, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// looseString accepts a JSON string, number or boolean and keeps its text.
// null decodes to the empty string.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = looseString(str)
		return nil
	}
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return fmt.Errorf("expected a scalar, got %s", data)
	}
	*s = looseString(data)
	return nil
}

type optionPayload struct {
	Value string `json:"value"`
}

type questionPayload struct {
	ID string `json:"_id"`
	En struct {
		Value   string          `json:"value"`
		Options []optionPayload `json:"options"`
	} `json:"en"`
}

type sectionPayload struct {
	Questions []questionPayload `json:"questions"`
}

type paperPayload struct {
	Data *struct {
		Title    *string          `json:"title"`
		Sections []sectionPayload `json:"sections"`
	} `json:"data"`
}

type answerEntry struct {
	CorrectOption looseString `json:"correctOption"`
}

type answersPayload struct {
	Data map[string]answerEntry `json:"data"`
}

// Merge joins a paper payload with its answer key into a CleanedPaper. Questions
// keep the section-then-question order of the paper. A nil or empty answers
// payload leaves every CorrectOption empty.
func Merge(paper, answers []byte, includeCorrectAnswer bool) (CleanedPaper, error) {
	var p paperPayload
	err := json.Unmarshal(paper, &p)
	if err != nil {
		return CleanedPaper{}, &ParseError{Payload: "paper", Err: err}
	}
	if p.Data == nil {
		return CleanedPaper{}, &ParseError{Payload: "paper", Err: fmt.Errorf("missing data object")}
	}

	key := map[string]answerEntry{}
	if len(bytes.TrimSpace(answers)) > 0 {
		var a answersPayload
		err = json.Unmarshal(answers, &a)
		if err != nil {
			return CleanedPaper{}, &ParseError{Payload: "answers", Err: err}
		}
		if a.Data != nil {
			key = a.Data
		}
	}

	title := unknownTitle
	if p.Data.Title != nil {
		title = *p.Data.Title
	}

	questions := []Question{}
	for _, section := range p.Data.Sections {
		for _, q := range section.Questions {
			options := make([]string, len(q.En.Options))
			for i, opt := range q.En.Options {
				options[i] = htmlutil.Normalize(opt.Value)
			}

			cleaned := Question{
				ID:            q.ID,
				Question:      htmlutil.Normalize(q.En.Value),
				Options:       options,
				CorrectOption: string(key[q.ID].CorrectOption),
			}
			if includeCorrectAnswer {
				cleaned.CorrectAnswer = resolveAnswer(cleaned.CorrectOption, options)
			}
			questions = append(questions, cleaned)
		}
	}

	return CleanedPaper{Title: title, Questions: questions}, nil
}

// resolveAnswer maps a 1-based option index onto options. Anything that does
// not parse or falls outside options resolves to nothing.
func resolveAnswer(correctOption string, options []string) *string {
	if correctOption == "" || len(options) == 0 {
		return nil
	}
	idx, err := strconv.Atoi(strings.TrimSpace(correctOption))
	if err != nil {
		return nil
	}
	idx--
	if idx < 0 || idx >= len(options) {
		return nil
	}
	answer := options[idx]
	return &answer
}

// RawQuestion is a question's markup as sent upstream.
type RawQuestion struct {
	Value   string
	Options []string
}

// RawQuestions indexes the unprocessed question markup of a paper payload by question id.
func RawQuestions(paper []byte) (map[string]RawQuestion, error) {
	var p paperPayload
	err := json.Unmarshal(paper, &p)
	if err != nil {
		return nil, &ParseError{Payload: "paper", Err: err}
	}
	if p.Data == nil {
		return nil, &ParseError{Payload: "paper", Err: fmt.Errorf("missing data object")}
	}

	out := map[string]RawQuestion{}
	for _, section := range p.Data.Sections {
		for _, q := range section.Questions {
			options := make([]string, len(q.En.Options))
			for i, opt := range q.En.Options {
				options[i] = opt.Value
			}
			out[q.ID] = RawQuestion{Value: q.En.Value, Options: options}
		}
	}
	return out, nil
}
