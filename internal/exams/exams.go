package exams

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"pyqfetch/internal/config"

	"github.com/antzucaro/matchr"
)

// minSimilarity is the Jaro-Winkler score a name needs to resolve without an exact match.
const minSimilarity = 0.85

var ErrUnknownExam = errors.New("unknown exam")

// Target is an exam category on the upstream platform.
type Target struct {
	Name string
	ID   string
	// Dir is the directory, relative to the output directory, the exam's files go in.
	Dir string
}

// Session is the exam a command works on and where its files live.
type Session struct {
	Target  Target
	BaseDir string
}

func NewSession(target Target, outputDir string) Session {
	return Session{
		Target:  target,
		BaseDir: filepath.Join(outputDir, target.Dir),
	}
}

type Registry struct {
	targets []Target
}

func NewRegistry(entries map[string]config.Exam) Registry {
	targets := make([]Target, 0, len(entries))
	for name, exam := range entries {
		dir := exam.Dir
		if dir == "" {
			dir = name
		}
		targets = append(targets, Target{Name: name, ID: exam.ID, Dir: dir})
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Name < targets[j].Name
	})
	return Registry{targets: targets}
}

// All returns every target sorted by name.
func (r Registry) All() []Target {
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Match is a target with its similarity to a query.
type Match struct {
	Target     Target
	Similarity float64
}

// Search ranks every target by similarity to query, best first.
func (r Registry) Search(query string) []Match {
	q := normalizeName(query)
	matches := make([]Match, len(r.targets))
	for i, target := range r.targets {
		similarity := 1.0
		if q != "" {
			similarity = matchr.JaroWinkler(q, normalizeName(target.Name), false)
		}
		matches[i] = Match{Target: target, Similarity: similarity}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

// Resolve finds the target called name. Case and spacing are ignored, and a
// close enough misspelling resolves to its best match.
func (r Registry) Resolve(name string) (Target, error) {
	normalized := normalizeName(name)
	for _, target := range r.targets {
		if normalizeName(target.Name) == normalized {
			return target, nil
		}
	}

	matches := r.Search(name)
	if len(matches) > 0 && matches[0].Similarity > minSimilarity {
		return matches[0].Target, nil
	}

	var suggestions []string
	for i := 0; i < len(matches) && i < 3; i++ {
		suggestions = append(suggestions, matches[i].Target.Name)
	}
	if len(suggestions) == 0 {
		return Target{}, fmt.Errorf("%w %q: no exams are configured", ErrUnknownExam, name)
	}
	return Target{}, fmt.Errorf("%w %q, did you mean: %s", ErrUnknownExam, name, strings.Join(suggestions, ", "))
}
