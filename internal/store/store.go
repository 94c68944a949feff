package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"pyqfetch/internal/papers"
)

const (
	listingFile   = "tests_list.json"
	rawDir        = "raw"
	cleanedDir    = "cleaned"
	maxTitleRunes = 80
)

var ErrNoListing = errors.New("no cached listing")

// Store owns the file layout under one exam's base directory:
//
//	{base}/tests_list.json
//	{base}/raw/{year}/{id}_{title}_paper.json
//	{base}/raw/{year}/{id}_{title}_answers.json
//	{base}/cleaned/{year}/{id}_{title}.json
type Store struct {
	base string
}

func New(baseDir string) Store {
	return Store{base: baseDir}
}

func (s Store) BaseDir() string {
	return s.base
}

// SanitizeTitle keeps letters, digits, spaces, hyphens and underscores, then
// cuts the result to 80 characters.
func SanitizeTitle(title string) string {
	var b strings.Builder
	count := 0
	for _, r := range title {
		if count >= maxTitleRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
			count++
		}
	}
	return b.String()
}

func (s Store) rawYearDir(year int) string {
	return filepath.Join(s.base, rawDir, strconv.Itoa(year))
}

func (s Store) cleanedYearDir(year int) string {
	return filepath.Join(s.base, cleanedDir, strconv.Itoa(year))
}

func (s Store) RawPaperPath(year int, itemId, safeTitle string) string {
	return filepath.Join(s.rawYearDir(year), fmt.Sprintf("%s_%s_paper.json", itemId, safeTitle))
}

func (s Store) RawAnswersPath(year int, itemId, safeTitle string) string {
	return filepath.Join(s.rawYearDir(year), fmt.Sprintf("%s_%s_answers.json", itemId, safeTitle))
}

func (s Store) CleanedPath(year int, itemId, safeTitle string) string {
	return filepath.Join(s.cleanedYearDir(year), fmt.Sprintf("%s_%s.json", itemId, safeTitle))
}

// WriteRaw stores the upstream payloads re-indented, with escaped characters in
// strings written out as UTF-8. Keys stay in upstream order.
// The answers file is only written when answers is non-empty.
func (s Store) WriteRaw(year int, itemId, safeTitle string, paper, answers json.RawMessage) error {
	err := writeRawJSON(s.RawPaperPath(year, itemId, safeTitle), paper)
	if err != nil {
		return fmt.Errorf("write raw paper: %w", err)
	}
	if len(answers) == 0 {
		return nil
	}
	err = writeRawJSON(s.RawAnswersPath(year, itemId, safeTitle), answers)
	if err != nil {
		return fmt.Errorf("write raw answers: %w", err)
	}
	return nil
}

func (s Store) WriteCleaned(year int, itemId, safeTitle string, cleaned papers.CleanedPaper) error {
	err := writeJSON(s.CleanedPath(year, itemId, safeTitle), cleaned)
	if err != nil {
		return fmt.Errorf("write cleaned paper: %w", err)
	}
	return nil
}

func (s Store) SaveListing(items []papers.WorkItem) error {
	if items == nil {
		items = []papers.WorkItem{}
	}
	err := writeJSON(filepath.Join(s.base, listingFile), items)
	if err != nil {
		return fmt.Errorf("save listing: %w", err)
	}
	return nil
}

// LoadListing returns ErrNoListing when the listing was never saved.
func (s Store) LoadListing() ([]papers.WorkItem, error) {
	contents, err := os.ReadFile(filepath.Join(s.base, listingFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoListing
	}
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}

	var items []papers.WorkItem
	err = json.Unmarshal(contents, &items)
	if err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", listingFile, err)
	}
	return items, nil
}

// CleanedFile is a cleaned paper found on disk.
type CleanedFile struct {
	Year int
	// Stem is the file name without extension, "{id}_{title}".
	Stem string
	Path string
}

// ListCleaned lists cleaned papers of year, or of every year when year is 0,
// sorted by year then name.
func (s Store) ListCleaned(year int) ([]CleanedFile, error) {
	root := filepath.Join(s.base, cleanedDir)
	yearDirs, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []CleanedFile
	for _, dir := range yearDirs {
		if !dir.IsDir() {
			continue
		}
		dirYear, err := strconv.Atoi(dir.Name())
		if err != nil || (year != 0 && dirYear != year) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, dir.Name()))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || filepath.Ext(name) != ".json" {
				continue
			}
			out = append(out, CleanedFile{
				Year: dirYear,
				Stem: strings.TrimSuffix(name, ".json"),
				Path: filepath.Join(root, dir.Name(), name),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Stem < out[j].Stem
	})
	return out, nil
}

func (s Store) ReadCleaned(f CleanedFile) (papers.CleanedPaper, error) {
	var cleaned papers.CleanedPaper
	contents, err := os.ReadFile(f.Path)
	if err != nil {
		return cleaned, err
	}
	err = json.Unmarshal(contents, &cleaned)
	if err != nil {
		return cleaned, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return cleaned, nil
}

// ReadRawPaper reads the raw paper payload the cleaned file was built from.
func (s Store) ReadRawPaper(f CleanedFile) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.rawYearDir(f.Year), f.Stem+"_paper.json"))
}

func writeRawJSON(path string, payload json.RawMessage) error {
	compact, err := unescapeJSON(payload)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	err = json.Indent(&buf, compact, "", "  ")
	if err != nil {
		return err
	}
	buf.WriteByte('\n')
	return writeAtomic(path, buf.Bytes())
}

type jsonFrame struct {
	object bool
	tokens int
}

// unescapeJSON re-encodes a single JSON value compactly with string literals
// written as plain UTF-8 instead of \uXXXX escapes. Key order and number text
// are kept as they came.
func unescapeJSON(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var out, scratch bytes.Buffer
	enc := json.NewEncoder(&scratch)
	enc.SetEscapeHTML(false)

	var stack []jsonFrame
	done := false
	separate := func() error {
		if len(stack) == 0 {
			if done {
				return errors.New("unexpected data after top-level value")
			}
			return nil
		}
		top := &stack[len(stack)-1]
		switch {
		case top.object && top.tokens%2 == 1:
			out.WriteByte(':')
		case top.tokens > 0:
			out.WriteByte(',')
		}
		top.tokens++
		return nil
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if !done || len(stack) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return out.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}

		if delim, ok := tok.(json.Delim); ok && (delim == '}' || delim == ']') {
			stack = stack[:len(stack)-1]
			out.WriteByte(byte(delim))
			done = len(stack) == 0
			continue
		}

		err = separate()
		if err != nil {
			return nil, err
		}
		switch v := tok.(type) {
		case json.Delim:
			out.WriteByte(byte(v))
			stack = append(stack, jsonFrame{object: v == '{'})
			continue
		case string:
			scratch.Reset()
			err = enc.Encode(v)
			if err != nil {
				return nil, err
			}
			out.Write(bytes.TrimSuffix(scratch.Bytes(), []byte{'\n'}))
		case json.Number:
			out.WriteString(v.String())
		case bool:
			out.WriteString(strconv.FormatBool(v))
		case nil:
			out.WriteString("null")
		}
		done = len(stack) == 0
	}
}

func writeJSON(path string, value any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err := enc.Encode(value)
	if err != nil {
		return err
	}
	return writeAtomic(path, buf.Bytes())
}

// writeAtomic writes to a temporary file next to path and renames it into
// place, creating parent directories as needed.
func writeAtomic(path string, contents []byte) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(contents)
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0644)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
