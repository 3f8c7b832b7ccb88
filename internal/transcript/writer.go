package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fediverse-devnet/feditest-sub000/internal/outcome"
	pkgstrings "github.com/fediverse-devnet/feditest-sub000/pkg/strings"
)

// WriteJSON writes t as indented JSON.
func (t *Transcript) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	return nil
}

// Save writes t as JSON to path, creating the directory if needed.
func (t *Transcript) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create transcript file: %w", err)
	}
	if err := t.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a transcript written by WriteJSON.
func Load(r io.Reader) (*Transcript, error) {
	var t Transcript
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &t, nil
}

// LoadFile reads a transcript from path.
func LoadFile(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// WriteSummary renders the test results and their summary as tables.
func (t *Transcript) WriteSummary(w io.Writer) {
	title := cases.Title(language.English)

	results := table.NewWriter()
	results.SetOutputMirror(w)
	results.SetStyle(table.StyleRounded)
	results.SetTitle(fmt.Sprintf("Run %s", t.ID))
	results.AppendHeader(table.Row{"Session", "Test", "Result"})
	for _, s := range t.Sessions {
		if len(s.Tests) == 0 && s.Result != nil {
			results.AppendRow(table.Row{s.Name, "", colorize(s.Result)})
		}
		for _, test := range s.Tests {
			results.AppendRow(table.Row{s.Name, test.Name, colorize(test.Result)})
		}
	}
	results.Render()

	sum := t.Summary
	counts := table.NewWriter()
	counts.SetOutputMirror(w)
	counts.SetStyle(table.StyleRounded)
	counts.AppendHeader(table.Row{"Category", "Count"})
	for _, row := range []struct {
		label string
		n     int
	}{
		{"total", sum.Total},
		{"passed", sum.Passed},
		{outcome.BucketHardFailure.String(), sum.HardFailed},
		{outcome.BucketSoftFailure.String(), sum.SoftFailed},
		{outcome.BucketDegradeFailure.String(), sum.DegradeFailed},
		{outcome.BucketSkip.String(), sum.Skipped},
		{outcome.BucketInteractionControl.String(), sum.InteractionControl},
		{outcome.BucketOtherError.String(), sum.OtherErrors},
	} {
		counts.AppendRow(table.Row{title.String(row.label), row.n})
	}
	counts.Render()

	if len(sum.Matrix) == 0 {
		return
	}
	matrix := table.NewWriter()
	matrix.SetOutputMirror(w)
	matrix.SetStyle(table.StyleRounded)
	header := table.Row{"Spec \\ Interop"}
	for _, il := range outcome.InteropLevels() {
		header = append(header, title.String(il.String()))
	}
	matrix.AppendHeader(header)
	for _, sl := range outcome.SpecLevels() {
		row := table.Row{title.String(sl.String())}
		for _, il := range outcome.InteropLevels() {
			row = append(row, strconv.Itoa(sum.MatrixCount(sl, il)))
		}
		matrix.AppendRow(row)
	}
	matrix.Render()
}

func colorize(r *outcome.Result) string {
	msg := pkgstrings.Truncate(r.String(), pkgstrings.DefaultCellMaxLen)
	switch r.Bucket() {
	case outcome.BucketNone:
		return text.FgGreen.Sprint(msg)
	case outcome.BucketSoftFailure, outcome.BucketDegradeFailure, outcome.BucketSkip:
		return text.FgYellow.Sprint(msg)
	default:
		return text.FgRed.Sprint(msg)
	}
}
