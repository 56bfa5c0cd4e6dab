package ledger

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// fileData is the persisted ledger shape. display_names is optional for
// compatibility with files written before name overrides existed.
type fileData struct {
	TrackedPrograms map[string]float64 `json:"tracked_programs"`
	DisplayNames    map[string]string  `json:"display_names,omitempty"`
}

// Load reads persisted data from the ledger file. A missing file is not an
// error: the ledger simply starts empty.
func (l *Ledger) Load() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read ledger file")
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return errors.Wrap(err, "failed to parse ledger file")
	}

	l.programs = fd.TrackedPrograms
	if l.programs == nil {
		l.programs = make(map[string]float64)
	}
	l.names = fd.DisplayNames
	if l.names == nil {
		l.names = make(map[string]string)
	}

	// Display names for untracked programs are dropped on load.
	for program := range l.names {
		if _, ok := l.programs[program]; !ok {
			delete(l.names, program)
		}
	}
	return nil
}

// Save writes the full ledger snapshot atomically. The snapshot holds only
// folded totals; any in-flight session delta stays in memory until the
// next accrual tick folds it in.
func (l *Ledger) Save() error {
	data, err := json.Marshal(fileData{
		TrackedPrograms: l.programs,
		DisplayNames:    l.names,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode ledger data")
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write ledger file")
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return errors.Wrap(err, "failed to replace ledger file")
	}
	return nil
}

// Export writes tracked programs and display names to path. A .csv
// extension selects CSV with a program,seconds,display_name header; any
// other extension selects indented JSON in the persisted shape.
func (l *Ledger) Export(path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		return l.exportCSV(path)
	}
	return l.exportJSON(path)
}

func (l *Ledger) exportJSON(path string) error {
	data, err := json.MarshalIndent(fileData{
		TrackedPrograms: l.programs,
		DisplayNames:    l.names,
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode export")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write export")
	}
	log.Printf("Exported data to %s", path)
	return nil
}

func (l *Ledger) exportCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create export")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"program", "seconds", "display_name"}); err != nil {
		return errors.Wrap(err, "failed to write export header")
	}
	for program, seconds := range l.programs {
		record := []string{
			program,
			strconv.FormatFloat(seconds, 'f', -1, 64),
			l.names[program],
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(err, "failed to write export row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "failed to flush export")
	}
	log.Printf("Exported data to %s", path)
	return nil
}

// Import reads program data from path, sniffing CSV by extension the same
// way Export does. With merge, imported seconds add onto existing totals
// and display names fill gaps only (existing names win); without merge the
// imported state replaces the ledger entirely.
//
// Any malformed input fails the import as a whole: the ledger is left
// exactly as it was. On success the max-programs ceiling is raised if the
// result exceeds it, and the result is persisted immediately.
func (l *Ledger) Import(path string, merge bool) error {
	var (
		programs map[string]float64
		names    map[string]string
		err      error
	)
	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		programs, names, err = readCSV(path)
	} else {
		programs, names, err = readJSON(path)
	}
	if err != nil {
		return err
	}

	if merge {
		for program, seconds := range programs {
			l.programs[program] += seconds
		}
		for program, name := range names {
			if _, ok := l.names[program]; !ok {
				l.names[program] = name
			}
		}
	} else {
		l.programs = programs
		l.names = names
		if l.tracking != "" {
			if _, ok := l.programs[l.tracking]; !ok {
				l.tracking = ""
			}
			// The in-flight delta belonged to the replaced state.
			l.sessionStart = time.Time{}
			l.sessionOpenedAt = time.Time{}
			l.sessionAccrued = 0
		}
	}

	// Names may reference programs absent from the final set.
	for program := range l.names {
		if _, ok := l.programs[program]; !ok {
			delete(l.names, program)
		}
	}

	l.healCeiling(len(l.programs))
	l.saveNow()
	log.Printf("Imported data from %s (merge=%v)", path, merge)
	return nil
}

// readJSON accepts either the persisted shape ({"tracked_programs": ...})
// or, for backward compatibility, a bare {program: seconds} object.
func readJSON(path string) (map[string]float64, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read import file")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, errors.Wrap(err, "imported data has unexpected format")
	}

	programs := make(map[string]float64)
	names := make(map[string]string)

	if raw, ok := top["tracked_programs"]; ok {
		if err := json.Unmarshal(raw, &programs); err != nil {
			return nil, nil, errors.Wrap(err, "tracked_programs has unexpected format")
		}
		if raw, ok := top["display_names"]; ok {
			if err := json.Unmarshal(raw, &names); err != nil {
				return nil, nil, errors.Wrap(err, "display_names has unexpected format")
			}
		}
	} else {
		// Bare mapping: every value must be a number.
		for program, raw := range top {
			var seconds float64
			if err := json.Unmarshal(raw, &seconds); err != nil {
				return nil, nil, fmt.Errorf("imported value for %q is not a number", program)
			}
			programs[program] = seconds
		}
	}

	if err := validateSeconds(programs); err != nil {
		return nil, nil, err
	}
	return programs, names, nil
}

// readCSV expects a header row naming at least program and seconds
// columns, matched case-insensitively.
func readCSV(path string) (map[string]float64, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read import file")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, "imported data has unexpected format")
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("imported CSV is empty")
	}

	programCol, secondsCol, nameCol := -1, -1, -1
	for i, col := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "program":
			programCol = i
		case "seconds":
			secondsCol = i
		case "display_name":
			nameCol = i
		}
	}
	if programCol < 0 || secondsCol < 0 {
		return nil, nil, fmt.Errorf("imported CSV is missing program/seconds columns")
	}

	programs := make(map[string]float64)
	names := make(map[string]string)
	for _, row := range rows[1:] {
		if programCol >= len(row) || secondsCol >= len(row) {
			return nil, nil, fmt.Errorf("imported CSV row has too few columns")
		}
		program := row[programCol]
		if program == "" {
			return nil, nil, fmt.Errorf("imported CSV row has empty program")
		}
		seconds, err := strconv.ParseFloat(row[secondsCol], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("imported seconds for %q is not a number", program)
		}
		programs[program] = seconds
		if nameCol >= 0 && nameCol < len(row) && row[nameCol] != "" {
			names[program] = row[nameCol]
		}
	}

	if err := validateSeconds(programs); err != nil {
		return nil, nil, err
	}
	return programs, names, nil
}

func validateSeconds(programs map[string]float64) error {
	for program, seconds := range programs {
		if seconds < 0 {
			return fmt.Errorf("imported seconds for %q is negative", program)
		}
	}
	return nil
}
