package validation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoGoldStandard = errors.New("no gold standard values for patient")

// GoldStandard holds the reference values for one patient keyed by
// variable or decision name.
type GoldStandard struct {
	PatientID string
	Values    map[string][]string
	// Domain records which gold file each name came from.
	Domain map[string]string
}

// LoadGoldStandard reads every *.csv file in dir. Each file is one clinical
// domain in long format with columns patient_id, variable_name, value.
func LoadGoldStandard(dir, patientID string) (*GoldStandard, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	g := &GoldStandard{PatientID: patientID, Values: map[string][]string{}, Domain: map[string]string{}}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open gold standard: %w", err)
		}
		domain := strings.TrimSuffix(filepath.Base(p), ".csv")
		err = g.read(f, domain)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if len(g.Values) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoGoldStandard, patientID, dir)
	}
	return g, nil
}

func (g *GoldStandard) read(r io.Reader, domain string) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	cols, err := resolveColumns(header, personAliases, variableAliases, valueAliases)
	if err != nil {
		return err
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if field(rec, cols[0]) != g.PatientID {
			continue
		}
		name := field(rec, cols[1])
		value := field(rec, cols[2])
		if name == "" || value == "" {
			continue
		}
		g.Values[name] = append(g.Values[name], value)
		g.Domain[name] = domain
	}
}

// All returns every gold value for the patient across names.
func (g *GoldStandard) All() []string {
	var out []string
	for _, vs := range g.Values {
		out = append(out, vs...)
	}
	return out
}
