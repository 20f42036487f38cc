package brimcsv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/domain/corpus"
)

func testDefinitions() *Definitions {
	return &Definitions{
		Version: "test",
		Variables: []VariableDefinition{
			{Name: "surgery_type", Instruction: "One of: Tumor Resection, Shunt, Biopsy.", Type: TypeText, Scope: ScopeManyPerNote,
				Options: []string{"Tumor Resection", "Shunt", "Biopsy"}, Default: "Other"},
			{Name: "surgery_date", Instruction: "Return the date.", Type: TypeText, Scope: ScopeManyPerNote, Default: "Unavailable"},
		},
		Decisions: []DecisionRule{
			{Name: "total_surgeries", Instruction: "Count resections.", Type: TypeInteger,
				Variables: []string{"surgery_type", "surgery_date"}, Default: "0"},
		},
	}
}

func testDocs() []corpus.Document {
	d := time.Date(2018, 5, 28, 0, 0, 0, 0, time.UTC)
	return []corpus.Document{
		{ID: "STRUCTURED_surgeries", PersonID: "p1", Title: "Structured Surgical History", Text: "| a |\n| --- |\n| b |\n"},
		{ID: "doc-1", PersonID: "p1", Title: "Operative note", Date: &d, Text: "Gross total resection, \"no residual\"."},
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	recs, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return recs
}

func TestDefaultDefinitionsAreValid(t *testing.T) {
	defs, err := DefaultDefinitions()
	if err != nil {
		t.Fatalf("default definitions invalid: %v", err)
	}
	if len(defs.Variables) == 0 || len(defs.Decisions) == 0 {
		t.Fatal("expected default variables and decisions")
	}
}

func TestAssemble(t *testing.T) {
	a := NewAssembler(zerolog.Nop())
	pkg, err := a.Assemble(testDefinitions(), testDocs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vars := readCSV(t, pkg.Variables)
	if strings.Join(vars[0], ",") != strings.Join(VariableColumns, ",") {
		t.Fatalf("unexpected variable header %v", vars[0])
	}
	if len(vars) != 3 {
		t.Fatalf("expected 2 variable rows, got %d", len(vars)-1)
	}
	if got := vars[1][7]; got != `{"Biopsy":"Biopsy","Shunt":"Shunt","Tumor Resection":"Tumor Resection"}` {
		t.Errorf("unexpected option map %s", got)
	}
	if vars[2][7] != "" {
		t.Errorf("expected empty option map for free text, got %q", vars[2][7])
	}
	for _, row := range vars[1:] {
		if len(row) != len(VariableColumns) {
			t.Errorf("row %v has %d columns", row, len(row))
		}
	}

	decisions := readCSV(t, pkg.Decisions)
	if decisions[1][4] != "surgery_type;surgery_date" {
		t.Errorf("unexpected variables column %q", decisions[1][4])
	}

	project := readCSV(t, pkg.Project)
	if len(project) != 3 {
		t.Fatalf("expected 2 project rows, got %d", len(project)-1)
	}
	if project[1][2] != "" || project[2][2] != "2018-05-28T00:00:00Z" {
		t.Errorf("unexpected NOTE_DATETIME values %q %q", project[1][2], project[2][2])
	}
	if !strings.Contains(project[2][3], `"no residual"`) {
		t.Errorf("note text not round-tripped: %q", project[2][3])
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	a := NewAssembler(zerolog.Nop())
	first, err := a.Assemble(testDefinitions(), testDocs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := a.Assemble(testDefinitions(), testDocs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for name, data := range first.Files() {
		if !bytes.Equal(data, second.Files()[name]) {
			t.Errorf("%s differs between runs", name)
		}
	}
}

func TestAssemble_RejectsUndefinedVariable(t *testing.T) {
	defs := testDefinitions()
	defs.Decisions[0].Variables = append(defs.Decisions[0].Variables, "extent_of_resection")

	_, err := NewAssembler(zerolog.Nop()).Assemble(defs, testDocs())
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
	if !strings.Contains(err.Error(), "total_surgeries") || !strings.Contains(err.Error(), "extent_of_resection") {
		t.Errorf("error does not name the rule and variable: %v", err)
	}
}

func TestAssemble_RejectsBlankRequiredColumns(t *testing.T) {
	defs := testDefinitions()
	defs.Variables[1].Instruction = "  "
	docs := testDocs()
	docs[1].Title = ""

	_, err := NewAssembler(zerolog.Nop()).Assemble(defs, docs)
	vs := Violations(err)
	if len(vs) != 2 {
		t.Fatalf("expected 2 violations, got %d: %v", len(vs), err)
	}
	if vs[0].Table != VariablesFile || vs[0].Name != "surgery_date" || vs[0].Column != ColInstruction {
		t.Errorf("unexpected first violation %+v", vs[0])
	}
	if vs[1].Table != ProjectFile || vs[1].Name != "doc-1" || vs[1].Column != ColNoteTitle {
		t.Errorf("unexpected second violation %+v", vs[1])
	}
}

func TestCheck_EnumeratedInstructionMustStateOptions(t *testing.T) {
	defs := testDefinitions()
	defs.Variables[0].Instruction = "One of: tumor resection, Shunt, Biopsy."

	err := defs.Check()
	vs := Violations(err)
	if len(vs) != 1 || !strings.Contains(vs[0].Reason, "Tumor Resection") {
		t.Fatalf("expected violation naming the option, got %v", err)
	}
}

func TestCheck_DependentVariables(t *testing.T) {
	defs := testDefinitions()
	defs.Decisions = append(defs.Decisions, DecisionRule{
		Name: "best", Instruction: "x", Type: TypeText, Variables: []string{"surgery_type"},
		DependentVariables: []string{"total_surgeries", "missing_rule"}, Default: "u",
	})
	vs := Violations(defs.Check())
	if len(vs) != 1 || vs[0].Column != ColDependentVariables {
		t.Fatalf("expected one dependent variable violation, got %v", vs)
	}
}

func TestProjectRows_RejectsDuplicateIDs(t *testing.T) {
	docs := append(testDocs(), testDocs()[1])
	_, err := ProjectRows(docs)
	vs := Violations(err)
	if len(vs) != 1 || vs[0].Row != 3 || !strings.Contains(vs[0].Reason, "row 2") {
		t.Fatalf("unexpected violations %v", vs)
	}
}

func TestPackageWriteAndRead(t *testing.T) {
	pkg, err := NewAssembler(zerolog.Nop()).Assemble(testDefinitions(), testDocs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := t.TempDir()
	if err := pkg.Write(dir); err != nil {
		t.Fatalf("write: %v", err)
	}
	back, err := ReadPackage(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(back.Project, pkg.Project) {
		t.Error("project.csv changed on round trip")
	}
}
