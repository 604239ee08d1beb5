package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/example/adaptengine/internal/database"
	"github.com/example/adaptengine/pkg/models"
)

// ImportConfig defines the import configuration. Columns are Excel
// letters and apply to CSV files too.
type ImportConfig struct {
	FilePath           string // Path to the Excel or CSV file
	ItemsSheet         string // Sheet with one row per item and learning objective
	PrerequisitesSheet string // Sheet with one row per prerequisite edge; optional
	StartRow           int    // The row to start importing from (1-based index)

	ItemColumn       string
	NameColumn       string
	ModuleColumn     string
	DifficultyColumn string
	LOColumn         string
	RelevanceColumn  string
	GuessColumn      string
	SlipColumn       string
	TransitColumn    string

	PrerequisiteColumn string
	TargetColumn       string
	WeightColumn       string
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		ItemsSheet:         "Items",
		PrerequisitesSheet: "Prerequisites",
		StartRow:           2, // By default, start from the second row (skip header)

		ItemColumn:       "A",
		NameColumn:       "B",
		ModuleColumn:     "C",
		DifficultyColumn: "D",
		LOColumn:         "E",
		RelevanceColumn:  "F",
		GuessColumn:      "G",
		SlipColumn:       "H",
		TransitColumn:    "I",

		PrerequisiteColumn: "A",
		TargetColumn:       "B",
		WeightColumn:       "C",
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed    int
	ObjectivesCreated int
	Created           int
	Updated           int
	Tags              int
	Prerequisites     int
	Skipped           int
	Errors            []string
}

// PrerequisitesPath returns the CSV file read for prerequisites alongside
// an items CSV file
func PrerequisitesPath(itemsPath string) string {
	return strings.TrimSuffix(itemsPath, filepath.Ext(itemsPath)) + "_prerequisites.csv"
}

// importer carries the state of one import run
type importer struct {
	config  ImportConfig
	catalog *database.CatalogRepository
	result  *ImportResult
	los     map[string]int64
	items   map[string]bool // external ids already handled in this run
}

// ImportCatalog imports items, their learning objectives and the
// prerequisite graph from an Excel or CSV file. Rows that fail to parse are
// reported in the result and skipped.
func ImportCatalog(ctx context.Context, config ImportConfig) (*ImportResult, error) {
	imp, err := newImporter(ctx, config)
	if err != nil {
		return nil, err
	}

	// Check the file extension
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		err = imp.importFromCSV(ctx)
	} else {
		err = imp.importFromExcel(ctx)
	}
	if err != nil {
		return nil, err
	}
	return imp.result, nil
}

func newImporter(ctx context.Context, config ImportConfig) (*importer, error) {
	imp := &importer{
		config:  config,
		catalog: database.NewCatalogRepository(),
		result:  &ImportResult{Errors: make([]string, 0)},
		los:     make(map[string]int64),
		items:   make(map[string]bool),
	}

	// Map objective names to IDs for quick lookup
	existing, err := imp.catalog.GetLearningObjectives(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get existing learning objectives: %w", err)
	}
	for _, lo := range existing {
		imp.los[strings.ToLower(lo.Name)] = lo.ID
	}
	return imp, nil
}

// importFromExcel reads the items sheet and, when present, the
// prerequisites sheet
func (imp *importer) importFromExcel(ctx context.Context) error {
	f, err := excelize.OpenFile(imp.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(imp.config.ItemsSheet)
	if err != nil {
		return fmt.Errorf("failed to get rows: %w", err)
	}
	imp.processItemRows(ctx, rows)

	if !hasSheet(f, imp.config.PrerequisitesSheet) {
		return nil
	}
	rows, err = f.GetRows(imp.config.PrerequisitesSheet)
	if err != nil {
		return fmt.Errorf("failed to get prerequisite rows: %w", err)
	}
	imp.processPrerequisiteRows(ctx, rows)
	return nil
}

// importFromCSV reads items from the CSV file and prerequisites from its
// sibling file, if one exists
func (imp *importer) importFromCSV(ctx context.Context) error {
	rows, err := readCSV(imp.config.FilePath)
	if err != nil {
		return err
	}
	imp.processItemRows(ctx, rows)

	rows, err = readCSV(PrerequisitesPath(imp.config.FilePath))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	imp.processPrerequisiteRows(ctx, rows)
	return nil
}

func hasSheet(f *excelize.File, name string) bool {
	if name == "" {
		return false
	}
	for _, sheet := range f.GetSheetList() {
		if sheet == name {
			return true
		}
	}
	return false
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (imp *importer) processItemRows(ctx context.Context, rows [][]string) {
	for i, row := range rows {
		// Skip header rows
		if i < imp.config.StartRow-1 {
			continue
		}
		if isBlank(row) {
			continue
		}
		imp.result.TotalProcessed++
		if err := imp.processItemRow(ctx, row); err != nil {
			imp.result.Skipped++
			imp.result.Errors = append(imp.result.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
		}
	}
}

func (imp *importer) processPrerequisiteRows(ctx context.Context, rows [][]string) {
	for i, row := range rows {
		if i < imp.config.StartRow-1 {
			continue
		}
		if isBlank(row) {
			continue
		}
		imp.result.TotalProcessed++
		if err := imp.processPrerequisiteRow(ctx, row); err != nil {
			imp.result.Skipped++
			imp.result.Errors = append(imp.result.Errors, fmt.Sprintf("Prerequisites row %d: %v", i+1, err))
		}
	}
}

// processItemRow stores one item and its tag on one learning objective
func (imp *importer) processItemRow(ctx context.Context, row []string) error {
	c := imp.config
	externalID := cell(row, c.ItemColumn)
	loName := cell(row, c.LOColumn)
	if externalID == "" {
		return fmt.Errorf("item id cannot be empty")
	}
	if loName == "" {
		return fmt.Errorf("learning objective cannot be empty")
	}

	module, err := parseIntOrDefault(cell(row, c.ModuleColumn), 0)
	if err != nil || module < 0 {
		return fmt.Errorf("invalid module %q", cell(row, c.ModuleColumn))
	}
	difficulty, err := parseFloatOrDefault(cell(row, c.DifficultyColumn), 0)
	if err != nil {
		return fmt.Errorf("invalid difficulty: %w", err)
	}
	relevance, err := parseFloatOrDefault(cell(row, c.RelevanceColumn), 1)
	if err != nil || relevance < 0 {
		return fmt.Errorf("invalid relevance %q", cell(row, c.RelevanceColumn))
	}
	guess, err := parseProbability(cell(row, c.GuessColumn), false)
	if err != nil {
		return fmt.Errorf("invalid guess: %w", err)
	}
	slip, err := parseProbability(cell(row, c.SlipColumn), false)
	if err != nil {
		return fmt.Errorf("invalid slip: %w", err)
	}
	transit, err := parseProbability(cell(row, c.TransitColumn), true)
	if err != nil {
		return fmt.Errorf("invalid transit: %w", err)
	}

	loID, err := imp.getOrCreateObjective(ctx, loName)
	if err != nil {
		return err
	}

	item := &models.Item{
		ExternalID: externalID,
		Name:       cell(row, c.NameColumn),
		Module:     module,
		Difficulty: difficulty,
	}
	created, err := imp.catalog.UpsertItem(ctx, item)
	if err != nil {
		return err
	}
	if !imp.items[externalID] {
		imp.items[externalID] = true
		if created {
			imp.result.Created++
		} else {
			imp.result.Updated++
		}
	}

	tag := models.ItemTag{
		ItemID:    item.ID,
		LOID:      loID,
		Relevance: relevance,
		Guess:     guess,
		Slip:      slip,
		Transit:   transit,
	}
	if err := imp.catalog.UpsertItemTag(ctx, tag); err != nil {
		return err
	}
	imp.result.Tags++
	return nil
}

// processPrerequisiteRow stores one prerequisite edge
func (imp *importer) processPrerequisiteRow(ctx context.Context, row []string) error {
	c := imp.config
	from := cell(row, c.PrerequisiteColumn)
	to := cell(row, c.TargetColumn)
	if from == "" || to == "" {
		return fmt.Errorf("prerequisite and learning objective cannot be empty")
	}
	if strings.EqualFold(from, to) {
		return fmt.Errorf("%q cannot be its own prerequisite", from)
	}
	weight, err := parseFloatOrDefault(cell(row, c.WeightColumn), 1)
	if err != nil || weight < 0 || weight > 1 {
		return fmt.Errorf("invalid weight %q", cell(row, c.WeightColumn))
	}

	fromID, err := imp.getOrCreateObjective(ctx, from)
	if err != nil {
		return err
	}
	toID, err := imp.getOrCreateObjective(ctx, to)
	if err != nil {
		return err
	}
	if err := imp.catalog.UpsertPrerequisite(ctx, models.Prerequisite{PrerequisiteID: fromID, LOID: toID, Weight: weight}); err != nil {
		return err
	}
	imp.result.Prerequisites++
	return nil
}

// getOrCreateObjective gets an objective by name or creates a new one if it
// doesn't exist
func (imp *importer) getOrCreateObjective(ctx context.Context, name string) (int64, error) {
	key := strings.ToLower(name)
	if id, ok := imp.los[key]; ok {
		return id, nil
	}
	id, created, err := imp.catalog.GetOrCreateLearningObjective(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to process learning objective: %w", err)
	}
	if created {
		imp.result.ObjectivesCreated++
	}
	imp.los[key] = id
	return id, nil
}

// cell returns the trimmed value in the given column, or "" when the row
// is too short
func cell(row []string, column string) string {
	if column == "" {
		return ""
	}
	idx, err := excelize.ColumnNameToNumber(column)
	if err != nil || idx > len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx-1])
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseIntOrDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func parseFloatOrDefault(s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseProbability parses an optional probability in (0, 1), or [0, 1)
// when allowZero is set. An empty string yields nil.
func parseProbability(s string, allowZero bool) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if v >= 1 || v < 0 || (v == 0 && !allowZero) {
		return nil, fmt.Errorf("probability %g out of range", v)
	}
	return &v, nil
}
