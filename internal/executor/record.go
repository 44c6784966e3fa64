package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// RecordFile is the metadata file kept in every run record directory.
const RecordFile = "record.json"

// CompleteFile is the marker the collaborator creates when the promise was emitted.
const CompleteFile = "complete"

// Record describes one iteration's run.
type Record struct {
	ID          string     `json:"id"`
	Iteration   int        `json:"iteration"`
	Agent       Agent      `json:"agent"`
	Promise     string     `json:"promise"`
	ArtifactDir string     `json:"artifact_dir,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Completed   bool       `json:"completed"`
}

const recordSchemaURL = "record.schema.json"

const recordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "Ralph Run Record",
  "type": "object",
  "required": ["id", "iteration", "agent", "promise", "started_at", "completed"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "iteration": { "type": "integer", "minimum": 1 },
    "agent": { "type": "string", "enum": ["claude", "codex"] },
    "promise": { "type": "string" },
    "artifact_dir": { "type": "string" },
    "started_at": { "type": "string", "format": "date-time" },
    "finished_at": { "type": "string", "format": "date-time" },
    "exit_code": { "type": "integer" },
    "completed": { "type": "boolean" }
  }
}`

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func recordSchemaValidator() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource(recordSchemaURL, strings.NewReader(recordSchema)); err != nil {
			compileErr = fmt.Errorf("add record schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(recordSchemaURL)
	})
	return compiledSchema, compileErr
}

// ValidateRecord checks raw record.json content against the record schema.
func ValidateRecord(data []byte) error {
	schema, err := recordSchemaValidator()
	if err != nil {
		return err
	}
	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("parse record: %w", err)
	}
	if err := schema.Validate(obj); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	return nil
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// writeRecord writes rec as record.json inside dir.
func writeRecord(dir string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, RecordFile), data, 0644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// ReadRecord reads and validates the record in a run directory.
func ReadRecord(dir string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, RecordFile))
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	if err := ValidateRecord(data); err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// RecordListing is one entry from ListRecords.
type RecordListing struct {
	Dir    string
	Record Record
	Err    error
}

// ListRecords reads every run record under runsDir, newest first.
// Unreadable or invalid records are returned with Err set.
func ListRecords(runsDir string) ([]RecordListing, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	var listings []RecordListing
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(runsDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, RecordFile)); err != nil {
			continue
		}
		rec, err := ReadRecord(dir)
		listings = append(listings, RecordListing{Dir: dir, Record: rec, Err: err})
	}

	// Run IDs start with a UTC timestamp, so name order is start order.
	sort.Slice(listings, func(i, j int) bool {
		return filepath.Base(listings[i].Dir) > filepath.Base(listings[j].Dir)
	})
	return listings, nil
}
