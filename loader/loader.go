// Package loader reads workflow definitions and variable files from JSON or
// YAML documents. Definition documents are checked against an embedded JSON
// Schema before they are decoded.
package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/songzhibin97/itsm-workflow/types"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidDocument is returned for documents that are malformed or violate the schema.
	ErrInvalidDocument = errors.New("invalid workflow document")
	// ErrUnsupportedFormat is returned for formats other than JSON and YAML.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Format is the encoding of a document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const schemaURL = "https://itsm-workflow.dev/schemas/workflow.json"

//go:embed workflow.schema.json
var workflowSchemaJSON string

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Loader decodes definition documents. It is safe for concurrent use.
type Loader struct {
	schema *jsonschema.Schema
}

// New compiles the embedded workflow schema.
func New() (*Loader, error) {
	c := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &Loader{schema: sch}, nil
}

var defaultLoader = sync.OnceValues(New)

// Decode reads a definition document from r. See Loader.Decode.
func Decode(r io.Reader, format Format) (types.WorkflowDefinition, error) {
	l, err := defaultLoader()
	if err != nil {
		return types.WorkflowDefinition{}, err
	}
	return l.Decode(r, format)
}

// LoadFile reads a definition document from path. See Loader.LoadFile.
func LoadFile(path string) (types.WorkflowDefinition, error) {
	l, err := defaultLoader()
	if err != nil {
		return types.WorkflowDefinition{}, err
	}
	return l.LoadFile(path)
}

// Decode reads a JSON or YAML document, validates it against the workflow
// schema and decodes it. Schema violations are reported as ErrInvalidDocument
// with one line per violation.
func (l *Loader) Decode(r io.Reader, format Format) (types.WorkflowDefinition, error) {
	var def types.WorkflowDefinition

	data, err := io.ReadAll(r)
	if err != nil {
		return def, fmt.Errorf("read document: %w", err)
	}
	data, err = toJSON(data, format)
	if err != nil {
		return def, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return def, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := l.schema.Validate(inst); err != nil {
		return def, schemaError(err)
	}

	if err := json.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return def, nil
}

// LoadFile reads the definition stored at path. The format follows the extension.
func (l *Loader) LoadFile(path string) (types.WorkflowDefinition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return types.WorkflowDefinition{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return types.WorkflowDefinition{}, err
	}
	defer f.Close()

	def, err := l.Decode(f, format)
	if err != nil {
		return def, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadVariables reads a JSON or YAML object of condition variables.
func LoadVariables(path string) (map[string]interface{}, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeVariables(raw, format)
}

// DecodeVariables decodes a JSON or YAML object of condition variables.
// JSON numbers decode as float64; YAML integers stay int.
func DecodeVariables(raw []byte, format Format) (map[string]interface{}, error) {
	vars := map[string]interface{}{}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(raw, &vars)
	case FormatYAML:
		err = yaml.Unmarshal(raw, &vars)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: variables must be an object: %v", ErrInvalidDocument, err)
	}
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return vars, nil
}

// toJSON normalises a document to JSON bytes.
func toJSON(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidDocument)
		}
		return data, nil
	case FormatYAML:
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func schemaError(err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	violations := collectViolations(verr)
	if len(violations) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, verr)
	}
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(violations, "; "))
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
