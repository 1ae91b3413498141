// Package tasklist decodes the server's task list document.
package tasklist

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.yaml.in/yaml/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/eliteGoblin/focusd/regsync/internal/domain"
)

//go:embed schema/task.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("task.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("task.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// Decode parses a YAML or JSON task list. The document maps target names
// to entries; entries come back in document order. An entry with a bad
// shape still yields a Task, with the problems recorded in Task.Issues.
// Only a document that is not a mapping fails as a whole.
func Decode(data []byte) ([]domain.Task, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing task list: %w", domain.ErrMalformedTask, err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	switch {
	case root.Kind == 0, root.Kind == yaml.DocumentNode:
		return nil, nil
	case root.Kind == yaml.ScalarNode && root.Tag == "!!null":
		return nil, nil
	case root.Kind != yaml.MappingNode:
		return nil, fmt.Errorf("%w: task list is not a mapping", domain.ErrMalformedTask)
	}

	tasks := make([]domain.Task, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		target := root.Content[i].Value
		entry := root.Content[i+1]

		task := decodeEntry(target, entry)
		task.Issues = append(task.Issues, validateEntry(schema, entry)...)
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func decodeEntry(target string, entry *yaml.Node) domain.Task {
	task := domain.Task{
		Target: target,
		Kind:   domain.KindService,
	}
	if entry.Kind != yaml.MappingNode {
		return task
	}

	task.RawType = scalar(entry, "type")
	task.Type = domain.ParseSourceType(task.RawType)
	task.RawAction = scalar(entry, "action")
	task.Action = domain.ParseTaskAction(task.RawAction)
	task.URL = scalar(entry, "url")

	catalogs := field(entry, "catalogs")
	if catalogs == nil || catalogs.Kind != yaml.MappingNode {
		return task
	}
	for i := 0; i+1 < len(catalogs.Content); i += 2 {
		cat := domain.Task{
			Target: catalogs.Content[i].Value,
			Kind:   domain.KindCatalog,
		}
		if body := catalogs.Content[i+1]; body.Kind == yaml.MappingNode {
			cat.RawAction = scalar(body, "action")
			cat.Action = domain.ParseTaskAction(cat.RawAction)
		}
		task.Catalogs = append(task.Catalogs, cat)
	}
	return task
}

// validateEntry checks one entry against the task schema and returns the
// violations as "path: message" lines.
func validateEntry(schema *jsonschema.Schema, entry *yaml.Node) []string {
	var raw interface{}
	if err := entry.Decode(&raw); err != nil {
		return []string{err.Error()}
	}
	jsonData, err := json.Marshal(normalize(raw))
	if err != nil {
		return []string{fmt.Sprintf("converting to JSON: %v", err)}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return []string{fmt.Sprintf("preparing JSON for validation: %v", err)}
	}

	err = schema.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}

	var issues []string
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		issues = append(issues, ve.Error())
	}
	sort.Strings(issues)
	return dedupe(issues)
}

func collectIssues(ve *jsonschema.ValidationError, issues *[]string) {
	if len(ve.Causes) == 0 {
		if ve.ErrorKind == nil {
			return
		}
		path := "/" + strings.Join(ve.InstanceLocation, "/")
		*issues = append(*issues, path+": "+ve.ErrorKind.LocalizedString(printer))
		return
	}
	for _, cause := range ve.Causes {
		collectIssues(cause, issues)
	}
}

func dedupe(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i > 0 && in[i-1] == s {
			continue
		}
		out = append(out, s)
	}
	return out
}

// normalize turns YAML-decoded maps into JSON-encodable ones.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, v := range val {
			m[k] = normalize(v)
		}
		return m
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, v := range val {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case []interface{}:
		a := make([]interface{}, len(val))
		for i, v := range val {
			a[i] = normalize(v)
		}
		return a
	default:
		return val
	}
}

func field(m *yaml.Node, name string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == name {
			return m.Content[i+1]
		}
	}
	return nil
}

func scalar(m *yaml.Node, name string) string {
	n := field(m, name)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return strings.TrimSpace(n.Value)
}
