package source

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/event-extractor/internal/model"
)

// LoadSchema reads a field schema file. An empty path yields the default
// event schema.
//
// YAML files may hold either a list of {name, prompt, kind} entries or a
// mapping of name to prompt; mapping order is preserved. Any other file is
// read as "Name: prompt" lines, with blank lines and # comments ignored.
// Fields without an explicit kind get one inferred from their name.
func LoadSchema(path string) (*model.FieldSchema, error) {
	if path == "" {
		return model.DefaultFieldSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read schema %s", path)
	}

	var specs []model.FieldSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		specs, err = parseSchemaYAML(data)
	default:
		specs, err = parseSchemaLines(data)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse schema %s", path)
	}
	inferKinds(specs)
	return model.NewFieldSchema(specs)
}

// inferKinds fills in missing kinds from field names. Only the first
// address-like field becomes the address field.
func inferKinds(specs []model.FieldSpec) {
	haveAddress := false
	for _, s := range specs {
		if s.Kind == model.FieldKindAddress {
			haveAddress = true
		}
	}
	for i := range specs {
		if specs[i].Kind != "" {
			continue
		}
		name := strings.ToLower(specs[i].Name)
		switch {
		case name == "start" || name == "end" || strings.Contains(name, "date") || strings.Contains(name, "time"):
			specs[i].Kind = model.FieldKindDatetime
		case !haveAddress && (strings.Contains(name, "location") || strings.Contains(name, "address")):
			specs[i].Kind = model.FieldKindAddress
			haveAddress = true
		}
	}
}

func parseSchemaYAML(data []byte) ([]model.FieldSpec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, eris.New("empty document")
	}
	root := doc.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		var specs []model.FieldSpec
		if err := root.Decode(&specs); err != nil {
			return nil, err
		}
		return specs, nil
	case yaml.MappingNode:
		specs := make([]model.FieldSpec, 0, len(root.Content)/2)
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, val := root.Content[i], root.Content[i+1]
			spec := model.FieldSpec{Name: key.Value}
			switch val.Kind {
			case yaml.ScalarNode:
				spec.Prompt = val.Value
			case yaml.MappingNode:
				if err := val.Decode(&spec); err != nil {
					return nil, err
				}
				spec.Name = key.Value
			default:
				return nil, eris.Errorf("field %q: expected a prompt or a mapping", key.Value)
			}
			specs = append(specs, spec)
		}
		return specs, nil
	default:
		return nil, eris.New("expected a list or a mapping of fields")
	}
}

func parseSchemaLines(data []byte) ([]model.FieldSpec, error) {
	var specs []model.FieldSpec
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		name, prompt, ok := strings.Cut(text, ":")
		if !ok {
			return nil, eris.Errorf("line %d: expected \"Name: prompt\"", line)
		}
		specs = append(specs, model.FieldSpec{Name: name, Prompt: prompt})
	}
	return specs, sc.Err()
}
