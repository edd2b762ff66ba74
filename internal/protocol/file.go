package protocol

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/spikesort/internal/fsutil"
)

// MaxFileSize bounds protocol files read from disk.
const MaxFileSize = 1 << 20

// Load reads a protocol file. YAML and JSON are both accepted; the order of
// steps in each section is kept as written.
func Load(fsys fsutil.FileSystem, path string) (*Protocol, error) {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("protocol file must be .yaml, .yml or .json: %s", path)
	}
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat protocol file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("protocol file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse protocol file %s: %w", path, err)
	}
	p.FilePath = path
	return p, nil
}

// Parse decodes a protocol document with top-level preprocessing and
// postprocessing mappings.
func Parse(data []byte) (*Protocol, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("empty protocol document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("protocol root must be a mapping")
	}
	p := &Protocol{Preprocessing: Steps{}, Postprocessing: Steps{}}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i].Value, root.Content[i+1]
		var dst *Steps
		switch key {
		case "preprocessing":
			dst = &p.Preprocessing
		case "postprocessing":
			dst = &p.Postprocessing
		default:
			return nil, fmt.Errorf("unknown protocol section %q (line %d)", key, root.Content[i].Line)
		}
		steps, err := decodeSteps(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*dst = steps
	}
	return p, nil
}

func decodeSteps(n *yaml.Node) (Steps, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return Steps{}, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: steps must be a mapping of name to options", n.Line)
	}
	steps := Steps{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		name, val := n.Content[i].Value, n.Content[i+1]
		if steps.Has(name) {
			return nil, fmt.Errorf("line %d: duplicate step %q", n.Content[i].Line, name)
		}
		params := Params{}
		if !(val.Kind == yaml.ScalarNode && val.Tag == "!!null") {
			var m map[string]any
			if err := val.Decode(&m); err != nil {
				return nil, fmt.Errorf("step %q (line %d): %w", name, val.Line, err)
			}
			for k, v := range m {
				params[k] = v
			}
		}
		steps = append(steps, Step{Name: name, Params: params})
	}
	return steps, nil
}

// YAML encodes p with steps in order.
func (p *Protocol) YAML() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, sec := range []struct {
		name  string
		steps Steps
	}{
		{"preprocessing", p.Preprocessing},
		{"postprocessing", p.Postprocessing},
	} {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, st := range sec.steps {
			var val yaml.Node
			if err := val.Encode(map[string]any(st.Params)); err != nil {
				return nil, fmt.Errorf("encode step %q: %w", st.Name, err)
			}
			if len(st.Params) == 0 {
				val.Style = yaml.FlowStyle
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: st.Name}, &val)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: sec.name}, m)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String renders p as YAML for logs and reports.
func (p *Protocol) String() string {
	b, err := p.YAML()
	if err != nil {
		return fmt.Sprintf("Protocol(%s): %v", p.FilePath, err)
	}
	return string(b)
}
