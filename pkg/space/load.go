package space

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/autograph/gnnsearch/pkg/models"
)

// Load reads a YAML search space file. See Parse for the format.
func Load(path string) (*Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read search space %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a YAML mapping of dimension name to candidate list.
// Dimension order follows the document, and the conv dimension holds
// variant records:
//
//	conv:
//	  - {kind: cheb, k: 7}
//	  - {kind: sage}
//	hidden_size: [32, 64]
func Parse(data []byte) (*Space, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidSpace)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalidSpace)
	}

	var dims []Dimension
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if val.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("%w: dimension %q (line %d) must be a list", ErrInvalidSpace, key.Value, val.Line)
		}

		dim := Dimension{Name: key.Value}
		if key.Value == DimConv {
			var variants []models.ConvVariant
			if err := val.Decode(&variants); err != nil {
				return nil, fmt.Errorf("%w: dimension %q: %v", ErrInvalidSpace, key.Value, err)
			}
			for _, v := range variants {
				dim.Values = append(dim.Values, v)
			}
		} else {
			if err := val.Decode(&dim.Values); err != nil {
				return nil, fmt.Errorf("%w: dimension %q: %v", ErrInvalidSpace, key.Value, err)
			}
		}
		dims = append(dims, dim)
	}

	s, err := New(dims...)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MarshalYAML renders the space in the format Parse accepts
func (s *Space) MarshalYAML() (interface{}, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, d := range s.dims {
		var val yaml.Node
		if err := val.Encode(d.Values); err != nil {
			return nil, err
		}
		val.Style = yaml.FlowStyle
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: d.Name}, &val)
	}
	return root, nil
}
