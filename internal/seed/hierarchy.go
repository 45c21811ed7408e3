// Package seed loads the location and catalog hierarchies into the store.
package seed

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/canalworks/internal/types"
)

//go:embed hierarchy.yaml
var defaultHierarchy []byte

// Node is one named entry of a hierarchy document with its children.
type Node struct {
	Name     string `yaml:"name"`
	Children []Node `yaml:"-"`
}

type zoneDoc struct {
	Name    string `yaml:"name"`
	Circles []struct {
		Name      string `yaml:"name"`
		Divisions []Node `yaml:"divisions"`
	} `yaml:"circles"`
}

type componentDoc struct {
	Name          string `yaml:"name"`
	Subcomponents []struct {
		Name      string `yaml:"name"`
		WorkItems []Node `yaml:"work_items"`
	} `yaml:"subcomponents"`
}

// Document is a parsed hierarchy file.
type Document struct {
	Zones      []Node
	Components []Node
}

// Parse decodes a hierarchy YAML document.
func Parse(src []byte) (Document, error) {
	var raw struct {
		Zones      []zoneDoc      `yaml:"zones"`
		Components []componentDoc `yaml:"components"`
	}
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return Document{}, fmt.Errorf("parsing hierarchy: %w", err)
	}
	var doc Document
	for _, z := range raw.Zones {
		zone := Node{Name: z.Name}
		for _, c := range z.Circles {
			zone.Children = append(zone.Children, Node{Name: c.Name, Children: c.Divisions})
		}
		doc.Zones = append(doc.Zones, zone)
	}
	for _, c := range raw.Components {
		comp := Node{Name: c.Name}
		for _, s := range c.Subcomponents {
			comp.Children = append(comp.Children, Node{Name: s.Name, Children: s.WorkItems})
		}
		doc.Components = append(doc.Components, comp)
	}
	return doc, nil
}

// Default returns the embedded hierarchy.
func Default() Document {
	doc, err := Parse(defaultHierarchy)
	if err != nil {
		panic(err)
	}
	return doc
}

// Writer is the subset of the store the seeder needs.
type Writer interface {
	FindNode(ctx context.Context, level types.Level, name string, parentID *int64) (int64, bool, error)
	AddNode(ctx context.Context, level types.Level, name string, parentID *int64, audit types.Audit) (int64, error)
}

// Result counts the nodes a run created and the ones it found in place.
type Result struct {
	Created  int
	Existing int
}

// Hierarchies inserts every node of doc that is not already present. Running
// it twice creates nothing the second time.
func Hierarchies(ctx context.Context, w Writer, doc Document, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &seeder{w: w, audit: types.Audit{CreatedBy: "system", Source: "system"}}
	chains := []struct {
		nodes  []Node
		levels []types.Level
	}{
		{doc.Zones, []types.Level{types.LevelZone, types.LevelCircle, types.LevelDivision}},
		{doc.Components, []types.Level{types.LevelComponent, types.LevelSubcomponent, types.LevelWorkItem}},
	}
	for _, c := range chains {
		if err := s.walk(ctx, c.nodes, c.levels, nil); err != nil {
			return s.res, err
		}
	}
	logger.Info("hierarchy seeded", zap.Int("created", s.res.Created), zap.Int("existing", s.res.Existing))
	return s.res, nil
}

type seeder struct {
	w     Writer
	audit types.Audit
	res   Result
}

func (s *seeder) walk(ctx context.Context, nodes []Node, levels []types.Level, parent *int64) error {
	if len(levels) == 0 {
		return nil
	}
	level := levels[0]
	for _, n := range nodes {
		id, ok, err := s.w.FindNode(ctx, level, n.Name, parent)
		if err != nil {
			return fmt.Errorf("looking up %s %q: %w", level, n.Name, err)
		}
		if ok {
			s.res.Existing++
		} else {
			if id, err = s.w.AddNode(ctx, level, n.Name, parent, s.audit); err != nil {
				return fmt.Errorf("creating %s %q: %w", level, n.Name, err)
			}
			s.res.Created++
		}
		if err := s.walk(ctx, n.Children, levels[1:], &id); err != nil {
			return err
		}
	}
	return nil
}
