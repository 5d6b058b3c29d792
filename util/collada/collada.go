// Package collada reads triangle meshes out of COLLADA documents.
// Only what is needed to build model.Vertex arrays is decoded:
// float sources, the vertices element and triangle lists.
package collada

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devblok/vkframe/model"
	glm "github.com/go-gl/mathgl/mgl32"
)

// Input semantics understood when building vertices
const (
	SemanticVertex   = "VERTEX"
	SemanticPosition = "POSITION"
	SemanticNormal   = "NORMAL"
)

// ErrNoPositions is returned for a mesh whose triangles do not reference positions
var ErrNoPositions = errors.New("triangles have no position input")

// Collada is the top-level Collada object
type Collada struct {
	Geometries []Geometry `xml:"library_geometries>geometry"`
}

// Decode reads a COLLADA document from r
func Decode(r io.Reader) (*Collada, error) {
	var c Collada
	if err := xml.NewDecoder(r).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Meshes converts every geometry to vertices, keyed by geometry name,
// or by id when the name is empty.
func (c *Collada) Meshes() (map[string][]model.Vertex, error) {
	meshes := make(map[string][]model.Vertex, len(c.Geometries))
	for idx := range c.Geometries {
		g := &c.Geometries[idx]
		name := g.Name
		if name == "" {
			name = g.ID
		}
		vertices, err := g.Mesh.ModelVertices()
		if err != nil {
			return nil, fmt.Errorf("geometry %s: %w", name, err)
		}
		meshes[name] = vertices
	}
	return meshes, nil
}

// Geometry represents Collada's geometry
type Geometry struct {
	Mesh Mesh   `xml:"mesh"`
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// Mesh contains all the primitive data
type Mesh struct {
	Source    []Source  `xml:"source"`
	Vertices  Vertices  `xml:"vertices"`
	Triangles Triangles `xml:"triangles"`
}

// Source links to other sources where data is present
type Source struct {
	ID     string `xml:"id,attr"`
	Floats Floats `xml:"float_array"`
}

func (m *Mesh) source(ref string) (*Source, error) {
	id := strings.TrimPrefix(ref, "#")
	for idx := range m.Source {
		if m.Source[idx].ID == id {
			return &m.Source[idx], nil
		}
	}
	return nil, fmt.Errorf("source %s not found", ref)
}

// ModelVertices flattens the triangle list into model vertices. Vertex color
// is taken from the normal, white when the mesh has no normals.
func (m *Mesh) ModelVertices() ([]model.Vertex, error) {
	var (
		positions, normals           *Source
		positionOffset, normalOffset uint
		stride                       uint
		err                          error
	)
	for _, input := range m.Triangles.Inputs {
		if input.Offset+1 > stride {
			stride = input.Offset + 1
		}
		switch input.Semantic {
		case SemanticVertex:
			if strings.TrimPrefix(input.Source, "#") != m.Vertices.ID {
				return nil, fmt.Errorf("vertices %s not found", input.Source)
			}
			for _, vi := range m.Vertices.Inputs {
				if vi.Semantic != SemanticPosition {
					continue
				}
				if positions, err = m.source(vi.Source); err != nil {
					return nil, err
				}
			}
			positionOffset = input.Offset
		case SemanticNormal:
			if normals, err = m.source(input.Source); err != nil {
				return nil, err
			}
			normalOffset = input.Offset
		}
	}
	if positions == nil {
		return nil, ErrNoPositions
	}

	index := m.Triangles.Index
	if len(index)%int(stride) != 0 {
		return nil, fmt.Errorf("%d indices do not divide into a stride of %d", len(index), stride)
	}
	count := len(index) / int(stride)
	if count != m.Triangles.Count*3 {
		return nil, fmt.Errorf("expected %d vertices for %d triangles, got %d", m.Triangles.Count*3, m.Triangles.Count, count)
	}

	vertices := make([]model.Vertex, count)
	for v := range vertices {
		at := index[v*int(stride):]
		pos, err := positions.Floats.vec3(at[positionOffset])
		if err != nil {
			return nil, err
		}
		vertices[v].Position = pos
		vertices[v].Color = glm.Vec3{1, 1, 1}
		if normals == nil {
			continue
		}
		normal, err := normals.Floats.vec3(at[normalOffset])
		if err != nil {
			return nil, err
		}
		vertices[v].Normal = normal
		vertices[v].Color = normal
	}
	return vertices, nil
}

// Floats is the array of floats
type Floats struct {
	ID   string
	Data []float32
}

func (f *Floats) vec3(idx int) (glm.Vec3, error) {
	if idx < 0 || 3*idx+3 > len(f.Data) {
		return glm.Vec3{}, fmt.Errorf("index %d out of range of %s", idx, f.ID)
	}
	return glm.Vec3{f.Data[3*idx], f.Data[3*idx+1], f.Data[3*idx+2]}, nil
}

// UnmarshalXML unmarshals the array of floats
func (f *Floats) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			f.ID = attr.Value
		}
	}
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	for _, r := range strings.Fields(raw) {
		num, err := strconv.ParseFloat(r, 32)
		if err != nil {
			return err
		}
		f.Data = append(f.Data, float32(num))
	}
	return nil
}

// Vertices contains the list of vertices
type Vertices struct {
	ID     string  `xml:"id,attr"`
	Inputs []Input `xml:"input"`
}

// Triangles contain the list of triangles
type Triangles struct {
	Count    int     `xml:"count,attr"`
	Material string  `xml:"material,attr"`
	Inputs   []Input `xml:"input"`
	Index    []int
}

// UnmarshalXML parses the index list
func (t *Triangles) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "count":
			num, err := strconv.Atoi(attr.Value)
			if err != nil {
				return err
			}
			t.Count = num
		case "material":
			t.Material = attr.Value
		}
	}

	for {
		token, err := d.Token()
		if err != nil {
			return err
		}

		switch el := token.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "input":
				var input Input
				if err := d.DecodeElement(&input, &el); err != nil {
					return err
				}
				t.Inputs = append(t.Inputs, input)
			case "p":
				var raw string
				if err := d.DecodeElement(&raw, &el); err != nil {
					return err
				}
				fields := strings.Fields(raw)
				t.Index = make([]int, len(fields))
				for idx, r := range fields {
					if t.Index[idx], err = strconv.Atoi(r); err != nil {
						return err
					}
				}
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if el == start.End() {
				return nil
			}
		}
	}
}

// Input is Collada'a input type
type Input struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   uint   `xml:"offset,attr"`
}
