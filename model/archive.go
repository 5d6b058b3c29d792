// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/devblok/vkframe/utility/kar"
)

// MeshSuffix marks archive entries holding encoded vertices.
const MeshSuffix = ".mesh"

// AddMesh encodes vertices into b under name + MeshSuffix.
func AddMesh(b *kar.Builder, name string, vertices []Vertex) error {
	return b.Add(name+MeshSuffix, bytes.NewReader(EncodeVertices(vertices)))
}

// LoadMesh reads the mesh called name from the archive.
func LoadMesh(ar *kar.Archive, name string) ([]Vertex, error) {
	data, err := ar.ReadAll(name + MeshSuffix)
	if err != nil {
		return nil, err
	}
	vertices, err := DecodeVertices(data)
	if err != nil {
		return nil, fmt.Errorf("mesh %s: %s", name, err.Error())
	}
	return vertices, nil
}

// LoadMeshes reads every mesh in the archive, keyed by name without the suffix.
func LoadMeshes(ar *kar.Archive) (map[string][]Vertex, error) {
	meshes := make(map[string][]Vertex)
	for _, entry := range ar.Names() {
		if path.Ext(entry) != MeshSuffix {
			continue
		}
		name := strings.TrimSuffix(entry, MeshSuffix)
		vertices, err := LoadMesh(ar, name)
		if err != nil {
			return nil, err
		}
		meshes[name] = vertices
	}
	return meshes, nil
}
