// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"fmt"
	"image"
	"os"
	"sort"

	"github.com/devblok/vkframe/core"
	"github.com/devblok/vkframe/model"
	"github.com/devblok/vkframe/utility/kar"
	glm "github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
	"golang.org/x/image/bmp"
)

// Names the built-in meshes are registered under
const (
	TriangleMesh = "triangle"
	CubeMesh     = "cube"
)

// loadMeshes registers the built-in meshes and, if archive is set,
// every mesh stored in it. It returns the names of all registered meshes,
// the centerpiece first.
func loadMeshes(reg *core.Registry, archive string) ([]string, error) {
	reg.AddMesh(TriangleMesh, model.Triangle())
	reg.AddMesh(CubeMesh, model.Cube())
	if archive == "" {
		return []string{CubeMesh, TriangleMesh}, nil
	}

	r, err := mmap.Open(archive)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	ar, err := kar.Open(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", archive, err.Error())
	}

	meshes, err := model.LoadMeshes(ar)
	if err != nil {
		return nil, err
	}
	if len(meshes) == 0 {
		log.WithField("archive", archive).Warn("archive contains no meshes")
		return []string{CubeMesh, TriangleMesh}, nil
	}

	names := make([]string, 0, len(meshes)+2)
	for name, vertices := range meshes {
		reg.AddMesh(name, vertices)
		names = append(names, name)
	}
	sort.Strings(names)

	log.WithFields(log.Fields{
		"archive": archive,
		"meshes":  names,
	}).Info("meshes loaded")
	for _, builtin := range []string{CubeMesh, TriangleMesh} {
		if _, ok := meshes[builtin]; !ok {
			names = append(names, builtin)
		}
	}
	return names, nil
}

// uploadMeshes copies the named meshes to device memory
func uploadMeshes(engine *core.Engine, names []string) error {
	for _, name := range names {
		h, ok := engine.Registry().LookupMesh(name)
		if !ok {
			return fmt.Errorf("upload %s: %w", name, core.ErrUnknownMesh)
		}
		if err := engine.UploadMesh(h); err != nil {
			return err
		}
	}
	return nil
}

// decodeTexture reads the BMP image at path
func decodeTexture(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := bmp.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", path, err.Error())
	}
	return img, nil
}

// buildScene places the centerpiece at the origin and surrounds it with
// a grid of small triangles, gridSize in each direction.
func buildScene(reg *core.Registry, centerpiece string, centerMaterial, gridMaterial string, gridSize int) ([]core.RenderObject, error) {
	center, ok := reg.LookupMesh(centerpiece)
	if !ok {
		return nil, fmt.Errorf("centerpiece %s: %w", centerpiece, core.ErrUnknownMesh)
	}
	triangle, ok := reg.LookupMesh(TriangleMesh)
	if !ok {
		return nil, fmt.Errorf("grid %s: %w", TriangleMesh, core.ErrUnknownMesh)
	}
	centerMat, ok := reg.LookupMaterial(centerMaterial)
	if !ok {
		return nil, fmt.Errorf("centerpiece %s: %w", centerMaterial, core.ErrUnknownMaterial)
	}
	gridMat, ok := reg.LookupMaterial(gridMaterial)
	if !ok {
		return nil, fmt.Errorf("grid %s: %w", gridMaterial, core.ErrUnknownMaterial)
	}

	side := 2*gridSize + 1
	objects := make([]core.RenderObject, 0, 1+side*side)
	objects = append(objects, core.RenderObject{
		Mesh:      center,
		Material:  centerMat,
		Transform: glm.Ident4(),
	})

	scale := glm.Scale3D(0.2, 0.2, 0.2)
	for x := -gridSize; x <= gridSize; x++ {
		for z := -gridSize; z <= gridSize; z++ {
			objects = append(objects, core.RenderObject{
				Mesh:      triangle,
				Material:  gridMat,
				Transform: glm.Translate3D(float32(x), 0, float32(z)).Mul4(scale),
			})
		}
	}
	return objects, nil
}
