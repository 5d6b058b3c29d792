// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/devblok/vkframe/model"
	"github.com/devblok/vkframe/util/collada"
	"github.com/devblok/vkframe/utility/kar"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"
)

func init() {
	currentUserName = "unknown"
	if u, err := user.Current(); err == nil {
		currentUserName = u.Name
	}
}

var (
	currentUserName string
	author          = flag.String("author", "", "Set the author of the package when compressing")
	version         = flag.Int64("version", 1, "Archive version number to create it with")
	extract         = flag.String("e", "", "Extract the archive given")
	list            = flag.String("l", "", "List the contents of the archive given")
	compress        = flag.String("c", "", "Compress the given file/folder, .dae files are stored as meshes")
	meshes          = flag.Bool("meshes", false, "Add the built-in meshes when compressing")
	dstFile         = flag.String("f", "out.kar", "Destination file, or directory when extracting")
	silent          = flag.Bool("s", false, "Silent")
)

func main() {
	flag.Parse()
	if *silent {
		log.SetLevel(log.WarnLevel)
	}

	ops := 0
	for _, set := range []bool{*extract != "", *list != "", *compress != "" || *meshes} {
		if set {
			ops++
		}
	}

	var err error
	switch {
	case ops > 1:
		err = errors.New("only one operation at a time")
	case *extract != "":
		err = extractFiles(*extract, *dstFile)
	case *list != "":
		err = listFiles(*list)
	case *compress != "" || *meshes:
		err = compressFiles()
	default:
		flag.PrintDefaults()
	}
	if err != nil {
		log.WithError(err).Fatal("kar failed")
	}
}

func compressFiles() error {
	if _, err := os.Stat(*dstFile); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	var filesToCompress []string
	if *compress != "" {
		if err := filepath.Walk(*compress, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}

			filesToCompress = append(filesToCompress, path)
			return nil
		}); err != nil {
			return err
		}
	}

	name := *author
	if name == "" {
		name = currentUserName
	}
	karBuilder, err := kar.NewBuilder(kar.Header{
		Author:      name,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer karBuilder.Close()

	for _, ftc := range filesToCompress {
		if err := addFile(karBuilder, ftc); err != nil {
			return err
		}
		log.WithField("file", ftc).Debug("added")
	}

	if *meshes {
		if err := model.AddMesh(karBuilder, "triangle", model.Triangle()); err != nil {
			return err
		}
		if err := model.AddMesh(karBuilder, "cube", model.Cube()); err != nil {
			return err
		}
	}

	dst, err := os.Create(*dstFile)
	if err != nil {
		return err
	}
	defer dst.Close()

	written, err := karBuilder.WriteTo(dst)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"archive": *dstFile,
		"files":   karBuilder.Len(),
		"bytes":   written,
	}).Info("archive written")
	return nil
}

// addFile stores path as is, except COLLADA documents whose geometries
// are converted and stored as meshes.
func addFile(b *kar.Builder, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.ToLower(filepath.Ext(path)) != ".dae" {
		return b.Add(filepath.ToSlash(path), f)
	}

	doc, err := collada.Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %s", path, err.Error())
	}
	meshes, err := doc.Meshes()
	if err != nil {
		return fmt.Errorf("%s: %s", path, err.Error())
	}
	for name, vertices := range meshes {
		if err := model.AddMesh(b, name, vertices); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"file":     path,
			"mesh":     name,
			"vertices": len(vertices),
		}).Debug("mesh converted")
	}
	return nil
}

func openArchive(path string) (*kar.Archive, io.Closer, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, nil, err
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("%s: %s", path, err.Error())
	}
	return ar, r, nil
}

func listFiles(path string) error {
	ar, closer, err := openArchive(path)
	if err != nil {
		return err
	}
	defer closer.Close()

	header := ar.Header()
	log.WithFields(log.Fields{
		"author":  header.Author,
		"created": time.Unix(header.DateCreated, 0),
		"version": header.Version,
	}).Info(path)
	for _, name := range ar.Names() {
		fmt.Println(name)
	}
	return nil
}

func extractFiles(path, dstDir string) error {
	ar, closer, err := openArchive(path)
	if err != nil {
		return err
	}
	defer closer.Close()

	for _, name := range ar.Names() {
		target := filepath.Join(dstDir, filepath.FromSlash(name))
		if rel, err := filepath.Rel(dstDir, target); err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("%s: entry escapes %s", name, dstDir)
		}
		if err := extractFile(ar, name, target); err != nil {
			return err
		}
		log.WithField("file", target).Debug("extracted")
	}
	return nil
}

func extractFile(ar *kar.Archive, name, target string) error {
	r, err := ar.Open(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return err
	}
	if n != r.Size() {
		return fmt.Errorf("%s: extracted %d bytes, expected %d", name, n, r.Size())
	}
	return nil
}
