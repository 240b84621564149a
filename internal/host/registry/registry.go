package registry

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/pkgbroker/internal/domain/install"
)

// certificateBlock is the PEM block type of a certificate.
const certificateBlock = "CERTIFICATE"

var (
	errDuplicatePackage = errors.New("duplicate package")
	errNoCertificates   = errors.New("no certificates")
	errEmptyName        = errors.New("package without a name")
)

// Package is one registry entry.
type Package struct {
	// Name is the package name.
	Name string `yaml:"name"`
	// UID is the user id the package runs as.
	UID uint32 `yaml:"uid"`
	// Certificates lists PEM files, relative paths resolve against the registry file.
	Certificates []string `yaml:"certificates"`
}

// File is the registry file layout.
type File struct {
	Packages []Package `yaml:"packages"`
}

// Registry implements install.IdentityService.
type Registry struct {
	// packages keeps the file order.
	packages []Package
	// certificates holds the DER blobs of every package in file order.
	certificates map[string][][]byte
}

// Load reads the registry and every certificate it references.
func Load(path string) (*Registry, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var file File
	if err = yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("unmarshal registry: %w", err)
	}

	return New(file, filepath.Dir(path))
}

// New builds a registry, resolving certificate paths against baseDir.
func New(file File, baseDir string) (*Registry, error) {
	r := &Registry{
		packages:     slices.Clone(file.Packages),
		certificates: make(map[string][][]byte, len(file.Packages)),
	}

	for _, pkg := range file.Packages {
		if pkg.Name == "" {
			return nil, errEmptyName
		}

		if _, ok := r.certificates[pkg.Name]; ok {
			return nil, fmt.Errorf("%s: %w", pkg.Name, errDuplicatePackage)
		}

		var blobs [][]byte

		for _, certificatePath := range pkg.Certificates {
			if !filepath.IsAbs(certificatePath) {
				certificatePath = filepath.Join(baseDir, certificatePath)
			}

			decoded, err := readCertificates(certificatePath)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pkg.Name, err)
			}

			blobs = append(blobs, decoded...)
		}

		if len(blobs) == 0 {
			return nil, fmt.Errorf("%s: %w", pkg.Name, errNoCertificates)
		}

		r.certificates[pkg.Name] = blobs
	}

	return r, nil
}

// PackagesForCaller lists the packages running as caller in registry order.
func (r *Registry) PackagesForCaller(_ context.Context, caller install.CallerID) ([]string, error) {
	var names []string

	for _, pkg := range r.packages {
		if pkg.UID == uint32(caller) {
			names = append(names, pkg.Name)
		}
	}

	return names, nil
}

// Certificates returns the DER certificates of a package in registry order.
func (r *Registry) Certificates(_ context.Context, packageName string) ([][]byte, error) {
	blobs, ok := r.certificates[packageName]
	if !ok {
		return nil, fmt.Errorf("%s: %w", packageName, install.ErrPackageNotFound)
	}

	cloned := make([][]byte, 0, len(blobs))
	for _, blob := range blobs {
		cloned = append(cloned, slices.Clone(blob))
	}

	return cloned, nil
}

// readCertificates decodes every certificate block of a PEM file.
func readCertificates(path string) ([][]byte, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}

	var blobs [][]byte

	for {
		var block *pem.Block

		block, contents = pem.Decode(contents)
		if block == nil {
			break
		}

		if block.Type == certificateBlock {
			blobs = append(blobs, block.Bytes)
		}
	}

	if len(blobs) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errNoCertificates)
	}

	return blobs, nil
}
