package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/backkem/bluenet/pkg/crypto"
)

const fileVersion = 1

// fileDoc is the on-disk layout. When sealed, Spheres is empty and Sealed
// holds the hex encoded sealed YAML of the sphere list.
type fileDoc struct {
	Version int         `yaml:"version"`
	Sealed  string      `yaml:"sealed,omitempty"`
	Spheres []sphereDoc `yaml:"spheres,omitempty"`
}

type sphereDoc struct {
	Reference      string `yaml:"reference"`
	SphereUID      uint8  `yaml:"sphere_uid"`
	AdminKey       string `yaml:"admin_key,omitempty"`
	MemberKey      string `yaml:"member_key,omitempty"`
	GuestKey       string `yaml:"guest_key,omitempty"`
	ServiceDataKey string `yaml:"service_data_key,omitempty"`
}

// FileStore keeps spheres in a YAML file with hex encoded keys. With a
// passphrase the sphere list is sealed with XChaCha20-Poly1305 under a
// PBKDF2 derived key.
type FileStore struct {
	path       string
	passphrase []byte

	mu sync.Mutex
}

// NewFileStore opens path. The file is created on first save. An empty
// passphrase stores keys in the clear.
func NewFileStore(path string, passphrase []byte) *FileStore {
	return &FileStore{path: path, passphrase: append([]byte(nil), passphrase...)}
}

// Path returns the file location.
func (f *FileStore) Path() string { return f.path }

// LoadSpheres reads all spheres. A missing file holds no spheres.
func (f *FileStore) LoadSpheres() ([]*Sphere, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// SaveSphere stores or replaces a sphere.
func (f *FileStore) SaveSphere(s *Sphere) error {
	if err := s.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	spheres, err := f.load()
	if err != nil {
		return err
	}
	replaced := false
	for i, cur := range spheres {
		if cur.ReferenceID == s.ReferenceID {
			spheres[i] = s.Clone()
			replaced = true
		}
	}
	if !replaced {
		spheres = append(spheres, s.Clone())
	}
	return f.save(spheres)
}

// DeleteSphere removes a sphere. Deleting an unknown sphere succeeds.
func (f *FileStore) DeleteSphere(referenceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	spheres, err := f.load()
	if err != nil {
		return err
	}
	kept := spheres[:0]
	for _, s := range spheres {
		if s.ReferenceID != referenceID {
			kept = append(kept, s)
		}
	}
	return f.save(kept)
}

func (f *FileStore) load() ([]*Sphere, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc fileDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", f.path, err)
	}
	if doc.Version != fileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	docs := doc.Spheres
	if doc.Sealed != "" {
		if len(f.passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		sealed, err := hex.DecodeString(doc.Sealed)
		if err != nil {
			return nil, fmt.Errorf("keystore: sealed payload: %w", err)
		}
		plain, err := crypto.OpenWithPassphrase(f.passphrase, sealed)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(plain, &docs); err != nil {
			return nil, fmt.Errorf("keystore: parse sealed payload: %w", err)
		}
	}

	spheres := make([]*Sphere, 0, len(docs))
	for _, d := range docs {
		s, err := d.sphere()
		if err != nil {
			return nil, err
		}
		spheres = append(spheres, s)
	}
	return spheres, nil
}

func (f *FileStore) save(spheres []*Sphere) error {
	docs := make([]sphereDoc, len(spheres))
	for i, s := range spheres {
		docs[i] = sphereDoc{
			Reference:      s.ReferenceID,
			SphereUID:      s.SphereUID,
			AdminKey:       hex.EncodeToString(s.AdminKey),
			MemberKey:      hex.EncodeToString(s.MemberKey),
			GuestKey:       hex.EncodeToString(s.GuestKey),
			ServiceDataKey: hex.EncodeToString(s.ServiceDataKey),
		}
	}

	doc := fileDoc{Version: fileVersion}
	if len(f.passphrase) > 0 {
		plain, err := yaml.Marshal(docs)
		if err != nil {
			return err
		}
		sealed, err := crypto.SealWithPassphrase(f.passphrase, plain)
		if err != nil {
			return err
		}
		doc.Sealed = hex.EncodeToString(sealed)
	} else {
		doc.Spheres = docs
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (d sphereDoc) sphere() (*Sphere, error) {
	s := &Sphere{ReferenceID: d.Reference, SphereUID: d.SphereUID}
	fields := []struct {
		hex string
		dst *[]byte
	}{
		{d.AdminKey, &s.AdminKey},
		{d.MemberKey, &s.MemberKey},
		{d.GuestKey, &s.GuestKey},
		{d.ServiceDataKey, &s.ServiceDataKey},
	}
	for _, fl := range fields {
		if fl.hex == "" {
			continue
		}
		k, err := hex.DecodeString(fl.hex)
		if err != nil {
			return nil, fmt.Errorf("keystore: sphere %q: %w", d.Reference, err)
		}
		*fl.dst = k
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var _ Store = (*FileStore)(nil)
