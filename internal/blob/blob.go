// Package blob is the content-addressed attachment store. The chat core only
// keeps the returned reference; bytes live here.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nikhil/eavenchat/internal/chaterr"
	"github.com/nikhil/eavenchat/internal/models"
)

// Storage domains. Project conversations keep files with project documents;
// direct and group chat files live apart from them.
const (
	DomainChat     = "chat"
	DomainProjects = "projects"
)

// Store holds blobs of one storage domain.
type Store interface {
	Domain() string
	Put(ctx context.Context, name, mediaType string, r io.Reader) (models.Attachment, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Stat returns the stored size of ref.
	Stat(ctx context.Context, ref string) (int64, error)
}

// DomainOf extracts the domain from a reference of the form "<domain>/<sha256>".
func DomainOf(ref string) string {
	domain, _, ok := strings.Cut(ref, "/")
	if !ok {
		return ""
	}
	return domain
}

func hashOf(ref string) (string, bool) {
	_, hash, ok := strings.Cut(ref, "/")
	if !ok || len(hash) != sha256.Size*2 {
		return "", false
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", false
	}
	return hash, true
}

// DiskStore keeps blobs under Dir/<domain>/<sha256>.
type DiskStore struct {
	Dir     string
	Name    string
	BaseURL string
}

// NewDiskStore creates the domain directory if needed.
func NewDiskStore(dir, domain, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, domain), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return &DiskStore{Dir: dir, Name: domain, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (d *DiskStore) Domain() string { return d.Name }

func (d *DiskStore) Put(ctx context.Context, name, mediaType string, r io.Reader) (models.Attachment, error) {
	tmp, err := os.CreateTemp(filepath.Join(d.Dir, d.Name), ".upload-*")
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to write blob: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	if err := os.Rename(tmp.Name(), filepath.Join(d.Dir, d.Name, hash)); err != nil {
		return models.Attachment{}, fmt.Errorf("failed to store blob: %w", err)
	}
	ref := d.Name + "/" + hash
	return models.Attachment{
		Name:      name,
		Size:      size,
		MediaType: mediaType,
		Ref:       ref,
		URL:       d.BaseURL + "/" + ref,
	}, nil
}

func (d *DiskStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	hash, ok := hashOf(ref)
	if !ok || DomainOf(ref) != d.Name {
		return nil, chaterr.NotFound("blob not found")
	}
	f, err := os.Open(filepath.Join(d.Dir, d.Name, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, chaterr.NotFound("blob not found")
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

func (d *DiskStore) Stat(ctx context.Context, ref string) (int64, error) {
	hash, ok := hashOf(ref)
	if !ok || DomainOf(ref) != d.Name {
		return 0, chaterr.NotFound("blob not found")
	}
	info, err := os.Stat(filepath.Join(d.Dir, d.Name, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, chaterr.NotFound("blob not found")
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), nil
}

// MemoryStore keeps blobs in memory.
type MemoryStore struct {
	Name    string
	BaseURL string

	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore(domain string) *MemoryStore {
	return &MemoryStore{Name: domain, BaseURL: "/blobs", blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Domain() string { return m.Name }

func (m *MemoryStore) Put(_ context.Context, name, mediaType string, r io.Reader) (models.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to read blob: %w", err)
	}
	sum := sha256.Sum256(data)
	ref := m.Name + "/" + hex.EncodeToString(sum[:])
	m.mu.Lock()
	m.blobs[ref] = data
	m.mu.Unlock()
	return models.Attachment{
		Name:      name,
		Size:      int64(len(data)),
		MediaType: mediaType,
		Ref:       ref,
		URL:       m.BaseURL + "/" + ref,
	}, nil
}

func (m *MemoryStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.blobs[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, chaterr.NotFound("blob not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Stat(_ context.Context, ref string) (int64, error) {
	m.mu.RLock()
	data, ok := m.blobs[ref]
	m.mu.RUnlock()
	if !ok {
		return 0, chaterr.NotFound("blob not found")
	}
	return int64(len(data)), nil
}

// Router picks the store for a channel and moves blobs between domains.
type Router struct {
	stores map[string]Store
}

// NewRouter indexes stores by domain.
func NewRouter(stores ...Store) *Router {
	r := &Router{stores: make(map[string]Store, len(stores))}
	for _, s := range stores {
		r.stores[s.Domain()] = s
	}
	return r
}

// DomainFor returns the storage domain of a channel.
func DomainFor(ch models.Channel) string {
	if ch.Kind == models.KindProject {
		return DomainProjects
	}
	return DomainChat
}

// Store returns the store of domain.
func (r *Router) Store(domain string) (Store, bool) {
	s, ok := r.stores[domain]
	return s, ok
}

// Open reads a blob from whichever domain its reference names.
func (r *Router) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	s, ok := r.stores[DomainOf(ref)]
	if !ok {
		return nil, chaterr.NotFound("blob not found")
	}
	return s.Open(ctx, ref)
}

// Stat sizes a blob in whichever domain its reference names.
func (r *Router) Stat(ctx context.Context, ref string) (int64, error) {
	s, ok := r.stores[DomainOf(ref)]
	if !ok {
		return 0, chaterr.NotFound("blob not found")
	}
	return s.Stat(ctx, ref)
}

// Transfer returns an attachment usable in dst. Blobs already in dst's domain
// are returned unchanged; others are copied into it.
func (r *Router) Transfer(ctx context.Context, a models.Attachment, dst models.Channel) (models.Attachment, error) {
	domain := DomainFor(dst)
	if DomainOf(a.Ref) == domain {
		return a, nil
	}
	target, ok := r.stores[domain]
	if !ok {
		return models.Attachment{}, fmt.Errorf("no blob store for domain %q", domain)
	}
	src, err := r.Open(ctx, a.Ref)
	if err != nil {
		return models.Attachment{}, err
	}
	defer src.Close()

	moved, err := target.Put(ctx, a.Name, a.MediaType, src)
	if err != nil {
		return models.Attachment{}, err
	}
	return moved, nil
}
