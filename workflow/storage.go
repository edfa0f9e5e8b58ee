package workflow

import (
	"encoding/json"
	"sync"

	"dataset_metadata_publisher/metadata"
)

// Storage is the per-session key/value store that survives page loads.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// MemoryStorage is a goroutine-safe in-memory Storage.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: map[string]string{}}
}

func (m *MemoryStorage) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryStorage) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *MemoryStorage) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// StoreFiles writes the uploaded file descriptors under datasetFiles.
func StoreFiles(s Storage, files []metadata.FileDescriptor) error {
	data, err := json.Marshal(files)
	if err != nil {
		return err
	}
	s.Set(metadata.KeyDatasetFiles, string(data))
	return nil
}

// LoadFiles reads datasetFiles. ok is false when the key is absent.
func LoadFiles(s Storage) (files []metadata.FileDescriptor, ok bool, err error) {
	raw, ok := s.Get(metadata.KeyDatasetFiles)
	if !ok {
		return nil, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return nil, true, err
	}
	return files, true, nil
}

// GeneratedValues reads every persisted generated field value.
func GeneratedValues(s Storage) map[metadata.FieldID]string {
	out := map[metadata.FieldID]string{}
	for _, id := range metadata.FieldIDs() {
		if v, ok := s.Get(id.StorageKey()); ok && v != "" {
			out[id] = v
		}
	}
	return out
}
