package store

import (
	"fmt"
	"sync"

	"github.com/fospitia/dynorm/schema"
)

// Registry maps entity names to compiled models. Models are compiled lazily
// on the first Model call and memoized; the registry also holds the shared
// store client and schema document. Construct one registry per process, or
// several independent ones in tests.
type Registry struct {
	client DynamoDBClient
	doc    schema.Document
	config Config

	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry creates a registry over the given client and schema document.
func NewRegistry(client DynamoDBClient, doc schema.Document, config Config) *Registry {
	config.validate()
	return &Registry{
		client: client,
		doc:    doc,
		config: config,
		models: make(map[string]*Model),
	}
}

// Model returns the compiled model for name, compiling it on first request.
func (r *Registry) Model(name string) (*Model, error) {
	r.mu.RLock()
	m, ok := r.models[name]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[name]; ok {
		return m, nil
	}

	s, err := schema.Compile(r.doc, name)
	if err != nil {
		return nil, err
	}
	m = &Model{
		name:     name,
		registry: r,
		schema:   s,
		table:    r.config.TablePrefix + s.TableName,
	}
	r.models[name] = m
	return m, nil
}

// MustModel is like Model but panics on error. Intended for init paths where
// a broken schema document is unrecoverable.
func (r *Registry) MustModel(name string) *Model {
	m, err := r.Model(name)
	if err != nil {
		panic(fmt.Sprintf("dynorm: compile model %q: %v", name, err))
	}
	return m
}

// ModelForTable resolves the model whose schema is backed by table. Used by
// stream handlers that only know the source table of a record.
func (r *Registry) ModelForTable(table string) (*Model, error) {
	for name, def := range r.doc {
		if r.config.TablePrefix+def.TableName == table {
			return r.Model(name)
		}
	}
	return nil, fmt.Errorf("dynorm: no schema for table %q", table)
}

// Client returns the shared store client.
func (r *Registry) Client() DynamoDBClient { return r.client }
