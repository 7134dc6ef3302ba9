package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fospitia/dynorm/internal/batch"
)

// Populate resolves relation fields across a collection of raw records:
// distinct foreign-key values are grouped per referenced table, fetched in
// one batched multi-table read, and each record gets a hydrated referenced
// entity attached under the field name. Records and fields that resolve to
// nothing are left unmodified.
func (m *Model) Populate(ctx context.Context, fields []string, records []map[string]any) error {
	rels := m.schema.Relations()

	type target struct {
		record   map[string]any
		field    string
		refModel *Model
		sig      string
	}
	var targets []target
	tableKeys := make(map[string][]batch.Item)
	seen := make(map[string]map[string]bool)

	for _, field := range fields {
		rel, ok := rels[field]
		if !ok {
			continue
		}
		refModel, err := m.registry.Model(rel.Ref)
		if err != nil {
			return err
		}

		for _, record := range records {
			keyAttrs := make(map[string]any)
			if stub, ok := record[field].(map[string]any); ok {
				for k, v := range stub {
					keyAttrs[k] = v
				}
			} else {
				for local, foreign := range rel.Join {
					if v, ok := record[local]; ok && v != nil {
						keyAttrs[foreign] = v
					}
				}
			}
			if len(keyAttrs) == 0 {
				continue
			}

			key := refModel.keyFromAttrs(keyAttrs)
			if isEmptyValue(key[refModel.schema.HashKey]) {
				continue
			}
			sig := keySignature(key)

			table := refModel.table
			if seen[table] == nil {
				seen[table] = make(map[string]bool)
			}
			if !seen[table][sig] {
				seen[table][sig] = true
				keyAV, err := refModel.keyItem(key)
				if err != nil {
					return err
				}
				tableKeys[table] = append(tableKeys[table], keyAV)
			}
			targets = append(targets, target{record, field, refModel, sig})
		}
	}
	if len(tableKeys) == 0 {
		return nil
	}

	results, err := batch.GetKeys(ctx, m.registry.client, tableKeys)
	if err != nil {
		return fmt.Errorf("populate %s: %w", m.name, err)
	}

	// Index fetched rows by table and key signature.
	fetched := make(map[string]map[string]*Entity)
	for _, t := range targets {
		table := t.refModel.table
		if fetched[table] != nil {
			continue
		}
		fetched[table] = make(map[string]*Entity)
		for _, item := range results[table] {
			record, err := itemToRecord(item)
			if err != nil {
				return fmt.Errorf("populate %s: %w", m.name, err)
			}
			ent := t.refModel.hydrate(record)
			fetched[table][keySignature(ent.Key())] = ent
		}
	}

	for _, t := range targets {
		if ent, ok := fetched[t.refModel.table][t.sig]; ok {
			t.record[t.field] = ent
		}
	}
	return nil
}

// keySignature canonicalizes a primary key projection for deduplication.
func keySignature(key map[string]any) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, key[name]))
	}
	return strings.Join(parts, "|")
}
