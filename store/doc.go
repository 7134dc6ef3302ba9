// Package store implements a schema-driven entity layer over DynamoDB.
//
// A shared schema document declares every entity type: properties, primary
// key, secondary indexes, relations, timestamps and an optional version
// attribute. The [Registry] compiles definitions lazily into [Model] values
// and memoizes them; models implement the entity lifecycle.
//
// # Lifecycle
//
// An entity is constructed in memory ([Model.New]) or hydrated from a
// fetched record ([Model.Get], [Model.Find]). Saving resolves relation
// values, validates against the compiled schema, enforces unique indexes,
// manages timestamps and the version attribute, and writes with a
// conditional guard:
//
//	users := reg.MustModel("User")
//	u := users.New(map[string]any{"id": "u1", "email": "a@x.com"})
//	if err := users.Save(ctx, u); err != nil { ... }
//
// # Optimistic versioning
//
// A property flagged version is checked-and-advanced on every save and
// update. Integer versions increment by one; date-time versions are set to
// the current time. A concurrent writer invalidating the guard surfaces as
// [ErrConstraintViolation].
//
// # Uniqueness
//
// Indexes flagged unique are queried before every save; a colliding row
// fails the save with [ErrUniqueConstraint]. The check and the put are two
// separate store requests, so a concurrent writer can create a duplicate in
// the window between them. Workloads that cannot tolerate the window need a
// conditional write keyed on the unique attribute itself, which this engine
// does not provide.
//
// # Relations
//
// A relation property references another entity type through a join mapping
// (local attribute to foreign attribute). Records store the flattened join
// attributes; [Model.Populate] batch-resolves them back into hydrated
// entities across a result page.
//
// # Errors
//
// Expected failure conditions are typed:
//
//   - [ErrRelationNotFound] - unresolved relation value matches no row
//   - schema.ErrValidation - document validation failed
//   - [ErrMissingIndexValue] - unique index key component absent
//   - [ErrUniqueConstraint] - unique index collision
//   - [ErrUnsupportedVersionType] - version property is not integer or date-time
//   - [ErrConstraintViolation] - conditional write rejected by the store
//
// Store errors propagate wrapped; none are retried except unprocessed
// entries of batched reads and writes.
package store
