// Package model maps typed entities onto the datom store.
//
// A Model declares a kind of entity: a namespace, a partition and an
// ordered list of attributes, each with a Type that decodes stored values,
// encodes host values and turns an assignment into edits. Every entity of
// a model carries a discriminator fact, :<ns>/type :<ns>.type/<name>,
// which references and finders check before treating an entity as that
// model.
//
// Writes go through a Changer:
//
//	c, err := repo.Create(post, func(c *model.Changer) error {
//		return c.Assign("title", "hello")
//	})
//	inst, err := c.Commit(ctx)
//
// A Changer compares pending values with the values it was created from,
// so committing emits only what changed. Set attributes are diffed member
// by member. A reference may hold another pending Changer; its edits are
// emitted first, in the same transaction, so both entities are created
// atomically and the temp id used by the reference resolves to the new
// entity.
//
// Reads go through Instances and Finders, which are pinned to a snapshot
// and never observe later transactions.
package model
