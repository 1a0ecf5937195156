// Package harness runs scripted scenarios against a fresh store.
//
// A scenario names the CUE files declaring its models and a list of steps.
// Each step creates, changes, retracts or finds entities through the model
// layer, exactly as an application would, and may state what it expects.
//
// # Scenario Format
//
//	name: publish_post
//	description: "An author publishes a post"
//	models:
//	  - models/blog.cue
//	steps:
//	  - create: author
//	    as: ada
//	    attrs: { name: Ada, email: ada@example.com }
//	  - create: post
//	    as: hello
//	    attrs: { title: Hello, author: "@ada", tags: [go] }
//	    expect:
//	      attrs: { views: 0 }
//	  - change: hello
//	    attrs: { views: 3 }
//	  - find: post
//	    where: { author: "@ada" }
//	    expect: { found: [hello] }
//	  - create: post
//	    attrs: { body: untitled }
//	    expect: { error: validation, errors: [title] }
//
// Created entities are named by "as"; later steps refer to them as
// "@<alias>" in attribute values and by bare alias in change, retract and
// found. Attribute values are coerced to the attribute's declared type, so
// keywords and instants are written as strings and sets as lists.
//
// # Expectations
//
//   - error: the kind of failure the step must end in (see ErrorKind)
//   - errors: attributes a validation error must name
//   - attrs: attribute values the resulting entity must have
//   - count, found: the entities find must return
//
// # Deterministic Testing
//
// Each run uses a new SQLite store, a deterministic clock and sequential
// temp ids. Traces render every entity through its alias, so the same
// scenario produces the same trace on every run and can be compared to a
// golden file with RunWithGolden.
package harness
