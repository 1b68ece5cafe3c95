// Package fm provides the data model shared between the solver client, the
// configuration pipeline and the consistency checker.
//
// # Overview
//
// A feature model is owned by an external solver. The solver exports it as a
// JSON array of features, each carrying a list of attributes. Attributes are
// discovered by shape at read time: an attribute value is either a scalar
// (string, number, bool) or a nested list of attributes. The Model type holds
// one such export and is never mutated after decoding; a refresh produces a
// new Model.
//
// # Threads and Events
//
// A feature whose attributes contain type = "BThread" describes a controllable
// thread. Each of its attributes whose nested list contains type = "BEvent"
// describes one event the thread bids on:
//
//	feature AddHot
//	    type = "BThread"
//	    HOT { type = "BEvent", requested = 1, priority = 1 }
//
// Model.Threads turns such features into ThreadSpec values keyed by thread
// name. The same ThreadSpec type is used for what a running thread actually
// bids, so both sides can be compared field by field.
//
// # Configurations
//
// A Configuration maps thread names to whether the thread should be active.
// Configurations are compared structurally with Equal; a nil Configuration
// means "no configuration available".
package fm
