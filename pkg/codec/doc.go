// Package codec serializes object graphs to JSON while preserving identity.
//
// # Overview
//
// A state document is a tree of JSON objects. Every object that implements
// Marshaler is written with two bookkeeping keys:
//
//	{"__class__": "Instance", "__id__": "0", "name": "cluster.instance#0", ...}
//
// Identifiers are allocated per type tag, sequentially from "0". The second
// and later appearances of the same in-memory object are written as a
// back-reference carrying only the "__class__" and "__id__" keys. When the
// document is read back, every back-reference resolves to the instance that
// was materialized for the first appearance, so shared sub-graphs stay shared.
//
// # Field Visiting
//
// Types do not describe themselves through reflection. Instead MarshalState
// walks the fields of the object in a fixed order and hands each of them to a
// Visitor as a slot, which is a pointer the codec may read from (when
// writing) or store into (when reading):
//
//	func (r *Host) MarshalState(v codec.Visitor) error {
//	    if err := v.Inline("address", &r.address); err != nil {
//	        return err
//	    }
//	    return v.Inline("key", codec.Object(&r.key))
//	}
//
// Inline and Offline carry a storage hint; both currently produce the same
// encoding.
//
// # Special Encodings
//
// Byte payloads are written as {"_bytes_object": "<base64>", "_encoding":
// "base64"}; a payload without "_encoding" is read as raw text. String sets
// are written as {"_set_object": [...]} with sorted members. Everything
// else is encoded with its natural JSON shape.
//
// # Schema Evolution
//
// The reader ignores keys it does not visit and leaves fields that are
// absent from the document at the value the constructor gave them, logging
// a warning for each.
package codec
