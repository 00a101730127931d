// Package model defines the data entities shared by the store, the crawler
// and the rewrite engine.
//
// ContentRecord is the metadata of one mirrored URL. It is serialized with
// msgpack into the store index; its body lives in a separate blob named by
// ContentStoreID.
package model
