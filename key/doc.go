// Package key derives canonical, comparable query identities from a data
// domain name plus a parameter map.
//
// Two keys built from the same domain and semantically-equal parameters are
// equal regardless of map iteration order and regardless of nil parameters,
// which are omitted. Keys are values: once built they are never mutated.
package key
