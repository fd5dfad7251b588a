package flurry

import (
	"encoding/binary"
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/constraints"
)

// Strategy computes the hash used to place an element. Equality between
// elements is always Go ==; a strategy must hash equal elements equally.
type Strategy[T any] interface {
	Hash(item T) uint64
}

// DefaultStrategy hashes any comparable type through the runtime hash
// with a per-strategy random seed.
func DefaultStrategy[T comparable]() Strategy[T] {
	return &comparableStrategy[T]{seed: maphash.MakeSeed()}
}

// StringStrategy hashes string-like elements with xxhash.
func StringStrategy[T ~string]() Strategy[T] {
	return stringStrategy[T]{}
}

// IntegerStrategy hashes integer elements via their fixed-width
// little-endian encoding.
func IntegerStrategy[T constraints.Integer]() Strategy[T] {
	return integerStrategy[T]{}
}

type comparableStrategy[T comparable] struct {
	seed maphash.Seed
}

func (cs *comparableStrategy[T]) Hash(item T) uint64 {
	return maphash.Comparable(cs.seed, item)
}

type stringStrategy[T ~string] struct{}

func (stringStrategy[T]) Hash(item T) uint64 {
	return xxhash.Sum64String(string(item))
}

type integerStrategy[T constraints.Integer] struct{}

func (integerStrategy[T]) Hash(item T) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(item))
	return xxhash.Sum64(buf[:])
}
