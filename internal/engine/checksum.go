package engine

import "github.com/cespare/xxhash/v2"

// Checksum folds the value of property into a number. A missing or empty
// value contributes zero.
func Checksum(sess Session, property string) uint64 {
	v, ok := sess.Property(property)
	if !ok || v == "" {
		return 0
	}
	return xxhash.Sum64String(v)
}
