// Package checksum provides the CRC32C (Castagnoli) checksum used to guard
// every on-disk structure: block trailers, WAL fragments, and write-ahead
// records all embed a checksum computed here.
package checksum

import "hash/crc32"

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Value computes the CRC32C checksum of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// Extend computes the CRC32C of concat(a, data) where initCRC is the CRC32C of a.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, crc32cTable, data)
}
