package rtpwire

import "hash/crc32"

// CRC32 mirrors the original engine's Common::crc32(0, data, size) helper:
// the standard IEEE CRC-32 (hash/crc32 applies the initial and final
// complement internally), so a zero-length call returns 0 and the value is directly comparable
// across the splitter and collector without post-processing.
func CRC32(data []byte) uint32 {
	return crc32.Update(0, crc32.IEEETable, data)
}
