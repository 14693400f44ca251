// Package ogg inspects and frames raw Ogg pages carrying an Opus stream.
//
// The relay never decodes audio. It only needs to know where a page's payload
// starts and whether that payload begins with one of the two Opus header
// markers, "OpusHead" (identification) or "OpusTags" (comments). Everything
// else is treated as an opaque data page.
//
// Page layout (RFC 3533):
//
//	offset  0  "OggS" capture pattern
//	offset  4  stream structure version (0)
//	offset  5  header type flags
//	offset  6  granule position (int64, little endian)
//	offset 14  bitstream serial number
//	offset 18  page sequence number
//	offset 22  CRC32 checksum
//	offset 26  number of segments
//	offset 27  segment table, one lacing byte per segment
//	           payload follows the table
package ogg
