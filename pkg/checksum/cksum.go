package checksum

import (
	"io"

	"github.com/arch-repo-builder/arb/pkg/errs"
)

// cksumTable is the non-reflected CRC-32 table (polynomial 0x04C11DB7)
// the POSIX cksum(1) utility uses, distinct from the reflected table
// behind hash/crc32's IEEE polynomial.
var cksumTable = buildCksumTable()

func buildCksumTable() [256]uint32 {
	var table [256]uint32

	const poly = 0x04C11DB7

	for i := range table {
		crc := uint32(i) << 24 //nolint:gosec // i is bounded [0,256)

		for range 8 {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}

		table[i] = crc
	}

	return table
}

func cksumUpdate(crc uint32, b byte) uint32 {
	return (crc << 8) ^ cksumTable[byte(crc>>24)^b]
}

// sumCksum implements the POSIX cksum algorithm: a non-reflected CRC-32
// over the stream followed by the byte length fed back through the same
// accumulator (least-significant byte first), then complemented. It
// returns the 4-byte big-endian digest.
func sumCksum(r io.Reader) ([]byte, error) {
	var (
		crc    uint32
		length uint64
	)

	buf := make([]byte, bufferSize)

	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			crc = cksumUpdate(crc, b)
		}

		length += uint64(n)

		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, errs.Wrap(err, errs.IO, "streaming cksum input")
		}
	}

	for length != 0 {
		crc = cksumUpdate(crc, byte(length&0xff))
		length >>= 8
	}

	crc = ^crc

	return []byte{
		byte(crc >> 24),
		byte(crc >> 16),
		byte(crc >> 8),
		byte(crc),
	}, nil
}
