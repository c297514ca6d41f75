package asicio

// CRC5 is the 5-bit command frame checksum: poly 0x05, init 0x1F, MSB first,
// no reflection and no final xor.
func CRC5(data []byte) uint8 {
	crc := uint8(0x1f)

	for _, b := range data {
		for i := 7; i >= 0; i-- {
			din := (b >> uint(i)) & 1
			fb := ((crc >> 4) & 1) ^ din
			crc = (crc << 1) & 0x1f
			if fb != 0 {
				crc ^= 0x05
			}
		}
	}

	return crc
}

var crc16Table = makeCRC16Table(0x1021)

func makeCRC16Table(poly uint16) [256]uint16 {
	var t [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// CRC16False is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection.
func CRC16False(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}
