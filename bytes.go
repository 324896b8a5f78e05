package bbpe

import "sort"

// bytesToUnicode builds the reversible mapping from raw bytes to printable
// runes used by byte-level BPE. Printable Latin-1 bytes map to themselves;
// the rest are shifted above 255 in byte order.
func bytesToUnicode() (byteToRune [256]rune, runeToByte map[rune]byte) {
	runeToByte = make(map[rune]byte, 256)
	printable := make(map[byte]bool, 256)
	for b := uint16('!'); b < uint16('~')+1; b++ {
		printable[byte(b)] = true
	}
	for b := uint16('¡'); b < uint16('¬')+1; b++ {
		printable[byte(b)] = true
	}
	for b := uint16('®'); b < uint16('ÿ')+1; b++ {
		printable[byte(b)] = true
	}
	uct := 0
	for b := 0; b < 256; b++ {
		if printable[byte(b)] {
			byteToRune[b] = rune(b)
		} else {
			byteToRune[b] = rune(256 + uct)
			uct += 1
		}
		runeToByte[byteToRune[b]] = byte(b)
	}
	return byteToRune, runeToByte
}

// byteAlphabet returns the 256 byte-level symbols ordered by code point.
func byteAlphabet() []string {
	byteToRune, _ := bytesToUnicode()
	runes := make([]rune, 0, 256)
	for _, r := range byteToRune {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	alphabet := make([]string, len(runes))
	for idx, r := range runes {
		alphabet[idx] = string(r)
	}
	return alphabet
}
