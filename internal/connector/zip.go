package connector

// zipMagic is the container-format signature of a packaged artifact.
var zipMagic = []byte{0x50, 0x4B}

// HasZipSignature checks the container-format magic bytes of an artifact
// binary. A mismatch is a warning, never a hard failure: legitimate encoding
// variance exists on the relay path.
func HasZipSignature(content []byte) bool {
	if len(content) < len(zipMagic) {
		return false
	}
	return content[0] == zipMagic[0] && content[1] == zipMagic[1]
}
