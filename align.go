package retrofitgki

// AlignTo rounds n up to the next multiple of pageSize. pageSize must be a
// power of two.
func AlignTo(n, pageSize uint64) uint64 {
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// Padding returns the zero bytes that place the next segment on a page
// boundary after n bytes.
func Padding(n, pageSize uint64) []byte {
	return make([]byte, AlignTo(n, pageSize)-n)
}
