package routing

// PlaneTable computes the plane assignment for a file-cycle series in which
// every file holds one frame (or a short stack) and the plane advances one
// step per file. The table tiles [0..planes) across the file list; a
// bidirectional acquisition tiles the palindrome [0..planes) followed by
// its reverse instead. No cursor is needed: the table is computed once for
// the whole list.
func PlaneTable(planes, nfiles int, bidirectional bool) []int {
	base := make([]int, 0, 2*planes)
	for i := 0; i < planes; i++ {
		base = append(base, i)
	}
	if bidirectional {
		for i := planes - 1; i >= 0; i-- {
			base = append(base, i)
		}
	}
	table := make([]int, nfiles)
	for i := range table {
		table[i] = base[i%len(base)]
	}
	return table
}
