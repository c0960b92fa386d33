package openai

// SplitChunks cuts s into pieces of at most size characters. Joining the
// pieces gives back s.
func SplitChunks(s string, size int) []string {
	if size < 1 {
		size = DefaultChunkSize
	}
	if s == "" {
		return nil
	}

	var out []string
	start, count := 0, 0
	for i := range s {
		if count == size {
			out = append(out, s[start:i])
			start, count = i, 0
		}
		count++
	}
	out = append(out, s[start:])
	return out
}
