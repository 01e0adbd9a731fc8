package tournament

// messageLimit is Discord's maximum message length.
const messageLimit = 2000

// splitMessage joins lines into as few messages as fit under limit,
// breaking only at line boundaries. A single oversized line gets its own
// message rather than being cut.
func splitMessage(lines []string, limit int) []string {
	var (
		chunks  []string
		current string
	)
	for _, line := range lines {
		if current == "" {
			current = line
			continue
		}
		if len(current)+1+len(line) > limit {
			chunks = append(chunks, current)
			current = line
			continue
		}
		current += "\n" + line
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}
