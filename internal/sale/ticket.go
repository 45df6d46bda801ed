package sale

import "fmt"

// formatTicket renders a counter value as the customer-facing ticket code.
// Zero-padded so codes sort lexicographically in the same order they were
// issued.
func formatTicket(n int64) string {
	return fmt.Sprintf("%08d", n)
}
