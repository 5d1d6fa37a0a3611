// Package humanize renders byte counts the way the verbose diagnostic
// output does: an automatic B/KB/MB/GB/TB unit pick instead of a raw
// integer.
package humanize

import "fmt"

// Bytes is a byte count with a human-readable String form.
type Bytes uint64

// String returns b formatted with the largest unit that keeps the number
// at least 1.
func (b Bytes) String() string {
	switch {
	case b >= 1<<40:
		return fmt.Sprintf("%.2f TB", float64(b)/(1<<40))
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", uint64(b))
	}
}
