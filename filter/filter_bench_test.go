package filter

import (
	"fmt"
	"testing"

	"github.com/dhcgn/mail-triage/model"
)

// BenchmarkCheck_Candidate benchmarks the fixed rules on a message that passes all of them
func BenchmarkCheck_Candidate(b *testing.B) {
	msg := model.Message{From: "jane.doe@customer-company.com", Precedence: "first-class"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Check(msg)
	}
}

// BenchmarkFilter_Check_WithExcludePatterns benchmarks with multiple sender patterns
func BenchmarkFilter_Check_WithExcludePatterns(b *testing.B) {
	patterns := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		patterns = append(patterns, fmt.Sprintf(`@partner%d\.example$`, i))
	}
	f, err := New(Options{ExcludeSender: patterns})
	if err != nil {
		b.Fatal(err)
	}
	msg := model.Message{From: "jane.doe@customer-company.com"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}
