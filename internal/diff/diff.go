// Package diff computes line-level differences between two text blobs.
// Compute is pure and deterministic; the history viewer runs it on demand
// over snapshot pairs.
package diff

import "strings"

// LineType classifies a line in a diff result.
type LineType string

const (
	Added     LineType = "added"
	Removed   LineType = "removed"
	Unchanged LineType = "unchanged"
)

// Line is one row of a computed diff. Numbers are nil on the side the line
// does not exist on: OldNumber for added lines, NewNumber for removed ones.
type Line struct {
	Type      LineType `json:"type"`
	Content   string   `json:"content"`
	OldNumber *int     `json:"lineNumberOld"`
	NewNumber *int     `json:"lineNumberNew"`
}

// Stats aggregates line counts per category.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Result is an ordered edit script between two texts. Concatenating the
// unchanged+removed lines reproduces the old text's lines in order;
// unchanged+added reproduces the new text's.
type Result struct {
	Lines []Line `json:"lines"`
	Stats Stats  `json:"stats"`
}

// Compute diffs oldText against newText at line granularity using a
// longest-common-subsequence alignment.
func Compute(oldText, newText string) Result {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	// dp[i][j] holds the LCS length of oldLines[i:] and newLines[j:].
	n, m := len(oldLines), len(newLines)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldLines[i] == newLines[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var res Result
	oldNum, newNum := 1, 1
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case oldLines[i] == newLines[j]:
			res.Lines = append(res.Lines, Line{
				Type:      Unchanged,
				Content:   oldLines[i],
				OldNumber: intPtr(oldNum),
				NewNumber: intPtr(newNum),
			})
			res.Stats.Unchanged++
			oldNum++
			newNum++
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			res.Lines = append(res.Lines, Line{
				Type:      Removed,
				Content:   oldLines[i],
				OldNumber: intPtr(oldNum),
			})
			res.Stats.Removed++
			oldNum++
			i++
		default:
			res.Lines = append(res.Lines, Line{
				Type:      Added,
				Content:   newLines[j],
				NewNumber: intPtr(newNum),
			})
			res.Stats.Added++
			newNum++
			j++
		}
	}
	for ; i < n; i++ {
		res.Lines = append(res.Lines, Line{
			Type:      Removed,
			Content:   oldLines[i],
			OldNumber: intPtr(oldNum),
		})
		res.Stats.Removed++
		oldNum++
	}
	for ; j < m; j++ {
		res.Lines = append(res.Lines, Line{
			Type:      Added,
			Content:   newLines[j],
			NewNumber: intPtr(newNum),
		})
		res.Stats.Added++
		newNum++
	}
	return res
}

// splitLines splits on newline and drops the trailing empty element a
// terminal newline produces, so "a\n" is one line, not two.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func intPtr(n int) *int { return &n }
