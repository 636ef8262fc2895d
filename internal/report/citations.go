package report

import (
	"fmt"
	"strconv"
	"strings"

	"foldwarden/internal/literature"
)

const maxSimilar = 5

// WorksCited renders the numbered citation section for the papers the
// narrative actually cited. Numbering runs over the full paper list so
// the entries match the [N] markers in the narrative text.
func WorksCited(papers []literature.Paper, used []int, relevance map[int]string) string {
	if len(papers) == 0 || len(used) == 0 {
		return "## Works Cited\n\nNo citations."
	}

	usedSet := make(map[int]bool, len(used))
	for _, n := range used {
		usedSet[n] = true
	}

	lines := []string{"## Works Cited", ""}
	for i, p := range papers {
		n := i + 1
		if !usedSet[n] {
			continue
		}
		lines = append(lines, citationEntry(p, n, relevance[n]), "")
	}
	return strings.Join(lines, "\n")
}

// SimilarResearch renders links to the first uncited papers, so a
// reader can keep going past what the narrative picked up.
func SimilarResearch(papers []literature.Paper, used []int) string {
	usedSet := make(map[int]bool, len(used))
	for _, n := range used {
		usedSet[n] = true
	}

	var similar []literature.Paper
	for i, p := range papers {
		if !usedSet[i+1] {
			similar = append(similar, p)
		}
		if len(similar) >= maxSimilar {
			break
		}
	}
	if len(similar) == 0 {
		return ""
	}

	lines := []string{"## Similar Research", ""}
	for _, p := range similar {
		author := p.FirstAuthor
		if author == "" {
			author = "Unknown"
		}
		year := "n.d."
		if p.Year != 0 {
			year = strconv.Itoa(p.Year)
		}
		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		lines = append(lines, fmt.Sprintf("- %s et al. (%s). %s [PubMed](%s)", author, year, title, p.URL()))
	}
	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func citationEntry(p literature.Paper, number int, relevance string) string {
	var authorYear string
	switch {
	case p.FirstAuthor != "" && p.Year != 0:
		authorYear = fmt.Sprintf("%s et al. (%d)", p.FirstAuthor, p.Year)
	case p.FirstAuthor != "":
		authorYear = p.FirstAuthor + " et al. (n.d.)"
	case p.Year != 0:
		authorYear = fmt.Sprintf("Anonymous (%d)", p.Year)
	default:
		pmid := p.PMID
		if pmid == "" {
			pmid = "?"
		}
		authorYear = "Anonymous (PMID:" + pmid + ")"
	}

	title := strings.TrimSpace(p.Title)
	if title != "" && !strings.HasSuffix(title, ".") {
		title += "."
	}

	journal := strings.TrimSpace(p.Journal)
	if journal == "" {
		journal = "Unknown Journal"
	}
	if !strings.HasSuffix(journal, ".") {
		journal += "."
	}

	links := fmt.Sprintf("[PubMed](%s)", p.URL())
	if p.DOI != "" {
		links += fmt.Sprintf(" [DOI](https://doi.org/%s)", p.DOI)
	}

	entry := fmt.Sprintf("[%d] %s. %s %s %s", number, authorYear, title, journal, links)
	if relevance != "" {
		entry += "\n*Relevance: " + relevance + "*"
	}
	return entry
}
