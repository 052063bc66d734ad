package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/star/azeltrack/internal/sgp4"
)

// Parse reads NORAD element sets from r. Both the 3-line form (name line
// followed by lines 1 and 2, the name optionally prefixed "0 ") and bare
// 2-line pairs are accepted; a bare pair is named by its catalog number.
// Malformed entries are skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n \t")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	isLine := func(i int, n byte) bool {
		return i < len(lines) && len(lines[i]) > 1 && lines[i][0] == n && lines[i][1] == ' '
	}

	var entries []Entry
	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case isLine(i, '1') && isLine(i+1, '2'):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case isLine(i+1, '1') && isLine(i+2, '2'):
			name = strings.TrimSpace(strings.TrimPrefix(lines[i], "0 "))
			line1, line2 = lines[i+1], lines[i+2]
			i += 3
		default:
			logger.Warn("skipping malformed TLE entry", "line_index", i, "line", lines[i])
			i++
			continue
		}

		el, err := sgp4.ParseElements(line1, line2)
		if err != nil {
			logger.Warn("skipping invalid TLE entry", "name", name, "error", err)
			continue
		}
		if name == "" {
			name = strconv.Itoa(el.CatalogNumber)
		}

		entries = append(entries, Entry{
			CatalogNumber: el.CatalogNumber,
			Name:          name,
			Epoch:         el.Epoch(),
			Line1:         el.Line1,
			Line2:         el.Line2,
		})
	}

	return entries, nil
}
