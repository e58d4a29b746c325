package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// loadKeywordsFile reads the optional category-keywords JSON file: an object
// mapping category slug to alias list. The file is produced offline; we only
// consume it.
func loadKeywordsFile(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string][]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing keywords file: %w", err)
	}
	for slug, aliases := range out {
		cleaned := aliases[:0]
		for _, a := range aliases {
			if a != "" {
				cleaned = append(cleaned, a)
			}
		}
		out[slug] = cleaned
	}
	return out, nil
}
