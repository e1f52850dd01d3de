package config

import (
	"fmt"
	"os"

	"github.com/itstheanurag/codejudge/internal/model"
	"gopkg.in/yaml.v3"
)

type problemFile struct {
	Problems []*model.Problem `yaml:"problems"`
}

// LoadProblems reads a problem seed file:
//
//	problems:
//	  - id: 1
//	    title: Echo
//	    input_example: "hello"
//	    output_example: "hello"
func LoadProblems(path string) ([]*model.Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problems file %s: %w", path, err)
	}

	var pf problemFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse problems file %s: %w", path, err)
	}

	seen := make(map[int64]bool, len(pf.Problems))
	for i, p := range pf.Problems {
		if p == nil || p.ID <= 0 {
			return nil, fmt.Errorf("problem #%d: id must be positive", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("problem %d: duplicate id", p.ID)
		}
		seen[p.ID] = true
	}
	return pf.Problems, nil
}
