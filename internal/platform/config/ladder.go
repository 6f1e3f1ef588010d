package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Ladder describes the renditions of the served video, lowest bitrate first.
//
//	qualities:
//	  - resource: /video6
//	    bitrate: 300
//	  - resource: /video5
//	    bitrate: 750
type Ladder struct {
	Qualities []Rendition `yaml:"qualities"`
}

// Rendition is one rung of the ladder. Bitrate is in kbps.
type Rendition struct {
	Resource string `yaml:"resource"`
	Bitrate  int    `yaml:"bitrate"`
}

// Bitrates returns the bitrate of every rung in file order.
func (l Ladder) Bitrates() []int {
	out := make([]int, 0, len(l.Qualities))
	for _, q := range l.Qualities {
		out = append(out, q.Bitrate)
	}
	return out
}

// LoadLadder reads a YAML ladder from path.
func LoadLadder(path string) (Ladder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Ladder{}, fmt.Errorf("read ladder %q: %w", path, err)
	}

	var l Ladder
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Ladder{}, fmt.Errorf("parse ladder %q: %w", path, err)
	}
	if len(l.Qualities) == 0 {
		return Ladder{}, errors.New("ladder has no qualities")
	}
	for i, q := range l.Qualities {
		if q.Bitrate <= 0 {
			return Ladder{}, fmt.Errorf("ladder quality %d: bitrate must be positive", i+1)
		}
	}
	return l, nil
}
