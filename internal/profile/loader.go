package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// LoadDir reads every *.json profile in a directory, validates each,
// and returns them keyed by id. Any malformed profile fails the load.
func LoadDir(dir string, logger *zap.Logger) (map[string]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	profiles := make(map[string]*Profile, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", f, err)
		}
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse profile %s: %w", f, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", f, err)
		}
		if _, dup := profiles[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile id %s in %s", p.ID, f)
		}
		profiles[p.ID] = &p
		logger.Info("profile loaded",
			zap.String("id", p.ID),
			zap.String("name", p.Name),
			zap.String("role", string(p.Role)))
	}

	// Connections must reference loaded villagers.
	for _, p := range profiles {
		for _, conn := range p.SocialConnections {
			if _, ok := profiles[conn]; !ok {
				return nil, fmt.Errorf("profile %s: unknown connection %s", p.ID, conn)
			}
		}
	}
	return profiles, nil
}
