package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"resolve-bridge/internal/config"
	"resolve-bridge/internal/resolve"
	"resolve-bridge/internal/worker"
)

type binsData struct {
	Result  bool     `json:"result"`
	Created []string `json:"created"`
	Failed  []string `json:"failed"`
}

// handleCreateProjectBins creates a two-level folder structure under the
// media pool root. Folders that fail to create are logged and reported.
func (s *Service) handleCreateProjectBins(_ context.Context, call *worker.Call) (any, error) {
	project, err := currentProject(call)
	if err != nil {
		return nil, err
	}

	bins, ok := NormalizeBins(call.Request.Field("bins_structure"))
	if !ok {
		bins = s.Settings().Commands.BinsStructure
	}

	res := &binsData{Result: true, Created: []string{}, Failed: []string{}}
	err = resolve.Guard("create bins", func() error {
		pool, err := project.GetMediaPool()
		if err != nil {
			return err
		}
		var root resolve.Folder
		if pool != nil {
			if root, err = pool.GetRootFolder(); err != nil {
				return err
			}
		}
		if root == nil {
			return errors.New("Could not retrieve the root folder of the Media Pool")
		}

		call.Log.Logf("Starting project bin generation")
		for _, bin := range bins {
			folder, err := pool.AddSubFolder(root, bin.Name)
			if err != nil || folder == nil {
				call.Log.Logf("Failed to create bin: %s", bin.Name)
				res.Failed = append(res.Failed, bin.Name)
				continue
			}
			call.Log.Logf("Created bin: %s", bin.Name)
			res.Created = append(res.Created, bin.Name)

			for _, child := range bin.Children {
				path := bin.Name + "/" + child
				sub, err := pool.AddSubFolder(folder, child)
				if err != nil || sub == nil {
					call.Log.Logf("    Failed to create sub-bin: %s", child)
					res.Failed = append(res.Failed, path)
					continue
				}
				call.Log.Logf("    Created sub-bin: %s", child)
				res.Created = append(res.Created, path)
			}
		}
		call.Log.Logf("Project bin structure creation complete.")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// NormalizeBins reads a {"BIN": ["SUB", ...]} object, keeping key order.
// Non-list children become empty, non-string children are dropped and a
// repeated key keeps its first position with the last value. It reports
// false when raw is not an object or yields no bins.
func NormalizeBins(raw json.RawMessage) ([]config.Bin, bool) {
	if !present(raw) {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, false
	}

	var bins []config.Bin
	index := map[string]int{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		name, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, false
		}
		children := []string{}
		var list []any
		if err := json.Unmarshal(value, &list); err == nil {
			for _, item := range list {
				if s, ok := item.(string); ok {
					children = append(children, s)
				}
			}
		}

		if i, seen := index[name]; seen {
			bins[i].Children = children
			continue
		}
		index[name] = len(bins)
		bins = append(bins, config.Bin{Name: name, Children: children})
	}
	if len(bins) == 0 {
		return nil, false
	}
	return bins, true
}
