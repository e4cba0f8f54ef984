package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"resolve-bridge/internal/config"
	"resolve-bridge/internal/resolve"
	"resolve-bridge/internal/worker"
)

const settingTargetDir = "TargetDir"

// handleStartRender queues a job from the current deliver settings when the
// queue is empty, then starts rendering.
func (s *Service) handleStartRender(_ context.Context, call *worker.Call) (any, error) {
	project, err := currentProject(call)
	if err != nil {
		return nil, err
	}
	var ok bool
	err = resolve.Guard("start render", func() error {
		jobs, err := project.GetRenderJobList()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			id, err := project.AddRenderJob()
			if err != nil {
				return err
			}
			if id == "" {
				call.Log.Logf("Could not add a render job from the current settings")
			}
		}
		ok, err = project.StartRendering()
		return err
	})
	if err != nil {
		return nil, err
	}
	return resultData{Result: ok}, nil
}

func (s *Service) handleStopRender(_ context.Context, call *worker.Call) (any, error) {
	project, err := currentProject(call)
	if err != nil {
		return nil, err
	}
	var ok bool
	err = resolve.Guard("stop render", func() error {
		var err error
		ok, err = project.StopRendering()
		return err
	})
	if err != nil {
		return nil, err
	}
	return resultData{Result: ok}, nil
}

// SkippedTimeline is a matched timeline that was not queued.
type SkippedTimeline struct {
	Timeline string `json:"timeline"`
	Reason   string `json:"reason"`
}

type exportData struct {
	Result  bool              `json:"result"`
	Jobs    [][2]string       `json:"jobs"`
	Skipped []SkippedTimeline `json:"skipped"`
}

// handleLPBaseExport queues a render job for every timeline whose name
// matches a clip in the export bin.
func (s *Service) handleLPBaseExport(ctx context.Context, call *worker.Call) (any, error) {
	project, err := currentProject(call)
	if err != nil {
		return nil, err
	}

	opts := s.Settings().Commands.Export
	var p struct {
		BinName       *string `json:"bin_name"`
		PresetName    *string `json:"preset_name"`
		Strict        *bool   `json:"strict"`
		AutoCreateDir *bool   `json:"auto_create_dir"`
		DefaultDir    *string `json:"default_dir"`
	}
	if err := call.Request.Decode(&p); err != nil {
		return nil, err
	}
	opts.BinName = stringOr(p.BinName, opts.BinName)
	opts.Preset = stringOr(p.PresetName, opts.Preset)
	opts.DefaultDir = stringOr(p.DefaultDir, opts.DefaultDir)
	if p.Strict != nil {
		opts.Strict = *p.Strict
	}
	if p.AutoCreateDir != nil {
		opts.AutoCreateDir = *p.AutoCreateDir
	}

	var res *exportData
	err = resolve.Guard("lp_base_export", func() error {
		var err error
		res, err = s.export(ctx, call.Log, project, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) export(ctx context.Context, log worker.Logger, project resolve.Project, opts config.ExportConfig) (*exportData, error) {
	res := &exportData{Jobs: [][2]string{}, Skipped: []SkippedTimeline{}}

	pool, err := project.GetMediaPool()
	if err != nil {
		return nil, err
	}
	var root resolve.Folder
	if pool != nil {
		if root, err = pool.GetRootFolder(); err != nil {
			return nil, err
		}
	}
	if root == nil {
		return nil, errors.New("Could not retrieve the root folder of the Media Pool")
	}

	bin, err := findSubFolder(root, opts.BinName)
	if err != nil {
		return nil, err
	}
	if bin == nil {
		return nil, fmt.Errorf("The '%s' bin was not found in the Media Pool", opts.BinName)
	}
	if _, err := pool.SetCurrentFolder(bin); err != nil {
		return nil, err
	}

	clips, err := bin.GetClipList()
	if err != nil {
		return nil, err
	}
	if len(clips) == 0 {
		log.Logf("No media pool items found in '%s' bin.", opts.BinName)
		return res, nil
	}
	names := make(map[string]bool, len(clips))
	for _, clip := range clips {
		name, err := clip.GetName()
		if err != nil {
			continue
		}
		log.Logf(" - %s", name)
		names[name] = true
	}

	matched, err := matchTimelines(project, names, log)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		log.Logf("No matching timelines found based on names in '%s' bin.", opts.BinName)
		return res, nil
	}

	for _, m := range matched {
		skip := func(reason string) {
			res.Skipped = append(res.Skipped, SkippedTimeline{Timeline: m.name, Reason: reason})
		}

		if ok, err := project.SetCurrentTimeline(m.timeline); err != nil || !ok {
			log.Logf("Error: Failed to switch to timeline '%s'.", m.name)
			skip("could not switch to timeline")
			continue
		}
		if err := s.sleep(ctx, opts.SwitchDelay); err != nil {
			return nil, err
		}

		if ok, err := project.LoadRenderPreset(opts.Preset); err != nil || !ok {
			log.Logf("Error: Failed to load export preset '%s' for timeline '%s'.", opts.Preset, m.name)
			skip(fmt.Sprintf("failed to load export preset '%s'", opts.Preset))
			continue
		}

		target, err := validateRenderDir(project, opts)
		if err != nil {
			log.Logf("[SKIP] Timeline '%s': %s", m.name, err)
			skip(err.Error())
			if opts.Strict {
				log.Logf("Aborting batch due to invalid render path.")
				break
			}
			continue
		}
		log.Logf("Render path OK for '%s': %s", m.name, target)

		jobID, err := project.AddRenderJob()
		if err != nil || jobID == "" {
			log.Logf("Error: Failed to add timeline '%s' to the render queue.", m.name)
			skip("failed to add render job")
			continue
		}
		log.Logf("Added timeline '%s' to render queue. Job ID: %s.", m.name, jobID)
		res.Jobs = append(res.Jobs, [2]string{m.name, jobID})
	}

	if len(res.Jobs) == 0 {
		log.Logf("No render jobs were added.")
	} else {
		for _, j := range res.Jobs {
			log.Logf("Timeline: %s, Job ID: %s", j[0], j[1])
		}
	}
	log.Logf("Finished processing all matched timelines.")
	res.Result = true
	return res, nil
}

type namedTimeline struct {
	name     string
	timeline resolve.Timeline
}

func matchTimelines(project resolve.Project, names map[string]bool, log worker.Logger) ([]namedTimeline, error) {
	count, err := project.GetTimelineCount()
	if err != nil {
		return nil, err
	}
	var matched []namedTimeline
	for i := 1; i <= count; i++ {
		tl, err := project.GetTimelineByIndex(i)
		if err != nil || tl == nil {
			continue
		}
		name, err := tl.GetName()
		if err != nil {
			continue
		}
		if names[name] {
			matched = append(matched, namedTimeline{name: name, timeline: tl})
			log.Logf("Matched timeline: %s", name)
		}
	}
	return matched, nil
}

func findSubFolder(parent resolve.Folder, name string) (resolve.Folder, error) {
	subs, err := parent.GetSubFolderList()
	if err != nil {
		return nil, err
	}
	for _, f := range subs {
		n, err := f.GetName()
		if err == nil && n == name {
			return f, nil
		}
	}
	return nil, nil
}

// validateRenderDir checks the render target directory, applying the
// configured default and creating it when allowed. It returns the usable
// directory or an error describing why it cannot be used.
func validateRenderDir(project resolve.Project, opts config.ExportConfig) (string, error) {
	settings, err := project.GetRenderSettings()
	if err != nil {
		return "", err
	}
	target := ""
	if v, ok := settings[settingTargetDir].(string); ok {
		target = strings.TrimSpace(v)
	}

	if opts.DefaultDir != "" {
		if _, err := project.SetRenderSettings(map[string]any{settingTargetDir: opts.DefaultDir}); err != nil {
			return "", err
		}
		target = opts.DefaultDir
	}

	if target == "" {
		return "", errors.New("Render path missing (TargetDir not set).")
	}

	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		if !opts.AutoCreateDir {
			return "", fmt.Errorf("Render path does not exist: %s", target)
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return "", fmt.Errorf("Render path does not exist and could not be created: %s", target)
		}
	}

	if !writableDir(target) {
		return "", fmt.Errorf("Render path is not writable: %s", target)
	}
	return target, nil
}

func writableDir(path string) bool {
	f, err := os.CreateTemp(path, "lp_rw_test_")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
