package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"resolve-bridge/internal/resolve"
	"resolve-bridge/internal/worker"
)

const (
	defaultMarkerColor = "Blue"
	trackVideo         = "video"
	inputStyledText    = "StyledText"
	inputText          = "Text"
)

// handleAddMarker places a marker at the explicit timecode, else at the
// explicit frame, else at the playhead. A frame that is not an integer falls
// back to the playhead.
func (s *Service) handleAddMarker(_ context.Context, call *worker.Call) (any, error) {
	_, tl, err := currentTimeline(call)
	if err != nil {
		return nil, err
	}

	var p struct {
		Timecode   json.RawMessage `json:"timecode"`
		Frame      json.RawMessage `json:"frame"`
		Color      *string         `json:"color"`
		Name       *string         `json:"name"`
		Note       *string         `json:"note"`
		Duration   json.RawMessage `json:"duration"`
		CustomData *string         `json:"custom_data"`
	}
	if err := call.Request.Decode(&p); err != nil {
		return nil, err
	}
	duration, err := intOr(p.Duration, 1, "duration")
	if err != nil {
		return nil, err
	}

	marker := resolve.Marker{
		Color:      stringOr(p.Color, defaultMarkerColor),
		Name:       stringOr(p.Name, ""),
		Note:       stringOr(p.Note, ""),
		Duration:   duration,
		CustomData: stringOr(p.CustomData, ""),
	}

	var ok bool
	err = resolve.Guard("add marker", func() error {
		if tc, has := textValue(p.Timecode); has {
			marker.Timecode = tc
		} else if frame, ferr := intValue(p.Frame); present(p.Frame) && ferr == nil {
			marker.Timecode = resolve.FramesToTimecode(frame, resolve.TimelineFrameRate(tl))
		} else {
			tc, err := tl.GetCurrentTimecode()
			if err != nil {
				return fmt.Errorf("read playhead: %w", err)
			}
			marker.Timecode = tc
		}
		var err error
		ok, err = tl.AddMarker(marker)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resultData{Result: ok}, nil
}

// handleGoto moves the playhead to a timecode or frame.
func (s *Service) handleGoto(_ context.Context, call *worker.Call) (any, error) {
	_, tl, err := currentTimeline(call)
	if err != nil {
		return nil, err
	}

	var p struct {
		Timecode json.RawMessage `json:"timecode"`
		Frame    json.RawMessage `json:"frame"`
	}
	if err := call.Request.Decode(&p); err != nil {
		return nil, err
	}

	var tc string
	switch text, has := textValue(p.Timecode); {
	case has:
		tc = text
	case present(p.Frame):
		frame, err := intValue(p.Frame)
		if err != nil {
			return nil, errors.New("Invalid frame")
		}
		tc = resolve.FramesToTimecode(frame, resolve.TimelineFrameRate(tl))
	default:
		return nil, errors.New("No timecode or frame provided")
	}

	call.Log.Logf("Goto: requesting playhead move to %s", tc)
	var moved bool
	if err := resolve.Guard("set timecode", func() error {
		var err error
		moved, err = tl.SetCurrentTimecode(tc)
		return err
	}); err != nil {
		log.Printf("goto %s: %v", tc, err)
		moved = false
	}
	if moved {
		call.Log.Logf("Goto: playhead moved to %s", tc)
	} else {
		call.Log.Logf("Goto: failed to move playhead to %s", tc)
	}
	return resultData{Result: moved}, nil
}

// TextItem is one on-screen text found by spellcheck.
type TextItem struct {
	Track      int    `json:"track"`
	Clip       string `json:"clip"`
	Tool       string `json:"tool"`
	ToolID     string `json:"tool_id"`
	Timecode   string `json:"timecode"`
	StartFrame int    `json:"start_frame"`
	Text       string `json:"text"`
}

type spellcheckData struct {
	Items []TextItem `json:"items"`
}

// handleSpellcheck collects the text of every Text+ and Text3D tool in the
// compositions attached to video track items. Items that fail to read are
// skipped.
func (s *Service) handleSpellcheck(_ context.Context, call *worker.Call) (any, error) {
	_, tl, err := currentTimeline(call)
	if err != nil {
		return nil, err
	}
	fps := resolve.TimelineFrameRate(tl)

	var tracks int
	if err := resolve.Guard("track count", func() error {
		var err error
		tracks, err = tl.GetTrackCount(trackVideo)
		return err
	}); err != nil {
		return nil, err
	}

	found := []TextItem{}
	for track := 1; track <= tracks; track++ {
		var items []resolve.TimelineItem
		if err := resolve.Guard("list items", func() error {
			var err error
			items, err = tl.GetItemListInTrack(trackVideo, track)
			return err
		}); err != nil {
			log.Printf("spellcheck: track %d: %v", track, err)
			continue
		}

		for _, item := range items {
			err := resolve.Guard("read item", func() error {
				texts, err := itemTexts(item, track, fps)
				found = append(found, texts...)
				return err
			})
			if err != nil {
				log.Printf("spellcheck: track %d: %v", track, err)
			}
		}
	}
	return spellcheckData{Items: found}, nil
}

func itemTexts(item resolve.TimelineItem, track int, fps float64) ([]TextItem, error) {
	start, err := item.GetStart()
	if err != nil {
		return nil, err
	}
	clip, err := item.GetName()
	if err != nil {
		return nil, err
	}
	comps, err := item.GetFusionComps()
	if err != nil {
		return nil, err
	}

	var out []TextItem
	tc := resolve.FramesToTimecode(start, fps)
	for _, comp := range comps {
		tools, err := comp.GetToolList()
		if err != nil {
			return out, err
		}
		for _, name := range sortedKeys(tools) {
			tool := tools[name]
			id, err := tool.ID()
			if err != nil {
				continue
			}
			for _, text := range toolTexts(comp, tool, id) {
				out = append(out, TextItem{
					Track:      track,
					Clip:       clip,
					Tool:       name,
					ToolID:     id,
					Timecode:   tc,
					StartFrame: start,
					Text:       text,
				})
			}
		}
	}
	return out, nil
}

// textInputs returns the inputs holding text for a tool registration id.
func textInputs(id string) []string {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "textplus"), strings.Contains(lower, "text+"):
		return []string{inputStyledText}
	case strings.Contains(lower, "text3d"):
		return []string{inputText, inputStyledText}
	}
	return nil
}

func toolTexts(comp resolve.FusionComp, tool resolve.Tool, id string) []string {
	var texts []string
	for _, input := range textInputs(id) {
		v, err := tool.GetInput(input)
		if err != nil || v == nil {
			continue
		}
		// Animated inputs come back keyed by frame.
		if keyed, ok := v.(map[string]any); ok {
			frame, err := comp.CurrentTime()
			if err != nil {
				continue
			}
			v = keyed[strconv.Itoa(frame)]
			if v == nil {
				continue
			}
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			texts = append(texts, s)
		}
	}
	return texts
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// handleUpdateText overwrites the styled text of the tool named tool_name in
// the item starting at start_frame on video track track.
func (s *Service) handleUpdateText(_ context.Context, call *worker.Call) (any, error) {
	_, tl, err := currentTimeline(call)
	if err != nil {
		return nil, err
	}

	var p struct {
		Track      json.RawMessage `json:"track"`
		StartFrame json.RawMessage `json:"start_frame"`
		ToolName   string          `json:"tool_name"`
		Text       string          `json:"text"`
	}
	if err := call.Request.Decode(&p); err != nil {
		return nil, err
	}
	track, err := intOr(p.Track, 0, "track")
	if err != nil {
		return nil, err
	}
	startFrame, err := intOr(p.StartFrame, 0, "start_frame")
	if err != nil {
		return nil, err
	}

	var updated bool
	err = resolve.Guard("update text", func() error {
		items, err := tl.GetItemListInTrack(trackVideo, track)
		if err != nil {
			return err
		}
		var target resolve.TimelineItem
		for _, item := range items {
			start, err := item.GetStart()
			if err == nil && start == startFrame {
				target = item
				break
			}
		}
		if target == nil {
			call.Log.Logf("No item starts at frame %d on track %d", startFrame, track)
			return nil
		}

		comps, err := target.GetFusionComps()
		if err != nil {
			return err
		}
		for _, comp := range comps {
			tools, err := comp.GetToolList()
			if err != nil {
				continue
			}
			tool, ok := tools[p.ToolName]
			if !ok {
				continue
			}
			updated, err = tool.SetInput(inputStyledText, p.Text)
			return err
		}
		call.Log.Logf("Tool '%s' not found", p.ToolName)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resultData{Result: updated}, nil
}
